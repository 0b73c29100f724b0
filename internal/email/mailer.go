// Package email delivers password-reset mail. Delivery is treated as an
// opaque, best-effort capability: callers fire it off the critical path and a
// failure never fails the originating request.
package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/inkwell/inkwell-auth/internal/config"
)

// Mailer sends a message to a single recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer sends through a plain SMTP relay.
type SMTPMailer struct {
	addr string
	auth smtp.Auth
	from string
}

var _ Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer builds a mailer from config. With no SMTP host configured it
// returns a NopMailer so the reset flow stays usable in development.
func NewSMTPMailer(cfg config.Config) Mailer {
	if cfg.SMTPHost == "" {
		return NopMailer{}
	}
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		auth: auth,
		from: cfg.SMTPFrom,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", m.from, to, subject, body)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(m.addr, m.auth, m.from, []string{to}, []byte(msg))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NopMailer drops every message.
type NopMailer struct{}

func (NopMailer) Send(context.Context, string, string, string) error { return nil }
