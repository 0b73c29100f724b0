package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/inkwell/inkwell-auth/internal/config"
	"github.com/inkwell/inkwell-auth/internal/domain"
	"github.com/inkwell/inkwell-auth/internal/repository"
)

const (
	clientIDBytes     = 32
	clientSecretBytes = 64
)

// EnsureClients provisions the static client allow-list at startup. Existing
// clients are left untouched; credentials are generated once and never
// rotated here.
func EnsureClients(lc fx.Lifecycle, cfg config.Config, clients repository.ClientRepository, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureClients(ctx, cfg, clients, node, logger)
		},
	})
}

func ensureClients(ctx context.Context, cfg config.Config, clients repository.ClientRepository, node *snowflake.Node, logger *zap.Logger) error {
	for _, name := range cfg.Clients {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		if _, err := clients.GetByName(ctx, name); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("bootstrap lookup client %q: %w", name, err)
		}

		clientID, err := randomHex(clientIDBytes)
		if err != nil {
			return err
		}
		clientSecret, err := randomHex(clientSecretBytes)
		if err != nil {
			return err
		}

		created, err := clients.Create(ctx, domain.AuthorizationClient{
			ID:           node.Generate().Int64(),
			Name:         name,
			ClientID:     clientID,
			ClientSecret: clientSecret,
		})
		if err != nil {
			return fmt.Errorf("bootstrap create client %q: %w", name, err)
		}

		if logger != nil {
			logger.Info("bootstrap client created",
				zap.String("name", created.Name),
				zap.String("client_id", created.ClientID),
			)
		}
	}
	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate client credential: %w", err)
	}
	return hex.EncodeToString(b), nil
}
