package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/inkwell/inkwell-auth/internal/config"
	"github.com/inkwell/inkwell-auth/internal/domain"
	"github.com/inkwell/inkwell-auth/internal/email"
	"github.com/inkwell/inkwell-auth/internal/otp"
	pw "github.com/inkwell/inkwell-auth/internal/password"
	"github.com/inkwell/inkwell-auth/internal/repository"
	"github.com/inkwell/inkwell-auth/internal/token"
)

// TokenPair is the access/refresh pair handed to the client after code
// redemption and after every rotation.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Principal identifies the caller resolved from an access token.
type Principal struct {
	UserID   int64
	FamilyID int64
}

const mailTimeout = 10 * time.Second

// AuthService owns the token lifecycle: the two-step login exchange, refresh
// rotation with reuse detection, and the password-reset flow.
type AuthService struct {
	users    repository.UserRepository
	clients  repository.ClientRepository
	families repository.FamilyRepository
	tokens   repository.TokenRepository
	resets   repository.ResetStore
	node     *snowflake.Node
	codec    *token.Codec
	mailer   email.Mailer
	cfg      config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(
	users repository.UserRepository,
	clients repository.ClientRepository,
	families repository.FamilyRepository,
	tokens repository.TokenRepository,
	resets repository.ResetStore,
	node *snowflake.Node,
	codec *token.Codec,
	mailer email.Mailer,
	cfg config.Config,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		clients:  clients,
		families: families,
		tokens:   tokens,
		resets:   resets,
		node:     node,
		codec:    codec,
		mailer:   mailer,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/inkwell/inkwell-auth/internal/service"),
	}
}

// Login validates client and user credentials and issues a single-use
// exchange code bound to a fresh token family. Every failure collapses into
// ErrInvalidCredentials so callers cannot probe which part was wrong.
func (s *AuthService) Login(ctx context.Context, clientID, emailAddr, password string) (string, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	client, err := s.clients.GetByClientID(ctx, clientID)
	if err != nil {
		return "", domain.ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(emailAddr)))
	if err != nil {
		return "", domain.ErrInvalidCredentials
	}

	valid, err := pw.Verify(password, user.PasswordHash)
	if err != nil || !valid || !user.Enabled || !user.LoginPermitted {
		return "", domain.ErrInvalidCredentials
	}

	family, err := s.families.Create(ctx, domain.TokenFamily{ID: s.node.Generate().Int64(), UserID: user.ID})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("create token family: %w", err)
	}

	code, err := s.codec.Issue(token.CategoryCode, token.CodeClaims{
		ClientID: client.ClientID,
		UserID:   user.ID,
		FamilyID: family.ID,
	}, s.cfg.CodeTokenTTL)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("issue exchange code: %w", err)
	}

	if _, err := s.tokens.Create(ctx, domain.Token{
		ID:       s.node.Generate().Int64(),
		Type:     domain.TokenTypeCode,
		FamilyID: family.ID,
		Value:    code,
		Valid:    true,
	}); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("persist exchange code: %w", err)
	}

	s.audit("login.code_issued", "user_id", user.ID, "family_id", family.ID)
	return code, nil
}

// ExchangeCode redeems an exchange code for the family's initial token pair.
// The persisted code row is claimed with a conditional delete before the pair
// is issued, so concurrent redemptions of one code produce exactly one pair.
func (s *AuthService) ExchangeCode(ctx context.Context, code, clientSecret string) (*TokenPair, error) {
	ctx, span := s.startSpan(ctx, "AuthService.ExchangeCode")
	defer span.End()

	var claims token.CodeClaims
	if err := s.codec.Verify(token.CategoryCode, code, &claims); err != nil {
		// An unverifiable code can never be redeemed; drop any stored
		// record of it.
		if _, delErr := s.tokens.ConsumeCode(ctx, code); delErr != nil && !errors.Is(delErr, domain.ErrNotFound) {
			span.RecordError(delErr)
		}
		return nil, domain.ErrInvalidOrExpiredCode
	}

	record, err := s.tokens.GetByValue(ctx, domain.TokenTypeCode, code)
	if err != nil {
		return nil, domain.ErrInvalidOrExpiredCode
	}

	client, err := s.clients.GetByClientID(ctx, claims.ClientID)
	if err != nil {
		return nil, domain.ErrInvalidOrExpiredCode
	}
	// A wrong secret leaves the code redeemable so the client may retry
	// with the right one before it expires.
	if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(clientSecret)) != 1 {
		return nil, domain.ErrInvalidClientSecret
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, domain.ErrInvalidOrExpiredCode
	}

	if _, err := s.tokens.ConsumeCode(ctx, code); err != nil {
		// Lost the redemption race or the family was revoked meanwhile.
		return nil, domain.ErrInvalidOrExpiredCode
	}

	pair, err := s.issuePair(ctx, user.ID, record.FamilyID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidOrExpiredToken) {
			return nil, domain.ErrInvalidOrExpiredCode
		}
		span.RecordError(err)
		return nil, err
	}

	s.audit("login.code_redeemed", "user_id", user.ID, "family_id", record.FamilyID)
	return pair, nil
}

// Rotate validates a refresh token and exchanges it for a new pair. The spent
// token row stays behind with is_valid=false; presenting it again is treated
// as theft and revokes the whole family.
func (s *AuthService) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Rotate")
	defer span.End()

	record, err := s.tokens.GetByValue(ctx, domain.TokenTypeRefresh, refreshToken)
	if err != nil {
		return nil, domain.ErrInvalidOrExpiredToken
	}

	var claims token.SessionClaims
	if err := s.codec.Verify(token.CategoryRefresh, refreshToken, &claims); err != nil {
		// Fail closed: a token that does not verify can never be
		// trusted, whatever its row says.
		if delErr := s.tokens.Delete(ctx, record.ID); delErr != nil && !errors.Is(delErr, domain.ErrNotFound) {
			span.RecordError(delErr)
		}
		return nil, domain.ErrInvalidOrExpiredToken
	}

	if !record.Valid {
		return nil, s.revokeFamilyOnReuse(ctx, span, record.FamilyID, claims.UserID)
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, domain.ErrInvalidOrExpiredToken
	}

	// The tombstone write doubles as the serialization point: of two
	// concurrent rotations of one still-valid token only one flips the
	// flag, the loser observes reuse.
	if err := s.tokens.Invalidate(ctx, record.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, s.revokeFamilyOnReuse(ctx, span, record.FamilyID, claims.UserID)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("tombstone refresh token: %w", err)
	}

	pair, err := s.issuePair(ctx, user.ID, record.FamilyID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.audit("refresh.rotated", "user_id", user.ID, "family_id", record.FamilyID)
	return pair, nil
}

// Logout deletes the owning family of a currently valid refresh token,
// revoking every descendant token. Anything else fails with ErrInvalidTokens.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	ctx, span := s.startSpan(ctx, "AuthService.Logout")
	defer span.End()

	record, err := s.tokens.GetByValue(ctx, domain.TokenTypeRefresh, refreshToken)
	if err != nil || !record.Valid {
		return domain.ErrInvalidTokens
	}

	if err := s.families.Delete(ctx, record.FamilyID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidTokens
		}
		span.RecordError(err)
		return fmt.Errorf("delete token family: %w", err)
	}

	s.audit("logout", "family_id", record.FamilyID)
	return nil
}

// VerifyAccessToken resolves an access token to a principal with a pure
// signature/expiry check. No storage lookup: access tokens are trusted for
// their full lifetime, which is why that lifetime is short.
func (s *AuthService) VerifyAccessToken(accessToken string) (Principal, error) {
	var claims token.SessionClaims
	if err := s.codec.Verify(token.CategoryAccess, accessToken, &claims); err != nil {
		return Principal{}, domain.ErrInvalidOrExpiredToken
	}
	return Principal{UserID: claims.UserID, FamilyID: claims.FamilyID}, nil
}

// Register creates a user with a fresh OTP secret. The secret is generated
// exactly once and never rotated afterwards.
func (s *AuthService) Register(ctx context.Context, emailAddr, password string) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Register")
	defer span.End()

	hash, err := pw.Hash(password)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	secret, err := otp.NewSecret()
	if err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}

	user, err := s.users.Create(ctx, domain.User{
		ID:             s.node.Generate().Int64(),
		Email:          strings.ToLower(strings.TrimSpace(emailAddr)),
		PasswordHash:   hash,
		OTPSecret:      secret,
		Enabled:        true,
		LoginPermitted: true,
	})
	if err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	s.audit("user.registered", "user_id", user.ID)
	return user, nil
}

// ForgotPassword mails a one-time passcode to the account, if one exists.
// The response is identical either way, and delivery runs off the critical
// path: a mail failure is logged, never surfaced.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ForgotPassword")
	defer span.End()

	normalized := strings.ToLower(strings.TrimSpace(emailAddr))
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		return nil
	}

	ok, err := s.resets.AcquireSendSlot(ctx, normalized, s.cfg.ResetTokenTTL)
	if err != nil {
		span.RecordError(err)
		s.log().Warn("reset throttle unavailable", zap.Error(err))
	} else if !ok {
		return nil
	}

	code, err := otp.Code(user.OTPSecret, time.Now())
	if err != nil {
		span.RecordError(err)
		return nil
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), mailTimeout)
		defer cancel()
		body := fmt.Sprintf("Your password reset code is %s. It expires shortly.", code)
		if err := s.mailer.Send(sendCtx, user.Email, "Password reset code", body); err != nil {
			s.log().Warn("reset mail failed", zap.Int64("user_id", user.ID), zap.Error(err))
		}
	}()

	s.audit("reset.requested", "user_id", user.ID)
	return nil
}

// VerifyOTP trades a valid passcode for a short-lived reset token.
func (s *AuthService) VerifyOTP(ctx context.Context, emailAddr, code string) (string, error) {
	ctx, span := s.startSpan(ctx, "AuthService.VerifyOTP")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(emailAddr)))
	if err != nil {
		return "", domain.ErrInvalidCredentials
	}

	if !otp.Verify(user.OTPSecret, strings.TrimSpace(code), time.Now()) {
		return "", domain.ErrInvalidCredentials
	}

	resetToken, err := s.codec.Issue(token.CategoryReset, token.ResetClaims{Email: user.Email}, s.cfg.ResetTokenTTL)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("issue reset token: %w", err)
	}

	s.audit("reset.otp_verified", "user_id", user.ID)
	return resetToken, nil
}

// ResetPassword redeems a reset token, sets the new password hash, and
// revokes every token family the user owns. The password is the root trust
// anchor; families go first so a partial failure leaves sessions revoked
// rather than a changed password with live sessions.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ResetPassword")
	defer span.End()

	var claims token.ResetClaims
	if err := s.codec.Verify(token.CategoryReset, resetToken, &claims); err != nil {
		return domain.ErrInvalidResetToken
	}

	used, err := s.resets.TokenUsed(ctx, resetToken)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("check reset token: %w", err)
	}
	if used {
		return domain.ErrInvalidResetToken
	}

	user, err := s.users.GetByEmail(ctx, claims.Email)
	if err != nil {
		return domain.ErrInvalidResetToken
	}

	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		span.RecordError(err)
		return err
	}

	if err := s.resets.MarkTokenUsed(ctx, resetToken, s.cfg.ResetTokenTTL); err != nil {
		span.RecordError(err)
		s.log().Warn("mark reset token used failed", zap.Error(err))
	}

	s.audit("reset.completed", "user_id", user.ID)
	return nil
}

// ChangePassword updates an authenticated user's password and revokes all of
// their sessions.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, newPassword string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ChangePassword")
	defer span.End()

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return domain.ErrInvalidOrExpiredToken
	}
	if err := s.setPassword(ctx, userID, newPassword); err != nil {
		span.RecordError(err)
		return err
	}

	s.audit("password.changed", "user_id", userID)
	return nil
}

// GetUser loads the caller's user record.
func (s *AuthService) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *AuthService) setPassword(ctx context.Context, userID int64, newPassword string) error {
	hash, err := pw.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.families.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke token families: %w", err)
	}
	if err := s.users.SetPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

// RunJanitor periodically purges expired persisted tokens until ctx is done.
// Exchange codes older than their TTL are dead weight; refresh rows older
// than the refresh TTL cannot verify anymore, so even as tombstones they no
// longer contribute to reuse detection.
func (s *AuthService) RunJanitor(ctx context.Context) {
	interval := s.cfg.JanitorInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeExpired(ctx)
		}
	}
}

func (s *AuthService) purgeExpired(ctx context.Context) {
	now := time.Now()
	codes, err := s.tokens.PurgeCreatedBefore(ctx, domain.TokenTypeCode, now.Add(-s.cfg.CodeTokenTTL))
	if err != nil {
		s.log().Warn("purge exchange codes failed", zap.Error(err))
	}
	refreshes, err := s.tokens.PurgeCreatedBefore(ctx, domain.TokenTypeRefresh, now.Add(-s.cfg.RefreshTokenTTL))
	if err != nil {
		s.log().Warn("purge refresh tokens failed", zap.Error(err))
	}
	if codes > 0 || refreshes > 0 {
		s.log().Debug("purged expired tokens", zap.Int64("codes", codes), zap.Int64("refresh", refreshes))
	}
}

func (s *AuthService) issuePair(ctx context.Context, userID, familyID int64) (*TokenPair, error) {
	claims := token.SessionClaims{UserID: userID, FamilyID: familyID}

	access, err := s.codec.Issue(token.CategoryAccess, claims, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.codec.Issue(token.CategoryRefresh, claims, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	if _, err := s.tokens.Create(ctx, domain.Token{
		ID:       s.node.Generate().Int64(),
		Type:     domain.TokenTypeRefresh,
		FamilyID: familyID,
		Value:    refresh,
		Valid:    true,
	}); err != nil {
		// A concurrent reuse detection or logout can revoke the family
		// after the tombstone write and before this insert lands. That is
		// a revoked session, not a storage fault.
		if _, famErr := s.families.Get(ctx, familyID); errors.Is(famErr, domain.ErrNotFound) {
			return nil, domain.ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) revokeFamilyOnReuse(ctx context.Context, span trace.Span, familyID, userID int64) error {
	if err := s.families.Delete(ctx, familyID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
	}
	s.audit("refresh.reuse_detected", "user_id", userID, "family_id", familyID)
	return domain.ErrTokenReuseDetected
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
