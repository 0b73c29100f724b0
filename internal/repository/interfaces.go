package repository

import (
	"context"
	"time"

	"github.com/inkwell/inkwell-auth/internal/domain"
)

// UserRepository exposes persistence for users.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	SetPassword(ctx context.Context, userID int64, passwordHash string) error
}

// ClientRepository exposes authorization client metadata.
type ClientRepository interface {
	GetByClientID(ctx context.Context, clientID string) (domain.AuthorizationClient, error)
	GetByName(ctx context.Context, name string) (domain.AuthorizationClient, error)
	Create(ctx context.Context, client domain.AuthorizationClient) (domain.AuthorizationClient, error)
}

// FamilyRepository manages token families. Delete cascades to every token the
// family owns.
type FamilyRepository interface {
	Create(ctx context.Context, family domain.TokenFamily) (domain.TokenFamily, error)
	Get(ctx context.Context, familyID int64) (domain.TokenFamily, error)
	Delete(ctx context.Context, familyID int64) error
	DeleteByUser(ctx context.Context, userID int64) error
}

// TokenRepository persists exchange codes and refresh tokens.
type TokenRepository interface {
	Create(ctx context.Context, token domain.Token) (domain.Token, error)
	GetByValue(ctx context.Context, typ domain.TokenType, value string) (domain.Token, error)
	// ConsumeCode atomically claims a stored exchange code. Of two
	// concurrent redemptions exactly one receives the row; the other gets
	// domain.ErrNotFound.
	ConsumeCode(ctx context.Context, value string) (domain.Token, error)
	// Invalidate flips the valid flag to false. It returns
	// domain.ErrNotFound when the flag was already false or the row is
	// gone, so two concurrent rotations of one token cannot both succeed.
	Invalidate(ctx context.Context, tokenID int64) error
	Delete(ctx context.Context, tokenID int64) error
	PurgeCreatedBefore(ctx context.Context, typ domain.TokenType, cutoff time.Time) (int64, error)
}

// ResetStore tracks short-lived password-reset state: a per-email send
// throttle and single-use marking of redeemed reset tokens.
type ResetStore interface {
	// AcquireSendSlot reports whether a reset mail may be sent for the
	// email address, reserving the slot for ttl when it may.
	AcquireSendSlot(ctx context.Context, email string, ttl time.Duration) (bool, error)
	MarkTokenUsed(ctx context.Context, token string, ttl time.Duration) error
	TokenUsed(ctx context.Context, token string) (bool, error)
}
