package domain

import "time"

// TokenType distinguishes persisted token rows. Access tokens are stateless
// and never stored.
type TokenType string

const (
	TokenTypeCode    TokenType = "code"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenFamily is one continuous session lineage created at login. Deleting a
// family cascades to every token it owns.
type TokenFamily struct {
	ID        int64
	UserID    int64
	CreatedAt time.Time
}

// Token persists exchange codes and refresh tokens. A rotated refresh token
// keeps its row with Valid=false as a tombstone for reuse detection.
type Token struct {
	ID        int64
	Type      TokenType
	FamilyID  int64
	Value     string
	Valid     bool
	CreatedAt time.Time
}
