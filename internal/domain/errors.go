package domain

import "errors"

var (
	// ErrInvalidCredentials covers every login failure. Callers must not be
	// able to tell a bad client from a bad user or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidClientSecret signals a secret mismatch during code redemption.
	// The code stays redeemable until it expires.
	ErrInvalidClientSecret = errors.New("auth: invalid client secret")
	// ErrInvalidOrExpiredCode signals an unredeemable exchange code.
	ErrInvalidOrExpiredCode = errors.New("auth: invalid or expired code")
	// ErrInvalidOrExpiredToken is the generic refresh/access failure.
	ErrInvalidOrExpiredToken = errors.New("auth: invalid or expired token")
	// ErrTokenReuseDetected signals replay of an already-rotated refresh
	// token. The owning family has been revoked.
	ErrTokenReuseDetected = errors.New("auth: token reuse detected")
	// ErrInvalidTokens signals a logout with an unknown or invalidated token.
	ErrInvalidTokens = errors.New("auth: invalid tokens")
	// ErrInvalidResetToken signals an unusable password-reset token.
	ErrInvalidResetToken = errors.New("auth: invalid reset token")
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("auth: not found")
)
