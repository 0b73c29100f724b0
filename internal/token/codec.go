package token

import (
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/inkwell/inkwell-auth/internal/config"
)

// Category selects the signing key a token is issued and verified under.
type Category string

const (
	CategoryCode    Category = "code"
	CategoryAccess  Category = "access"
	CategoryRefresh Category = "refresh"
	CategoryReset   Category = "reset"
)

var (
	// ErrTokenExpired means the signature checked out but the embedded
	// expiry has passed. Persisted rows for such tokens can be deleted.
	ErrTokenExpired = errors.New("token: expired")
	// ErrTokenMalformed covers parse failures, bad signatures, and tokens
	// presented under the wrong category.
	ErrTokenMalformed = errors.New("token: malformed")
)

// CodeClaims is the payload of an exchange code.
type CodeClaims struct {
	ClientID string `json:"client_id"`
	UserID   int64  `json:"user_id"`
	FamilyID int64  `json:"token_family"`
}

// SessionClaims is the payload of access and refresh tokens.
type SessionClaims struct {
	UserID   int64 `json:"user_id"`
	FamilyID int64 `json:"token_family"`
}

// ResetClaims is the payload of password-reset tokens.
type ResetClaims struct {
	Email string `json:"email"`
}

// Codec signs and verifies time-bound tokens with purpose-specific keys.
type Codec struct {
	keys map[Category][]byte
}

// NewCodec builds a codec from the configured signing keys.
func NewCodec(keys config.Keys) *Codec {
	return &Codec{keys: map[Category][]byte{
		CategoryCode:    keys.Code,
		CategoryAccess:  keys.Access,
		CategoryRefresh: keys.Refresh,
		CategoryReset:   keys.Reset,
	}}
}

// Issue signs claims under the category key with an absolute expiry ttl from
// now. It fails only on unusable input (unknown category, unserializable
// claims).
func (c *Codec) Issue(category Category, claims any, ttl time.Duration) (string, error) {
	key, ok := c.keys[category]
	if !ok {
		return "", fmt.Errorf("issue token: unknown category %q", category)
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: key},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := gojwt.Signed(signer).Claims(std).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature under the category key before trusting any
// claim, then checks expiry. The claim payload is decoded into out.
func (c *Codec) Verify(category Category, value string, out any) error {
	key, ok := c.keys[category]
	if !ok {
		return fmt.Errorf("verify token: unknown category %q", category)
	}

	parsed, err := gojwt.ParseSigned(value, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return ErrTokenMalformed
	}

	var std gojwt.Claims
	if err := parsed.Claims(key, &std, out); err != nil {
		return ErrTokenMalformed
	}

	if err := std.Validate(gojwt.Expected{Time: time.Now().UTC()}); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return ErrTokenExpired
		}
		return ErrTokenMalformed
	}
	return nil
}
