package token_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkwell/inkwell-auth/internal/config"
	"github.com/inkwell/inkwell-auth/internal/token"
)

func testKeys() config.Keys {
	return config.Keys{
		Code:    []byte("code-signing-key-for-tests-00001"),
		Access:  []byte("access-signing-key-for-tests-001"),
		Refresh: []byte("refresh-signing-key-for-tests-01"),
		Reset:   []byte("reset-signing-key-for-tests-0001"),
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	codec := token.NewCodec(testKeys())

	issued, err := codec.Issue(token.CategoryCode, token.CodeClaims{ClientID: "client", UserID: 7, FamilyID: 42}, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, issued)

	var claims token.CodeClaims
	require.NoError(t, codec.Verify(token.CategoryCode, issued, &claims))
	require.Equal(t, "client", claims.ClientID)
	require.Equal(t, int64(7), claims.UserID)
	require.Equal(t, int64(42), claims.FamilyID)
}

func TestVerifyRejectsWrongCategory(t *testing.T) {
	codec := token.NewCodec(testKeys())

	issued, err := codec.Issue(token.CategoryAccess, token.SessionClaims{UserID: 1, FamilyID: 2}, time.Minute)
	require.NoError(t, err)

	var claims token.SessionClaims
	err = codec.Verify(token.CategoryRefresh, issued, &claims)
	require.ErrorIs(t, err, token.ErrTokenMalformed)
}

func TestVerifyDistinguishesExpiredFromMalformed(t *testing.T) {
	codec := token.NewCodec(testKeys())

	expired, err := codec.Issue(token.CategoryRefresh, token.SessionClaims{UserID: 1, FamilyID: 2}, -time.Minute)
	require.NoError(t, err)

	var claims token.SessionClaims
	require.ErrorIs(t, codec.Verify(token.CategoryRefresh, expired, &claims), token.ErrTokenExpired)

	require.ErrorIs(t, codec.Verify(token.CategoryRefresh, "not-a-token", &claims), token.ErrTokenMalformed)

	// Flip a character inside the signature segment. The final base64url
	// character carries unused padding bits, so flip the first one instead:
	// every bit of it is part of the decoded signature.
	sigStart := strings.LastIndex(expired, ".") + 1
	flip := byte('A')
	if expired[sigStart] == flip {
		flip = 'B'
	}
	tampered := expired[:sigStart] + string(flip) + expired[sigStart+1:]
	require.ErrorIs(t, codec.Verify(token.CategoryRefresh, tampered, &claims), token.ErrTokenMalformed)
}
