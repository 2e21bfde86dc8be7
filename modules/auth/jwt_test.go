package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/authsession/modules/auth"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestCredentialFromJWT(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	access := signedToken(t, exp)

	cred, err := auth.CredentialFromJWT(access, "refresh")
	require.NoError(t, err)
	assert.Equal(t, access, cred.AccessToken)
	assert.Equal(t, "refresh", cred.RefreshToken)
	assert.True(t, cred.Expiry.Equal(exp))
}

func TestCredentialFromJWT_Invalid(t *testing.T) {
	_, err := auth.CredentialFromJWT("not-a-jwt", "")
	assert.Error(t, err)
}

func TestWithJWTExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	access := signedToken(t, exp)

	a := auth.WithJWTExpiry(auth.NewBearer(func(context.Context, *auth.Credential) (auth.Credential, error) {
		return auth.Credential{AccessToken: access}, nil
	}))

	cred, err := a.Refresh(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, cred.Expiry.Equal(exp))

	opaque := auth.WithJWTExpiry(auth.NewBearer(func(context.Context, *auth.Credential) (auth.Credential, error) {
		return auth.Credential{AccessToken: "opaque"}, nil
	}))
	cred, err = opaque.Refresh(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, cred.Expiry.IsZero())
}
