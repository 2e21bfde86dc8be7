package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialFromJWT builds a credential whose Expiry comes from the access
// token's exp claim. The signature is not verified; the issuer does that.
func CredentialFromJWT(accessToken, refreshToken string) (Credential, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return Credential{}, fmt.Errorf("auth: parse access token: %w", err)
	}
	cred := Credential{AccessToken: accessToken, RefreshToken: refreshToken}
	if claims.ExpiresAt != nil {
		cred.Expiry = claims.ExpiresAt.Time
	}
	return cred, nil
}

type jwtExpiry struct {
	Authenticator
}

// WithJWTExpiry fills Expiry from the exp claim of refreshed tokens that
// arrive without one. Tokens that are not JWTs pass through unchanged.
func WithJWTExpiry(a Authenticator) Authenticator {
	return &jwtExpiry{Authenticator: a}
}

func (j *jwtExpiry) Refresh(ctx context.Context, current *Credential) (Credential, error) {
	cred, err := j.Authenticator.Refresh(ctx, current)
	if err != nil || !cred.Expiry.IsZero() {
		return cred, err
	}
	if parsed, perr := CredentialFromJWT(cred.AccessToken, cred.RefreshToken); perr == nil {
		cred.Expiry = parsed.Expiry
	}
	return cred, nil
}
