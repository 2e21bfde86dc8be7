package common

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenRefresher defines the ability to exchange a refresh token for a new
// OAuth2 token. Implementations talk to a token endpoint.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// TokenRefresherFunc adapts a function to TokenRefresher.
type TokenRefresherFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

func (f TokenRefresherFunc) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, refreshToken)
}
