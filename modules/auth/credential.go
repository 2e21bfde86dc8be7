package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// Credential is an immutable snapshot of an access token. The coordinator
// replaces the whole value instead of mutating it.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	// RequiresRefresh marks the credential stale; it must not be attached again.
	RequiresRefresh bool `json:"requires_refresh,omitempty"`
}

// Expired reports whether the credential expires within leeway. A zero
// Expiry never expires.
func (c Credential) Expired(leeway time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !time.Now().Add(leeway).Before(c.Expiry)
}

// MarkedForRefresh returns a copy flagged as stale.
func (c Credential) MarkedForRefresh() Credential {
	c.RequiresRefresh = true
	return c
}

// FromOAuth2 converts an oauth2 token.
func FromOAuth2(tok *oauth2.Token) Credential {
	if tok == nil {
		return Credential{}
	}
	return Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}

// OAuth2 converts the credential back into an oauth2 token.
func (c Credential) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
}
