package auth

import (
	"context"
	"errors"
	"net/http"
)

// Authenticator is the capability a concrete authentication scheme provides.
// Only Refresh has side effects; Bearer supplies the defaults for the rest.
type Authenticator interface {
	// Apply attaches cred to req.
	Apply(cred Credential, req *http.Request)
	// Refresh produces a new credential. current is nil when none is held yet.
	Refresh(ctx context.Context, current *Credential) (Credential, error)
	// DidFail reports whether a completed request failed for authentication reasons.
	DidFail(req *http.Request, resp *http.Response, err error) bool
	// IsAuthenticated reports whether req already carries cred.
	IsAuthenticated(req *http.Request, cred Credential) bool
}

// Attacher overrides when a held credential may be attached without refreshing.
type Attacher interface {
	ShouldAttach(cred *Credential) bool
}

// CredentialLoader seeds a coordinator with a previously stored credential.
type CredentialLoader interface {
	Load() (Credential, bool)
}

// RefreshFunc produces a new credential.
type RefreshFunc func(ctx context.Context, current *Credential) (Credential, error)

// Bearer implements the default bearer-token behaviour. Embed it to inherit
// Apply, DidFail and IsAuthenticated.
type Bearer struct {
	RefreshFunc RefreshFunc
}

// NewBearer returns a bearer authenticator refreshing through fn.
func NewBearer(fn RefreshFunc) *Bearer {
	return &Bearer{RefreshFunc: fn}
}

func (b *Bearer) Apply(cred Credential, req *http.Request) {
	req.Header.Set("Authorization", bearerValue(cred))
}

func (b *Bearer) Refresh(ctx context.Context, current *Credential) (Credential, error) {
	if b.RefreshFunc == nil {
		return Credential{}, errors.New("auth: no refresh function configured")
	}
	return b.RefreshFunc(ctx, current)
}

// DidFail treats 401 as an authentication failure, unless the request was cancelled.
func (b *Bearer) DidFail(_ *http.Request, resp *http.Response, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return resp != nil && resp.StatusCode == http.StatusUnauthorized
}

func (b *Bearer) IsAuthenticated(req *http.Request, cred Credential) bool {
	return req != nil && req.Header.Get("Authorization") == bearerValue(cred)
}

func bearerValue(cred Credential) string {
	return "Bearer " + cred.AccessToken
}
