package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrExcessiveRefresh is returned when more refreshes than allowed happen inside the refresh window.
	ErrExcessiveRefresh = errors.New("auth: excessive credential refresh")
	// ErrNoRefreshToken is returned by refresh-token authenticators when the held credential has none.
	ErrNoRefreshToken = errors.New("auth: credential has no refresh token")
	// ErrRefreshTimeout is returned when a refresh does not resolve within the refresh timeout.
	ErrRefreshTimeout = errors.New("auth: credential refresh timed out")
)

// RefreshError is delivered to every request waiting on a failed refresh.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("auth: credential refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}
