package session

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/guarzo/authsession/modules/auth"
)

// ErrSessionClosed is returned for requests sent after Close.
var ErrSessionClosed = errors.New("session: closed")

// ErrNoAuthenticator is returned when a request requires authentication but
// the session has no coordinator.
var ErrNoAuthenticator = errors.New("session: request requires authentication but no authenticator is configured")

// DispatchError means the request could not be built, adapted or sent.
type DispatchError struct {
	Op  string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ValidationError means a response arrived but was rejected.
type ValidationError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session: response validation failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("session: response validation failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DecodeError means the body could not be decoded into the expected type.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("session: decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RequestError is the error every failed Response carries. It keeps the
// response that produced the failure, when there was one.
type RequestError struct {
	Err      error
	Response *http.Response
	Body     []byte
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error { return e.Err }

// StatusCode returns the response status, or 0 when none was received.
func (e *RequestError) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}

// errorKind labels err for metrics.
func errorKind(err error) string {
	var (
		refreshErr    *auth.RefreshError
		dispatchErr   *DispatchError
		validationErr *ValidationError
		decodeErr     *DecodeError
	)
	switch {
	case errors.As(err, &refreshErr):
		return "refresh"
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &dispatchErr):
		return "dispatch"
	default:
		return "other"
	}
}
