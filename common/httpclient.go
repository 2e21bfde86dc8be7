package common

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"
)

// HttpClient is the transport collaborator: it performs the actual request I/O.
// Sessions and token refreshers depend on this interface so tests can swap the transport.
type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
	// Client exposes the underlying *http.Client for libraries that need one (oauth2).
	Client() *http.Client
	CloseIdleConnections()
	RetryWithExponentialBackoff(ctx context.Context, operation func() (interface{}, error)) (interface{}, error)
	SetSleepForTest(sleep func(d time.Duration))
}

// HTTPError is a custom error that captures unexpected status codes and response bodies.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// Temporary reports whether the status is one the backoff helper retries.
func (e *HTTPError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// userAgentRoundTripper adds a User-Agent header to every outgoing request.
type userAgentRoundTripper struct {
	Wrapped   http.RoundTripper
	UserAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone request to avoid mutating the original
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.UserAgent)
	return rt.Wrapped.RoundTrip(clone)
}

type httpClient struct {
	client    *http.Client
	sleepFunc func(d time.Duration)
}

// DefaultTimeout bounds a single round trip when the caller's client has no timeout.
const DefaultTimeout = 10 * time.Second

// NewHttpClient wraps base (or a fresh client when nil) with a User-Agent round tripper.
func NewHttpClient(userAgent string, base *http.Client) HttpClient {
	if base == nil {
		base = &http.Client{}
	}
	if base.Transport == nil {
		base.Transport = http.DefaultTransport
	}
	if userAgent != "" {
		base.Transport = &userAgentRoundTripper{
			Wrapped:   base.Transport,
			UserAgent: userAgent,
		}
	}
	if base.Timeout == 0 {
		base.Timeout = DefaultTimeout
	}

	return &httpClient{
		client:    base,
		sleepFunc: time.Sleep,
	}
}

func (h *httpClient) Do(req *http.Request) (*http.Response, error) {
	return h.client.Do(req)
}

func (h *httpClient) Client() *http.Client {
	return h.client
}

func (h *httpClient) CloseIdleConnections() {
	h.client.CloseIdleConnections()
}

// Exponential backoff constants
const (
	maxRetries = 5
	baseDelay  = 1 * time.Second
	maxDelay   = 32 * time.Second
)

// RetryWithExponentialBackoff runs operation until it succeeds, returns a
// non-temporary error, or maxRetries is reached. Only *HTTPError values with a
// 5xx gateway-style status are retried.
func (h *httpClient) RetryWithExponentialBackoff(ctx context.Context, operation func() (interface{}, error)) (interface{}, error) {
	var result interface{}
	var err error
	delay := baseDelay

	for i := 0; i < maxRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			break
		}
		if result, err = operation(); err == nil {
			return result, nil
		}

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || !httpErr.Temporary() || i == maxRetries-1 {
			break
		}

		jitter := time.Duration(rand.Int64N(int64(delay)))
		h.sleepFunc(delay + jitter)

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return nil, err
}

func (h *httpClient) SetSleepForTest(sleep func(d time.Duration)) {
	h.sleepFunc = sleep
}
