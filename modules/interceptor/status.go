package interceptor

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusRetryReason is the retry budget used by StatusRetrier.
const StatusRetryReason = "status"

// StatusRetrier retries responses with transient status codes, honouring
// Retry-After when the server sends one.
type StatusRetrier struct {
	Statuses   []int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NewStatusRetrier retries 429 and 503 twice with a 500ms base delay.
func NewStatusRetrier() *StatusRetrier {
	return &StatusRetrier{
		Statuses:   []int{http.StatusTooManyRequests, http.StatusServiceUnavailable},
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
	}
}

func (s *StatusRetrier) Adapt(_ context.Context, req *http.Request, next func(*http.Request, error)) {
	next(req, nil)
}

func (s *StatusRetrier) Retry(_ context.Context, attempt *Attempt, decide func(RetryDecision)) {
	if attempt.Response == nil || !s.matches(attempt.Response.StatusCode) {
		decide(DoNotRetry())
		return
	}
	n := attempt.RetryCount(StatusRetryReason)
	if n >= s.MaxRetries {
		decide(DoNotRetry())
		return
	}

	delay := parseRetryAfter(attempt.Response.Header.Get("Retry-After"))
	if delay == 0 {
		delay = s.backoff(n)
	}
	decide(RetryAfter(delay).WithReason(StatusRetryReason))
}

func (s *StatusRetrier) matches(code int) bool {
	for _, c := range s.Statuses {
		if c == code {
			return true
		}
	}
	return false
}

func (s *StatusRetrier) backoff(attempt int) time.Duration {
	delay := s.BaseDelay << attempt
	if s.MaxDelay > 0 && (delay > s.MaxDelay || delay <= 0) {
		delay = s.MaxDelay
	}
	return delay
}

// parseRetryAfter accepts delay-seconds or an HTTP-date, capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds <= 0 {
			return 0
		}
		return min(time.Duration(seconds)*time.Second, time.Hour)
	}
	if t, err := http.ParseTime(value); err == nil {
		if delay := time.Until(t); delay > 0 && delay <= time.Hour {
			return delay
		}
	}
	return 0
}
