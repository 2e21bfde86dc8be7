// Package interceptor provides the ordered adapt/retry hooks that run around
// every request a session sends. Hooks are continuation style: each one must
// invoke its callback exactly once, possibly from another goroutine.
package interceptor

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Action is the kind of a RetryDecision.
type Action int

const (
	DoNotRetryAction Action = iota
	RetryNowAction
	RetryAfterAction
	DoNotRetryWithErrorAction
)

func (a Action) String() string {
	switch a {
	case RetryNowAction:
		return "retry"
	case RetryAfterAction:
		return "retry_after"
	case DoNotRetryWithErrorAction:
		return "do_not_retry_with_error"
	default:
		return "do_not_retry"
	}
}

// RetryDecision is the answer of a Retrier for one failed attempt.
type RetryDecision struct {
	Action Action
	Delay  time.Duration
	Err    error
	// Reason names the retry budget the retry is charged against.
	Reason string
}

func RetryNow() RetryDecision { return RetryDecision{Action: RetryNowAction} }

func RetryAfter(d time.Duration) RetryDecision {
	return RetryDecision{Action: RetryAfterAction, Delay: d}
}

func DoNotRetry() RetryDecision { return RetryDecision{Action: DoNotRetryAction} }

func DoNotRetryWithError(err error) RetryDecision {
	return RetryDecision{Action: DoNotRetryWithErrorAction, Err: err}
}

// WithReason returns a copy of d charged against reason.
func (d RetryDecision) WithReason(reason string) RetryDecision {
	d.Reason = reason
	return d
}

// ShouldRetry reports whether the request should be sent again.
func (d RetryDecision) ShouldRetry() bool {
	return d.Action == RetryNowAction || d.Action == RetryAfterAction
}

// Attempt describes a failed attempt handed to retriers.
type Attempt struct {
	Request  *http.Request
	Response *http.Response
	Body     []byte
	Err      error
	// Retries counts the retries already performed for the request, by reason.
	Retries map[string]int
}

// RetryCount returns how many retries the request has consumed for reason.
func (a *Attempt) RetryCount(reason string) int {
	if a == nil || a.Retries == nil {
		return 0
	}
	return a.Retries[reason]
}

// TotalRetries returns the number of retries across every reason.
func (a *Attempt) TotalRetries() int {
	n := 0
	if a == nil {
		return n
	}
	for _, c := range a.Retries {
		n += c
	}
	return n
}

// StatusCode returns the response status, or 0 without a response.
func (a *Attempt) StatusCode() int {
	if a == nil || a.Response == nil {
		return 0
	}
	return a.Response.StatusCode
}

// Adapter mutates or rejects an outgoing request.
type Adapter interface {
	Adapt(ctx context.Context, req *http.Request, next func(*http.Request, error))
}

// Retrier decides whether a failed attempt is sent again.
type Retrier interface {
	Retry(ctx context.Context, attempt *Attempt, decide func(RetryDecision))
}

// Interceptor is both an Adapter and a Retrier.
type Interceptor interface {
	Adapter
	Retrier
}

// AdapterFunc adapts a synchronous function to an Interceptor that never retries.
type AdapterFunc func(ctx context.Context, req *http.Request) (*http.Request, error)

func (f AdapterFunc) Adapt(ctx context.Context, req *http.Request, next func(*http.Request, error)) {
	next(f(ctx, req))
}

func (f AdapterFunc) Retry(_ context.Context, _ *Attempt, decide func(RetryDecision)) {
	decide(DoNotRetry())
}

// RetrierFunc adapts a synchronous function to an Interceptor that passes requests through.
type RetrierFunc func(ctx context.Context, attempt *Attempt) RetryDecision

func (f RetrierFunc) Adapt(_ context.Context, req *http.Request, next func(*http.Request, error)) {
	next(req, nil)
}

func (f RetrierFunc) Retry(ctx context.Context, attempt *Attempt, decide func(RetryDecision)) {
	decide(f(ctx, attempt))
}

// Chain runs interceptors in order. Adapt short-circuits on the first error.
// Retry consults each interceptor in turn and stops at the first decision that
// is not a plain DoNotRetry.
type Chain []Interceptor

func (c Chain) Adapt(ctx context.Context, req *http.Request, next func(*http.Request, error)) {
	var step func(i int, r *http.Request)
	step = func(i int, r *http.Request) {
		if i == len(c) {
			next(r, nil)
			return
		}
		c[i].Adapt(ctx, r, once(fmt.Sprintf("adapt[%d]", i), func(adapted *http.Request, err error) {
			if err != nil {
				next(nil, err)
				return
			}
			if adapted == nil {
				adapted = r
			}
			step(i+1, adapted)
		}))
	}
	step(0, req)
}

func (c Chain) Retry(ctx context.Context, attempt *Attempt, decide func(RetryDecision)) {
	var step func(i int)
	step = func(i int) {
		if i == len(c) {
			decide(DoNotRetry())
			return
		}
		c[i].Retry(ctx, attempt, onceDecision(fmt.Sprintf("retry[%d]", i), func(d RetryDecision) {
			if d.Action == DoNotRetryAction {
				step(i + 1)
				return
			}
			decide(d)
		}))
	}
	step(0)
}

// With returns a new chain with extra appended, leaving c untouched.
func (c Chain) With(extra ...Interceptor) Chain {
	out := make(Chain, 0, len(c)+len(extra))
	out = append(out, c...)
	return append(out, extra...)
}

func once(name string, fn func(*http.Request, error)) func(*http.Request, error) {
	var called atomic.Bool
	return func(r *http.Request, err error) {
		if !called.CompareAndSwap(false, true) {
			panic("interceptor: " + name + " callback invoked twice")
		}
		fn(r, err)
	}
}

func onceDecision(name string, fn func(RetryDecision)) func(RetryDecision) {
	var called atomic.Bool
	return func(d RetryDecision) {
		if !called.CompareAndSwap(false, true) {
			panic("interceptor: " + name + " callback invoked twice")
		}
		fn(d)
	}
}
