// Package auth serializes bearer-credential refresh across concurrent requests.
//
// A Coordinator holds the current Credential. Requests that need a credential
// while none is usable queue up as waiters behind a single in-flight refresh
// and are released, in arrival order, when it resolves.
package auth

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/guarzo/authsession/common"
)

// State of a Coordinator.
type State int

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

const (
	DefaultRefreshTimeout = 30 * time.Second
	DefaultExpiryLeeway   = 10 * time.Second
)

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l common.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *common.MetricsCollector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithRefreshTimeout bounds every refresh. Waiters are released with
// ErrRefreshTimeout once it elapses.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// WithRefreshWindow fails a refresh with ErrExcessiveRefresh when maxAttempts
// refreshes already started within interval.
func WithRefreshWindow(interval time.Duration, maxAttempts int) Option {
	return func(c *Coordinator) {
		c.windowInterval = interval
		c.windowMax = maxAttempts
	}
}

// WithExpiryLeeway treats credentials expiring within d as unusable.
func WithExpiryLeeway(d time.Duration) Option {
	return func(c *Coordinator) { c.leeway = d }
}

// WithCredential installs an initial credential.
func WithCredential(cred Credential) Option {
	return func(c *Coordinator) {
		c.state.credential = &cred
	}
}

// Coordinator owns the credential and the refresh state machine.
type Coordinator struct {
	authenticator Authenticator
	logger        common.Logger
	metrics       *common.MetricsCollector
	tracer        trace.Tracer

	refreshTimeout time.Duration
	leeway         time.Duration
	windowInterval time.Duration
	windowMax      int

	mu    sync.Mutex
	state coordinatorState
}

// coordinatorState is only touched with Coordinator.mu held.
type coordinatorState struct {
	credential  *Credential
	refreshing  bool
	waiters     *list.List
	refreshedAt []time.Time
	seq         uint64
}

type waiter struct {
	seq      uint64
	resume   func(Credential, error)
	elem     *list.Element
	stop     func() bool
	released bool
}

// NewCoordinator builds an idle coordinator around a. If a implements
// CredentialLoader and no credential was given, the stored one is installed.
func NewCoordinator(a Authenticator, opts ...Option) *Coordinator {
	c := &Coordinator{
		authenticator:  a,
		logger:         common.NopLogger(),
		tracer:         common.DefaultTracer(),
		refreshTimeout: DefaultRefreshTimeout,
		leeway:         DefaultExpiryLeeway,
		state:          coordinatorState{waiters: list.New()},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.state.credential == nil {
		if loader, ok := a.(CredentialLoader); ok {
			if cred, found := loader.Load(); found {
				c.state.credential = &cred
			}
		}
	}
	c.logger = c.logger.With("component", "auth.coordinator")
	return c
}

// Authenticator returns the injected authenticator.
func (c *Coordinator) Authenticator() Authenticator {
	return c.authenticator
}

// State reports whether a refresh is in flight.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.refreshing {
		return Refreshing
	}
	return Idle
}

// Waiting returns the number of queued waiters.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.waiters.Len()
}

// Current returns a copy of the held credential.
func (c *Coordinator) Current() (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.credential == nil {
		return Credential{}, false
	}
	return *c.state.credential, true
}

// SetCredential replaces the held credential. Queued waiters keep waiting
// for the in-flight refresh.
func (c *Coordinator) SetCredential(cred Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.credential = &cred
}

// ShouldAttach reports whether cred can be applied without refreshing first.
func (c *Coordinator) ShouldAttach(cred *Credential) bool {
	if cred == nil {
		return false
	}
	if a, ok := c.authenticator.(Attacher); ok {
		return a.ShouldAttach(cred)
	}
	return !cred.RequiresRefresh && !cred.Expired(c.leeway)
}

// Acquire resumes with a usable credential, refreshing first when needed.
// resume is called exactly once: with the credential, with a *RefreshError,
// or with ctx's error when ctx ends while queued. A cancelled waiter is
// removed from the queue without affecting the others.
func (c *Coordinator) Acquire(ctx context.Context, resume func(Credential, error)) {
	if err := ctx.Err(); err != nil {
		resume(Credential{}, err)
		return
	}
	c.mu.Lock()
	c.acquireLocked(ctx, resume)
}

// Credential blocks until Acquire resumes.
func (c *Coordinator) Credential(ctx context.Context) (Credential, error) {
	type result struct {
		cred Credential
		err  error
	}
	ch := make(chan result, 1)
	c.Acquire(ctx, func(cred Credential, err error) {
		ch <- result{cred, err}
	})
	r := <-ch
	return r.cred, r.err
}

// Reauthenticate handles an authentication failure of req. When req was sent
// with the held credential, that credential is marked stale and a refresh is
// joined or started. When the credential has already been replaced, resume
// gets the current one immediately.
func (c *Coordinator) Reauthenticate(ctx context.Context, req *http.Request, resume func(Credential, error)) {
	if err := ctx.Err(); err != nil {
		resume(Credential{}, err)
		return
	}
	c.mu.Lock()
	if cred := c.state.credential; cred != nil && !cred.RequiresRefresh {
		if !c.authenticator.IsAuthenticated(req, *cred) && c.ShouldAttach(cred) {
			current := *cred
			c.mu.Unlock()
			c.logger.Debug(ctx, "credential already replaced, retrying without refresh")
			resume(current, nil)
			return
		}
		marked := cred.MarkedForRefresh()
		c.state.credential = &marked
	}
	c.acquireLocked(ctx, resume)
}

// acquireLocked must be called with c.mu held; it releases it.
func (c *Coordinator) acquireLocked(ctx context.Context, resume func(Credential, error)) {
	if cred := c.state.credential; cred != nil && c.ShouldAttach(cred) {
		current := *cred
		c.mu.Unlock()
		resume(current, nil)
		return
	}

	c.state.seq++
	w := &waiter{seq: c.state.seq, resume: resume}
	w.elem = c.state.waiters.PushBack(w)
	w.stop = context.AfterFunc(ctx, func() {
		if c.remove(w) {
			c.logger.Debug(ctx, "refresh waiter cancelled", "seq", w.seq)
			resume(Credential{}, ctx.Err())
		}
	})
	waiting := c.state.waiters.Len()

	var (
		start     bool
		current   *Credential
		excessive bool
	)
	if !c.state.refreshing {
		c.state.refreshing = true
		start = true
		if c.state.credential != nil {
			cp := *c.state.credential
			current = &cp
		}
		excessive = c.windowExceededLocked()
	}
	c.mu.Unlock()

	c.metrics.SetRefreshWaiters(waiting)
	if start {
		c.logger.Debug(ctx, "starting credential refresh", "waiters", waiting)
		go c.refresh(current, excessive)
	} else {
		c.logger.Debug(ctx, "joined in-flight credential refresh", "seq", w.seq, "waiters", waiting)
	}
}

// windowExceededLocked records a refresh start and reports whether the
// refresh window is exhausted.
func (c *Coordinator) windowExceededLocked() bool {
	if c.windowInterval <= 0 || c.windowMax <= 0 {
		return false
	}
	now := time.Now()
	recent := c.state.refreshedAt[:0]
	for _, t := range c.state.refreshedAt {
		if now.Sub(t) < c.windowInterval {
			recent = append(recent, t)
		}
	}
	c.state.refreshedAt = recent
	if len(recent) >= c.windowMax {
		return true
	}
	c.state.refreshedAt = append(c.state.refreshedAt, now)
	return false
}

func (c *Coordinator) remove(w *waiter) bool {
	c.mu.Lock()
	if w.elem == nil {
		c.mu.Unlock()
		return false
	}
	c.state.waiters.Remove(w.elem)
	w.elem = nil
	w.released = true
	waiting := c.state.waiters.Len()
	c.mu.Unlock()

	c.metrics.SetRefreshWaiters(waiting)
	return true
}

func (c *Coordinator) refresh(current *Credential, excessive bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "auth.refresh",
		trace.WithAttributes(attribute.Bool("auth.has_credential", current != nil)))
	defer span.End()

	start := time.Now()
	var (
		cred Credential
		err  error
	)
	if excessive {
		err = ErrExcessiveRefresh
	} else {
		cred, err = c.invoke(ctx, current)
	}
	elapsed := time.Since(start)

	c.mu.Lock()
	c.state.refreshing = false
	if err == nil {
		cred.RequiresRefresh = false
		installed := cred
		c.state.credential = &installed
	}
	waiters := c.drainLocked()
	c.mu.Unlock()

	c.metrics.SetRefreshWaiters(0)
	if err != nil {
		outcome := common.RefreshFailure
		if excessive {
			outcome = common.RefreshRejected
		}
		c.metrics.RecordRefresh(outcome, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn(ctx, "credential refresh failed", "error", err, "waiters", len(waiters), "duration", elapsed)
		err = &RefreshError{Err: err}
	} else {
		c.metrics.RecordRefresh(common.RefreshSuccess, elapsed)
		c.logger.Info(ctx, "credential refreshed", "waiters", len(waiters), "duration", elapsed)
	}
	span.SetAttributes(attribute.Int("auth.waiters", len(waiters)))

	for _, w := range waiters {
		w.stop()
		if err != nil {
			w.resume(Credential{}, err)
			continue
		}
		w.resume(cred, nil)
	}
}

// invoke runs the authenticator's refresh, giving up when ctx ends even if
// the authenticator ignores it.
func (c *Coordinator) invoke(ctx context.Context, current *Credential) (Credential, error) {
	type result struct {
		cred Credential
		err  error
	}
	done := make(chan result, 1)
	go func() {
		cred, err := c.authenticator.Refresh(ctx, current)
		done <- result{cred, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(r.err, context.DeadlineExceeded) {
			return Credential{}, fmt.Errorf("%w: %w", ErrRefreshTimeout, r.err)
		}
		return r.cred, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Credential{}, ErrRefreshTimeout
		}
		return Credential{}, ctx.Err()
	}
}

// drainLocked empties the queue in enqueue order.
func (c *Coordinator) drainLocked() []*waiter {
	out := make([]*waiter, 0, c.state.waiters.Len())
	for e := c.state.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		if w.released {
			panic("auth: refresh waiter released twice")
		}
		w.released = true
		w.elem = nil
		out = append(out, w)
	}
	c.state.waiters.Init()
	return out
}
