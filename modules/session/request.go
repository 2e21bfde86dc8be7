package session

import (
	"context"
	"errors"
	"io"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/guarzo/authsession/modules/interceptor"
)

// Response is the terminal outcome of a request.
type Response[T any] struct {
	Value T
	// Err is a *RequestError when the request failed.
	Err error
	// HTTPResponse is the last response received; its body is already drained into Body.
	HTTPResponse *http.Response
	Body         []byte
	// Request is the last request sent.
	Request *http.Request
	Retries int
	// Cached is set when Value came from the response cache.
	Cached bool
}

// StatusCode returns the last response status, or 0.
func (r Response[T]) StatusCode() int {
	if r.HTTPResponse == nil {
		return 0
	}
	return r.HTTPResponse.StatusCode
}

// Request is the envelope of one logical request sent by Send.
type Request[T any] struct {
	ID         string
	Descriptor Descriptor[T]

	session    *Session
	ctx        context.Context
	cancel     context.CancelFunc
	completion func(Response[T])

	mu         sync.Mutex
	httpReq    *http.Request
	httpResp   *http.Response
	body       []byte
	dispatched bool
	cached     bool
	cancelled  bool
	done       bool
	retries    map[string]int
	total      int
}

// HTTPRequest returns the last dispatched transport request, or nil.
func (r *Request[T]) HTTPRequest() *http.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.httpReq
}

// Context is cancelled when the request finishes or is cancelled.
func (r *Request[T]) Context() context.Context {
	return r.ctx
}

// Cancel aborts the request. Before it is first dispatched the request is
// dropped and its completion never fires; afterwards the completion fires
// with a DispatchError wrapping context.Canceled.
func (r *Request[T]) Cancel() {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	r.mu.Unlock()
	r.cancel()
}

// Send issues desc and calls completion exactly once with the outcome,
// unless the request is cancelled before dispatch.
func Send[T any](s *Session, ctx context.Context, desc Descriptor[T], completion func(Response[T])) *Request[T] {
	if completion == nil {
		completion = func(Response[T]) {}
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Request[T]{
		ID:         uuid.NewString(),
		Descriptor: desc,
		session:    s,
		ctx:        ctx,
		cancel:     cancel,
		completion: completion,
		retries:    map[string]int{},
	}

	if !s.begin() {
		r.done = true
		cancel()
		go completion(Response[T]{Err: &RequestError{Err: &DispatchError{Op: "send", Err: ErrSessionClosed}}})
		return r
	}
	if desc.RequiresAuthentication && s.coordinator == nil {
		r.fail(&DispatchError{Op: "adapt", Err: ErrNoAuthenticator})
		return r
	}

	s.logger.Debug(ctx, "request queued", "request_id", r.ID, "method", desc.Method, "path", desc.Path)
	s.requests.Submit(r.attempt)
	return r
}

// Do sends desc and blocks until the response is available.
func Do[T any](s *Session, ctx context.Context, desc Descriptor[T]) Response[T] {
	ch := make(chan Response[T], 1)
	Send(s, ctx, desc, func(resp Response[T]) { ch <- resp })
	return <-ch
}

// attempt builds and adapts the request, then queues the dispatch.
func (r *Request[T]) attempt() {
	s := r.session
	if err := r.ctx.Err(); err != nil {
		r.fail(&DispatchError{Op: "cancel", Err: err})
		return
	}

	d := r.Descriptor
	if r.fromCache() {
		return
	}
	req, err := s.buildRequest(r.ctx, r.ID, d.Method, d.Path, d.Query, d.Header, d.Body)
	if err != nil {
		r.fail(&DispatchError{Op: "build", Err: err})
		return
	}

	s.chain(d.RequiresAuthentication).Adapt(r.ctx, req, func(adapted *http.Request, err error) {
		if err != nil {
			if ctxErr := r.ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				r.fail(&DispatchError{Op: "cancel", Err: err})
				return
			}
			r.fail(&DispatchError{Op: "adapt", Err: err})
			return
		}
		s.requests.Submit(func() { r.dispatch(adapted) })
	})
}

func (r *Request[T]) dispatch(req *http.Request) {
	s := r.session
	r.mu.Lock()
	if err := r.ctx.Err(); err != nil {
		r.mu.Unlock()
		r.fail(&DispatchError{Op: "cancel", Err: err})
		return
	}
	r.httpReq = req
	r.dispatched = true
	r.mu.Unlock()

	ctx, span := s.tracer.Start(r.ctx, "session.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.String()),
			attribute.String("authsession.request_id", r.ID),
			attribute.Int("authsession.retries", r.total),
		))
	defer span.End()

	s.logger.Debug(ctx, "dispatching request", "request_id", r.ID, "method", req.Method, "url", req.URL.String(), "attempt", r.total+1)
	start := time.Now()
	resp, err := s.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		op := "send"
		if r.ctx.Err() != nil {
			op = "cancel"
		}
		r.fail(&DispatchError{Op: op, Err: err})
		return
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	s.metrics.RecordRequest(req.Method, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	r.mu.Lock()
	r.httpResp = resp
	r.body = body
	r.mu.Unlock()

	if readErr != nil {
		span.RecordError(readErr)
		span.SetStatus(codes.Error, readErr.Error())
		r.fail(&DispatchError{Op: "read", Err: readErr})
		return
	}

	if verr := r.validateResponse(req, resp, body); verr != nil {
		span.SetStatus(codes.Error, verr.Error())
		r.retry(ctx, req, resp, body, verr)
		return
	}

	var value T
	decode := r.Descriptor.Decode
	if decode == nil {
		decode = s.codec.Decode
	}
	if err := decode(body, &value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		r.fail(&DecodeError{Err: err})
		return
	}
	if key, ok := r.cacheKey(); ok {
		s.cache.Set(key, body, r.Descriptor.CacheTTL)
	}
	r.succeed(value)
}

func (r *Request[T]) cacheKey() (string, bool) {
	d := r.Descriptor
	s := r.session
	if s.cache == nil || d.CacheTTL <= 0 || d.RequiresAuthentication {
		return "", false
	}
	if d.Method != "" && d.Method != http.MethodGet {
		return "", false
	}
	key, err := s.cacheKey(d.Method, d.Path, d.Query)
	return key, err == nil
}

// fromCache completes the request from the response cache on a hit.
func (r *Request[T]) fromCache() bool {
	if r.total > 0 {
		return false
	}
	key, ok := r.cacheKey()
	if !ok {
		return false
	}
	data, found := r.session.cache.Get(key)
	if !found {
		return false
	}
	decode := r.Descriptor.Decode
	if decode == nil {
		decode = r.session.codec.Decode
	}
	var value T
	if err := decode(data, &value); err != nil {
		r.session.logger.Warn(r.ctx, "dropping undecodable cache entry", "request_id", r.ID, "error", err)
		r.session.cache.Delete(key)
		return false
	}
	r.mu.Lock()
	r.body = data
	r.cached = true
	r.mu.Unlock()
	r.succeed(value)
	return true
}

func (r *Request[T]) validateResponse(req *http.Request, resp *http.Response, body []byte) error {
	validate := r.Descriptor.Validate
	if validate == nil {
		validate = r.session.validate
	}
	err := validate(req, resp, body)
	if err == nil {
		return nil
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return &ValidationError{StatusCode: resp.StatusCode, Body: body, Err: err}
}

// retry consults the retry chain after a validation failure.
func (r *Request[T]) retry(ctx context.Context, req *http.Request, resp *http.Response, body []byte, verr error) {
	s := r.session
	if r.ctx.Err() != nil {
		r.fail(&DispatchError{Op: "cancel", Err: r.ctx.Err()})
		return
	}
	if r.total >= s.maxRetries {
		s.logger.Debug(ctx, "retry limit reached", "request_id", r.ID, "retries", r.total)
		r.fail(verr)
		return
	}

	attempt := &interceptor.Attempt{
		Request:  req,
		Response: resp,
		Body:     body,
		Err:      verr,
		Retries:  maps.Clone(r.retries),
	}
	s.chain(r.Descriptor.RequiresAuthentication).Retry(r.ctx, attempt, func(d interceptor.RetryDecision) {
		switch d.Action {
		case interceptor.RetryNowAction:
			r.countRetry(d.Reason)
			s.logger.Info(r.ctx, "retrying request", "request_id", r.ID, "reason", d.Reason, "status", resp.StatusCode)
			s.requests.Submit(r.attempt)
		case interceptor.RetryAfterAction:
			r.countRetry(d.Reason)
			s.logger.Info(r.ctx, "retrying request after delay", "request_id", r.ID, "reason", d.Reason, "status", resp.StatusCode, "delay", d.Delay)
			time.AfterFunc(d.Delay, func() { s.requests.Submit(r.attempt) })
		case interceptor.DoNotRetryWithErrorAction:
			if ctxErr := r.ctx.Err(); ctxErr != nil && errors.Is(d.Err, ctxErr) {
				r.fail(&DispatchError{Op: "cancel", Err: d.Err})
				return
			}
			r.fail(d.Err)
		default:
			r.fail(verr)
		}
	})
}

func (r *Request[T]) countRetry(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	r.mu.Lock()
	r.retries[reason]++
	r.total++
	r.mu.Unlock()
	r.session.metrics.RecordRetry(reason)
}

func (r *Request[T]) succeed(value T) {
	r.finish(value, nil)
}

func (r *Request[T]) fail(err error) {
	r.finish(*new(T), err)
}

// finish delivers the terminal response on the completion pool.
func (r *Request[T]) finish(value T, err error) {
	s := r.session
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		panic("session: request " + r.ID + " completed twice")
	}
	r.done = true
	drop := r.cancelled && !r.dispatched
	res := Response[T]{
		Value:        value,
		HTTPResponse: r.httpResp,
		Body:         r.body,
		Request:      r.httpReq,
		Retries:      r.total,
		Cached:       r.cached,
	}
	r.mu.Unlock()
	r.cancel()

	if err != nil {
		res.Err = &RequestError{Err: err, Response: res.HTTPResponse, Body: res.Body}
		s.metrics.RecordError(errorKind(err))
	}
	if drop {
		s.logger.Debug(context.Background(), "request cancelled before dispatch", "request_id", r.ID)
		s.end()
		return
	}
	if err != nil {
		s.logger.Warn(context.Background(), "request failed", "request_id", r.ID, "error", err, "status", res.StatusCode())
	}

	s.completions.Submit(func() {
		defer s.end()
		r.completion(res)
	})
}
