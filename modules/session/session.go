// Package session sends typed HTTP requests through an interceptor chain and,
// for requests that need it, an authentication coordinator.
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/alitto/pond/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/guarzo/authsession/common"
	"github.com/guarzo/authsession/modules/auth"
	"github.com/guarzo/authsession/modules/interceptor"
)

const (
	DefaultConcurrency = 16
	DefaultMaxRetries  = 3
	// RequestIDHeader carries the request ID on every attempt.
	RequestIDHeader = "X-Request-Id"
)

// Option configures a Session.
type Option func(*Session)

func WithHttpClient(c common.HttpClient) Option {
	return func(s *Session) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithCoordinator enables authenticated requests.
func WithCoordinator(c *auth.Coordinator) Option {
	return func(s *Session) { s.coordinator = c }
}

// WithInterceptors appends interceptors that run for every request, ahead of the coordinator.
func WithInterceptors(i ...interceptor.Interceptor) Option {
	return func(s *Session) { s.interceptors = append(s.interceptors, i...) }
}

func WithCodec(c common.Codec) Option {
	return func(s *Session) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithValidator replaces DefaultValidator for descriptors without their own.
func WithValidator(v Validator) Option {
	return func(s *Session) {
		if v != nil {
			s.validate = v
		}
	}
}

// WithMaxRetries bounds the total retries of one request across every reason.
func WithMaxRetries(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithConcurrency sets the request queue's worker count.
func WithConcurrency(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithResponseCache enables caching for descriptors with a CacheTTL.
func WithResponseCache(c common.CacheRepository) Option {
	return func(s *Session) { s.cache = c }
}

func WithLogger(l common.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *common.MetricsCollector) Option {
	return func(s *Session) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Session issues requests against one base URL. Pipeline work runs on a
// request pool; completions are delivered one at a time on a separate pool,
// so a completion must not block on another request of the same session.
type Session struct {
	baseURL      *url.URL
	httpClient   common.HttpClient
	codec        common.Codec
	coordinator  *auth.Coordinator
	interceptors interceptor.Chain
	validate     Validator
	cache        common.CacheRepository
	maxRetries   int
	concurrency  int

	logger  common.Logger
	metrics *common.MetricsCollector
	tracer  trace.Tracer

	requests    pond.Pool
	completions pond.Pool

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates a session for baseURL.
func New(baseURL string, opts ...Option) (*Session, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}

	s := &Session{
		baseURL:     base,
		codec:       common.JSONCodec{},
		validate:    DefaultValidator,
		maxRetries:  DefaultMaxRetries,
		concurrency: DefaultConcurrency,
		logger:      common.NopLogger(),
		tracer:      common.DefaultTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = common.NewHttpClient("", nil)
	}
	s.logger = s.logger.With("component", "session")
	s.requests = pond.NewPool(s.concurrency)
	s.completions = pond.NewPool(1)
	return s, nil
}

// Coordinator returns the session's coordinator, if any.
func (s *Session) Coordinator() *auth.Coordinator {
	return s.coordinator
}

// Close stops accepting requests, waits for in-flight ones to complete and
// releases the worker pools.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	s.requests.StopAndWait()
	s.completions.StopAndWait()
	s.httpClient.CloseIdleConnections()
}

func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	s.metrics.RequestStarted()
	return true
}

func (s *Session) end() {
	s.metrics.RequestFinished()
	s.inflight.Done()
}

// chain returns the interceptors for a request. The coordinator runs last.
func (s *Session) chain(requiresAuth bool) interceptor.Chain {
	if !requiresAuth {
		return s.interceptors
	}
	return s.interceptors.With(s.coordinator.Interceptor())
}

// Invalidate drops the cached response for method, path and query.
func (s *Session) Invalidate(method, path string, query url.Values) {
	if s.cache == nil {
		return
	}
	if key, err := s.cacheKey(method, path, query); err == nil {
		s.cache.Delete(key)
	}
}

func (s *Session) cacheKey(method, path string, query url.Values) (string, error) {
	if method == "" {
		method = http.MethodGet
	}
	urlStr, err := s.buildURL(path, query)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("session:%s:%s", method, urlStr), nil
}

// buildURL merges baseURL + path + query
func (s *Session) buildURL(path string, query url.Values) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	fullURL := s.baseURL.ResolveReference(ref)
	if len(query) > 0 {
		q := fullURL.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		fullURL.RawQuery = q.Encode()
	}
	return fullURL.String(), nil
}

func (s *Session) buildRequest(ctx context.Context, id, method, path string, query url.Values, header http.Header, body any) (*http.Request, error) {
	urlStr, err := s.buildURL(path, query)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := s.codec.Encode(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", s.codec.ContentType())
	if body != nil {
		req.Header.Set("Content-Type", s.codec.ContentType())
	}
	for k, vs := range header {
		req.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	req.Header.Set(RequestIDHeader, id)
	return req, nil
}
