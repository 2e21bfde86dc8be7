package session

import (
	"net/http"
	"net/url"
	"time"
)

// Validator inspects a received response. A non-nil error rejects it.
type Validator func(req *http.Request, resp *http.Response, body []byte) error

// Decoder decodes a response body into out.
type Decoder func(data []byte, out any) error

// Descriptor describes one logical request whose response decodes into T.
// It is read-only once handed to Send.
type Descriptor[T any] struct {
	Method string
	// Path is resolved against the session base URL.
	Path   string
	Query  url.Values
	Header http.Header
	// Body is encoded with the session codec; []byte is sent verbatim.
	Body                   any
	RequiresAuthentication bool
	// Validate overrides the session validator.
	Validate Validator
	// Decode overrides the session codec for the response body.
	Decode Decoder
	// CacheTTL caches successful unauthenticated GET responses in the
	// session's response cache, when one is configured.
	CacheTTL time.Duration
}

func Get[T any](path string) Descriptor[T] {
	return Descriptor[T]{Method: http.MethodGet, Path: path}
}

func Post[T any](path string, body any) Descriptor[T] {
	return Descriptor[T]{Method: http.MethodPost, Path: path, Body: body}
}

func Delete[T any](path string) Descriptor[T] {
	return Descriptor[T]{Method: http.MethodDelete, Path: path}
}

// Authenticated returns a copy that requires authentication.
func (d Descriptor[T]) Authenticated() Descriptor[T] {
	d.RequiresAuthentication = true
	return d
}

// WithQuery returns a copy with key=value added to the query.
func (d Descriptor[T]) WithQuery(key, value string) Descriptor[T] {
	q := url.Values{}
	for k, v := range d.Query {
		q[k] = append([]string(nil), v...)
	}
	q.Add(key, value)
	d.Query = q
	return d
}

// Cached returns a copy whose successful response is cached for ttl.
func (d Descriptor[T]) Cached(ttl time.Duration) Descriptor[T] {
	d.CacheTTL = ttl
	return d
}

// ExpectStatus returns a copy that accepts only the given status codes.
func (d Descriptor[T]) ExpectStatus(codes ...int) Descriptor[T] {
	d.Validate = StatusValidator(codes...)
	return d
}
