package message

import (
	"httpcore/header"
	"httpcore/uri"

	"github.com/pkg/errors"
)

// Request is an HTTP request ready to be executed. Instances are
// immutable; derive modified copies through [Request.NewBuilder].
type Request struct {
	method  string
	url     uri.URI
	headers header.Headers
	body    Body
	tag     any
}

func (r *Request) Method() string          { return r.method }
func (r *Request) URL() uri.URI            { return r.url }
func (r *Request) Headers() header.Headers { return r.headers }
func (r *Request) Body() Body              { return r.body }

// Tag returns the caller-supplied tag, or the request itself when
// none was set so cancellation by tag can always find a key.
func (r *Request) Tag() any {
	if r.tag != nil {
		return r.tag
	}
	return r
}

func (r *Request) Header(name string) (string, bool) { return r.headers.Get(name) }

func (r *Request) IsHTTPS() bool { return r.url.Scheme == "https" }

func (r *Request) NewBuilder() *RequestBuilder {
	return &RequestBuilder{
		method:  r.method,
		url:     r.url,
		headers: r.headers.Builder(),
		body:    r.body,
		tag:     r.tag,
	}
}

// RequestBuilder accumulates request fields. Errors are deferred to
// Build so call sites can chain without checking each step.
type RequestBuilder struct {
	method  string
	url     uri.URI
	hasURL  bool
	headers *header.Builder
	body    Body
	tag     any

	err error
}

func NewRequestBuilder() *RequestBuilder {
	return &RequestBuilder{
		method:  "GET",
		headers: header.NewBuilder(),
	}
}

func (b *RequestBuilder) URL(u uri.URI) *RequestBuilder {
	if u.Scheme != "http" && u.Scheme != "https" {
		b.fail(errors.Errorf("unexpected url scheme: %q", u.Scheme))
		return b
	}
	if u.Authority == nil || u.Authority.Host == "" {
		b.fail(errors.New("url has no host"))
		return b
	}

	b.url, b.hasURL = u, true
	return b
}

func (b *RequestBuilder) ParseURL(rawURL string) *RequestBuilder {
	u, err := uri.Parse(rawURL)
	if err != nil {
		b.fail(errors.Wrap(err, "parsing url"))
		return b
	}
	return b.URL(u)
}

// Method sets the HTTP method and its body. body may be nil for
// methods that don't carry one.
func (b *RequestBuilder) Method(method string, body Body) *RequestBuilder {
	if method == "" {
		b.fail(errors.New("method is empty"))
		return b
	}
	if body != nil && !PermitsRequestBody(method) {
		b.fail(errors.Errorf("method %s must not have a request body", method))
		return b
	}
	if body == nil && RequiresRequestBody(method) {
		b.fail(errors.Errorf("method %s must have a request body", method))
		return b
	}

	b.method, b.body = method, body
	return b
}

func (b *RequestBuilder) Get() *RequestBuilder  { return b.Method("GET", nil) }
func (b *RequestBuilder) Head() *RequestBuilder { return b.Method("HEAD", nil) }

func (b *RequestBuilder) Post(body Body) *RequestBuilder { return b.Method("POST", body) }
func (b *RequestBuilder) Put(body Body) *RequestBuilder  { return b.Method("PUT", body) }

func (b *RequestBuilder) Delete() *RequestBuilder { return b.Method("DELETE", nil) }

// Header sets a field, replacing any previous values of the name.
func (b *RequestBuilder) Header(name, value string) *RequestBuilder {
	if err := b.headers.Set(name, value); err != nil {
		b.fail(err)
	}
	return b
}

// AddHeader appends a field without touching existing values.
func (b *RequestBuilder) AddHeader(name, value string) *RequestBuilder {
	if err := b.headers.Add(name, value); err != nil {
		b.fail(err)
	}
	return b
}

func (b *RequestBuilder) RemoveHeader(name string) *RequestBuilder {
	b.headers.RemoveAll(name)
	return b
}

func (b *RequestBuilder) Headers(h header.Headers) *RequestBuilder {
	b.headers = h.Builder()
	return b
}

func (b *RequestBuilder) Tag(tag any) *RequestBuilder {
	b.tag = tag
	return b
}

func (b *RequestBuilder) Build() (*Request, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.hasURL {
		return nil, errors.New("url is not set")
	}

	return &Request{
		method:  b.method,
		url:     b.url,
		headers: b.headers.Build(),
		body:    b.body,
		tag:     b.tag,
	}, nil
}

func (b *RequestBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
