package message

import (
	"strconv"

	"httpcore/header"

	"github.com/pkg/errors"
)

// Response is a received HTTP response. Instances are immutable apart
// from the one-shot body stream; derive copies through
// [Response.NewBuilder].
type Response struct {
	request  *Request
	protocol Protocol
	code     int
	message  string
	headers  header.Headers
	body     *ResponseBody

	// networkResponse and cacheResponse record the raw sources this
	// response was built from. At most both are set for a conditional
	// hit; both nil means the response was synthesized.
	networkResponse *Response
	cacheResponse   *Response

	// priorResponse is the redirect or auth response that triggered
	// this one. Its body is always closed.
	priorResponse *Response

	handshake *Handshake

	sentAtMillis     int64
	receivedAtMillis int64
}

// Handshake records the TLS session a response was received over. A
// nil handshake means the exchange ran in cleartext.
type Handshake struct {
	TLSVersion  string
	CipherSuite string
	PeerName    string
}

func (r *Response) Request() *Request          { return r.request }
func (r *Response) Protocol() Protocol         { return r.protocol }
func (r *Response) Code() int                  { return r.code }
func (r *Response) Message() string            { return r.message }
func (r *Response) Headers() header.Headers    { return r.headers }
func (r *Response) Body() *ResponseBody        { return r.body }
func (r *Response) NetworkResponse() *Response { return r.networkResponse }
func (r *Response) CacheResponse() *Response   { return r.cacheResponse }
func (r *Response) PriorResponse() *Response   { return r.priorResponse }
func (r *Response) TLSHandshake() *Handshake   { return r.handshake }

// SentAtMillis is when the initiating request's headers went on the
// wire, in epoch milliseconds.
func (r *Response) SentAtMillis() int64 { return r.sentAtMillis }

// ReceivedAtMillis is when this response's headers were received, in
// epoch milliseconds.
func (r *Response) ReceivedAtMillis() int64 { return r.receivedAtMillis }

func (r *Response) Header(name string) (string, bool) { return r.headers.Get(name) }

func (r *Response) IsSuccessful() bool { return r.code >= 200 && r.code < 300 }

// IsRedirect reports whether the code asks the client to retry the
// request elsewhere.
func (r *Response) IsRedirect() bool {
	switch r.code {
	case StatusMultipleChoices, StatusMovedPermanently, StatusFound,
		StatusSeeOther, StatusTemporaryRedirect, StatusPermanentRedirect:
		return true
	}
	return false
}

func (r *Response) NewBuilder() *ResponseBuilder {
	return &ResponseBuilder{
		request:          r.request,
		protocol:         r.protocol,
		code:             r.code,
		message:          r.message,
		headers:          r.headers.Builder(),
		body:             r.body,
		networkResponse:  r.networkResponse,
		cacheResponse:    r.cacheResponse,
		priorResponse:    r.priorResponse,
		handshake:        r.handshake,
		sentAtMillis:     r.sentAtMillis,
		receivedAtMillis: r.receivedAtMillis,
	}
}

type ResponseBuilder struct {
	request  *Request
	protocol Protocol
	code     int
	message  string
	headers  *header.Builder
	body     *ResponseBody

	networkResponse *Response
	cacheResponse   *Response
	priorResponse   *Response
	handshake       *Handshake

	sentAtMillis     int64
	receivedAtMillis int64

	err error
}

func NewResponseBuilder() *ResponseBuilder {
	return &ResponseBuilder{code: -1, headers: header.NewBuilder()}
}

func (b *ResponseBuilder) Request(req *Request) *ResponseBuilder {
	b.request = req
	return b
}

func (b *ResponseBuilder) Protocol(p Protocol) *ResponseBuilder {
	b.protocol = p
	return b
}

func (b *ResponseBuilder) StatusLine(sl StatusLine) *ResponseBuilder {
	b.protocol, b.code, b.message = sl.Protocol, sl.Code, sl.Message
	return b
}

func (b *ResponseBuilder) Code(code int) *ResponseBuilder {
	b.code = code
	return b
}

func (b *ResponseBuilder) Message(message string) *ResponseBuilder {
	b.message = message
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	if err := b.headers.Set(name, value); err != nil && b.err == nil {
		b.err = err
	}
	return b
}

func (b *ResponseBuilder) AddHeader(name, value string) *ResponseBuilder {
	if err := b.headers.Add(name, value); err != nil && b.err == nil {
		b.err = err
	}
	return b
}

func (b *ResponseBuilder) RemoveHeader(name string) *ResponseBuilder {
	b.headers.RemoveAll(name)
	return b
}

func (b *ResponseBuilder) Headers(h header.Headers) *ResponseBuilder {
	b.headers = h.Builder()
	return b
}

func (b *ResponseBuilder) Body(body *ResponseBody) *ResponseBuilder {
	b.body = body
	return b
}

func (b *ResponseBuilder) NetworkResponse(r *Response) *ResponseBuilder {
	b.networkResponse = r
	return b
}

func (b *ResponseBuilder) CacheResponse(r *Response) *ResponseBuilder {
	b.cacheResponse = r
	return b
}

func (b *ResponseBuilder) PriorResponse(r *Response) *ResponseBuilder {
	b.priorResponse = r
	return b
}

func (b *ResponseBuilder) TLSHandshake(h *Handshake) *ResponseBuilder {
	b.handshake = h
	return b
}

func (b *ResponseBuilder) SentAtMillis(t int64) *ResponseBuilder {
	b.sentAtMillis = t
	return b
}

func (b *ResponseBuilder) ReceivedAtMillis(t int64) *ResponseBuilder {
	b.receivedAtMillis = t
	return b
}

func (b *ResponseBuilder) Build() (*Response, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.request == nil {
		return nil, errors.New("request is not set")
	}
	if b.code < 0 {
		return nil, errors.Errorf("code is not set: %d", b.code)
	}

	return &Response{
		request:          b.request,
		protocol:         b.protocol,
		code:             b.code,
		message:          b.message,
		headers:          b.headers.Build(),
		body:             b.body,
		networkResponse:  b.networkResponse,
		cacheResponse:    b.cacheResponse,
		priorResponse:    b.priorResponse,
		handshake:        b.handshake,
		sentAtMillis:     b.sentAtMillis,
		receivedAtMillis: b.receivedAtMillis,
	}, nil
}

// ContentLength returns the declared Content-Length of h, or -1 when
// absent or malformed.
func ContentLength(h header.Headers) int64 {
	v, ok := h.Get("Content-Length")
	if !ok {
		return -1
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// HasBody reports whether a response is expected to carry a payload,
// honoring the framing headers even on codes that normally forbid one.
// Reference: https://datatracker.ietf.org/doc/html/rfc7230#section-3.3.3
func HasBody(res *Response) bool {
	if res.Request() != nil && res.Request().Method() == "HEAD" {
		return false
	}

	code := res.Code()
	if (code < StatusContinue || code >= 200) &&
		code != StatusNoContent && code != StatusNotModified {
		return true
	}

	// Content-Length or chunked coding says otherwise; trust them and
	// let callers flag the mismatch.
	if ContentLength(res.Headers()) != -1 {
		return true
	}
	if te, ok := res.Header("Transfer-Encoding"); ok && equalFold(te, "chunked") {
		return true
	}

	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
