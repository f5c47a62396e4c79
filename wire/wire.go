// Package wire defines the contract between the request engine and a
// protocol driver. An HTTP/1 driver frames one exchange at a time
// over an exclusive socket; an HTTP/2 driver maps the exchange onto
// one stream of a shared session.
package wire

import (
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"httpcore/message"
	"httpcore/transport"
)

// DiscardStreamTimeout bounds draining a residual response body so
// its connection can be reused. Draining that would take longer is
// abandoned and the connection closed instead.
const DiscardStreamTimeout = 100 * time.Millisecond

// Engine is the driver's view of the engine running the exchange.
type Engine interface {
	// WritingRequestHeaders is called just before headers hit the
	// wire so the engine can stamp the send time.
	WritingRequestHeaders()

	// Cancelled reports whether the caller gave up on the exchange.
	Cancelled() bool
}

// Transport frames one request/response exchange.
type Transport interface {
	// CreateRequestBody returns a sink that frames body bytes onto
	// the wire: fixed-length when contentLength is known, chunked
	// when the request asks for it.
	CreateRequestBody(req *message.Request, contentLength int64) (io.WriteCloser, error)

	// WriteRequestHeaders emits the request line and headers.
	WriteRequestHeaders(req *message.Request) error

	// WriteRequestBody flushes a previously buffered replayable body.
	WriteRequestBody(sink *RetryableSink) error

	// FinishRequest completes request framing.
	FinishRequest() error

	// ReadResponseHeaders blocks until the status line and headers of
	// the response arrive.
	ReadResponseHeaders() (*message.ResponseBuilder, error)

	// OpenResponseBody returns the framed response payload stream.
	OpenResponseBody(res *message.Response) (io.ReadCloser, error)

	// ReleaseConnectionOnIdle arranges for the connection to go back
	// to its pool once the response body is exhausted or closed.
	ReleaseConnectionOnIdle() error

	// CanReuseConnection reports whether the connection survived the
	// exchange cleanly enough to carry another.
	CanReuseConnection() bool

	// Disconnect forcibly drops the underlying socket.
	Disconnect(engine Engine) error
}

// Discard drains r so the connection under it can be reused,
// abandoning after timeout on the connection's read deadline.
// Returns whether the stream was fully exhausted.
func Discard(r io.Reader, conn transport.Conn, clk clock.Clock, timeout time.Duration) bool {
	conn.SetReadDeadline(clk.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	_, err := io.Copy(io.Discard, r)
	return err == nil
}

var (
	ErrSinkClosed   = errors.New("request sink is closed")
	ErrContentOver  = errors.New("body exceeds declared content length")
	ErrContentShort = errors.New("body shorter than declared content length")
)

// RetryableSink buffers an entire request body in memory so the
// engine can replay it on a fresh route after a connect failure.
type RetryableSink struct {
	contentLength int64
	buf           []byte
	closed        bool
}

var _ io.WriteCloser = (*RetryableSink)(nil)

// NewRetryableSink buffers up to contentLength bytes; pass -1 when
// the length is unknown up front.
func NewRetryableSink(contentLength int64) *RetryableSink {
	return &RetryableSink{contentLength: contentLength}
}

func (s *RetryableSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrSinkClosed
	}
	if s.contentLength >= 0 && int64(len(s.buf)+len(p)) > s.contentLength {
		return 0, errors.Wrapf(ErrContentOver, "declared %d", s.contentLength)
	}
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *RetryableSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.contentLength >= 0 && int64(len(s.buf)) != s.contentLength {
		return errors.Wrapf(ErrContentShort, "declared %d, got %d", s.contentLength, len(s.buf))
	}
	return nil
}

// ContentLength returns the number of buffered bytes.
func (s *RetryableSink) ContentLength() int64 { return int64(len(s.buf)) }

// WriteTo replays the buffered body. It may be called repeatedly.
func (s *RetryableSink) WriteTo(w io.Writer) error {
	_, err := w.Write(s.buf)
	return errors.Wrap(err, "replaying buffered body")
}
