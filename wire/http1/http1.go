// Package http1 frames request/response exchanges over a plain
// socket using HTTP/1.1 message syntax.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112
package http1

import (
	"bufio"
	"io"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"httpcore/header"
	iolib "httpcore/lib/io"
	"httpcore/message"
	"httpcore/transport"
	"httpcore/wire"
)

const (
	// maxLineBytes bounds a status line or header line so a hostile
	// peer cannot grow the read buffer without limit.
	maxLineBytes = 16 * 1024

	crlf = "\r\n"
)

var (
	ErrLineTooLong    = errors.New("line exceeds length limit")
	ErrMalformedChunk = errors.New("malformed chunk")
	ErrBodyRequired   = errors.New("request needs chunked encoding or a known content length")
)

// Transport drives one exchange at a time over an exclusive socket.
type Transport struct {
	engine wire.Engine
	conn   transport.Conn
	clock  clock.Clock

	// proxied requests use the absolute-form target since the proxy,
	// not the origin, interprets the request line.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.2
	proxied bool

	br *iolib.UntilReader
	bw *bufio.Writer

	requestClose  bool
	responseClose bool
	broken        bool

	releaseOnIdle bool
	bodyDone      bool
	onIdle        func(reusable bool)
}

var _ wire.Transport = (*Transport)(nil)

// NewTransport frames exchanges over conn. onIdle fires once the
// response body completes after ReleaseConnectionOnIdle was called,
// reporting whether the socket can carry another exchange.
func NewTransport(engine wire.Engine, conn transport.Conn, clk clock.Clock, proxied bool, onIdle func(reusable bool)) *Transport {
	return &Transport{
		engine:  engine,
		conn:    conn,
		clock:   clk,
		proxied: proxied,
		br:      iolib.NewUntilReader(conn),
		bw:      bufio.NewWriter(conn),
		onIdle:  onIdle,
	}
}

func (t *Transport) WriteRequestHeaders(req *message.Request) error {
	t.engine.WritingRequestHeaders()

	if value, ok := req.Header("Connection"); ok && strings.EqualFold(value, "close") {
		t.requestClose = true
	}

	if err := t.writeLine(req.Method() + " " + t.requestTarget(req) + " HTTP/1.1"); err != nil {
		return err
	}

	headers := req.Headers()
	for idx := 0; idx < headers.Size(); idx++ {
		if err := t.writeLine(headers.Name(idx) + ": " + headers.Value(idx)); err != nil {
			return err
		}
	}
	if err := t.writeLine(""); err != nil {
		return err
	}

	return errors.Wrap(t.bw.Flush(), "flushing request headers")
}

func (t *Transport) requestTarget(req *message.Request) string {
	u := req.URL()
	if t.proxied && !req.IsHTTPS() {
		return u.Scheme + "://" + u.HostHeader() + u.RequestTarget()
	}
	return u.RequestTarget()
}

func (t *Transport) writeLine(line string) error {
	if _, err := t.bw.WriteString(line); err != nil {
		return errors.Wrap(err, "writing line")
	}
	_, err := t.bw.WriteString(crlf)
	return errors.Wrap(err, "writing line terminator")
}

func (t *Transport) CreateRequestBody(req *message.Request, contentLength int64) (io.WriteCloser, error) {
	if value, ok := req.Header("Transfer-Encoding"); ok && strings.EqualFold(value, "chunked") {
		return &chunkedSink{bw: t.bw}, nil
	}
	if contentLength != -1 {
		return &fixedSink{bw: t.bw, remaining: contentLength}, nil
	}
	return nil, ErrBodyRequired
}

func (t *Transport) WriteRequestBody(sink *wire.RetryableSink) error {
	return sink.WriteTo(t.bw)
}

func (t *Transport) FinishRequest() error {
	return errors.Wrap(t.bw.Flush(), "flushing request")
}

// ReadResponseHeaders reads status line and headers, skipping interim
// 1xx responses until a final one arrives.
func (t *Transport) ReadResponseHeaders() (*message.ResponseBuilder, error) {
	for {
		line, err := t.readLine()
		if err != nil {
			t.broken = true
			return nil, errors.Wrap(err, "reading status line")
		}

		statusLine, err := message.ParseStatusLine(line)
		if err != nil {
			t.broken = true
			return nil, err
		}

		headers, err := t.readHeaders()
		if err != nil {
			t.broken = true
			return nil, err
		}

		if statusLine.Code == message.StatusContinue {
			continue
		}

		if value, ok := headers.Get("Connection"); ok && strings.EqualFold(value, "close") {
			t.responseClose = true
		}

		return message.NewResponseBuilder().
			StatusLine(statusLine).
			Headers(headers), nil
	}
}

func (t *Transport) readLine() (string, error) {
	raw, err := t.br.ReadUntilLimit([]byte(crlf), maxLineBytes)
	if err != nil {
		return "", err
	}
	line, found := strings.CutSuffix(string(raw), crlf)
	if !found {
		return "", errors.Wrapf(ErrLineTooLong, "%d bytes", len(raw))
	}
	return line, nil
}

func (t *Transport) readHeaders() (header.Headers, error) {
	hb := header.NewBuilder()
	for {
		line, err := t.readLine()
		if err != nil {
			return header.Headers{}, errors.Wrap(err, "reading header line")
		}
		if line == "" {
			return hb.Build(), nil
		}

		// Fields already on the wire are taken leniently; rejecting
		// here would lose the whole message.
		name, value, found := strings.Cut(line, ":")
		if !found {
			name, value = "", line
		}
		hb.AddLenient(strings.TrimRight(name, " \t"), value)
	}
}

func (t *Transport) OpenResponseBody(res *message.Response) (io.ReadCloser, error) {
	if !message.HasBody(res) {
		return &fixedSource{t: t}, nil
	}

	if value, ok := res.Header("Transfer-Encoding"); ok && strings.EqualFold(value, "chunked") {
		return &chunkedSource{t: t}, nil
	}

	if length := message.ContentLength(res.Headers()); length != -1 {
		return &fixedSource{t: t, remaining: length}, nil
	}

	// Without framing the body runs to connection close, which also
	// spends the connection.
	t.responseClose = true
	return &unknownSource{t: t}, nil
}

func (t *Transport) ReleaseConnectionOnIdle() error {
	t.releaseOnIdle = true
	return nil
}

func (t *Transport) CanReuseConnection() bool {
	return !t.broken && !t.requestClose && !t.responseClose
}

func (t *Transport) Disconnect(wire.Engine) error {
	return t.conn.Close()
}

// endOfBody fires the idle callback once the response stream is
// spent, successfully or not.
func (t *Transport) endOfBody() {
	if t.bodyDone {
		return
	}
	t.bodyDone = true

	if t.releaseOnIdle && t.onIdle != nil {
		t.onIdle(t.CanReuseConnection())
	}
}

// drainOrBreak empties a residual stream within the discard budget so
// the connection stays reusable, or marks it spent.
func (t *Transport) drainOrBreak(remaining io.Reader) {
	if !wire.Discard(remaining, t.conn, t.clock, wire.DiscardStreamTimeout) {
		t.broken = true
	}
}
