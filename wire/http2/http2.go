package http2

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"httpcore/header"
	"httpcore/hpack"
	"httpcore/message"
	"httpcore/wire"
)

// Connection-specific header fields never travel on HTTP/2.
// Reference: https://datatracker.ietf.org/doc/html/rfc7540#section-8.1.2.2
var droppedRequestHeaders = map[string]struct{}{
	"connection":        {},
	"host":              {},
	"keep-alive":        {},
	"proxy-connection":  {},
	"te":                {},
	"transfer-encoding": {},
	"upgrade":           {},
}

// Transport frames one exchange as a stream on a shared session.
type Transport struct {
	engine  wire.Engine
	session Session

	stream  Stream
	hasBody bool
	ended   bool
	broken  bool

	releaseOnIdle bool
	bodyDone      bool
	onIdle        func(reusable bool)
}

var _ wire.Transport = (*Transport)(nil)

func NewTransport(engine wire.Engine, session Session, onIdle func(reusable bool)) *Transport {
	return &Transport{
		engine:  engine,
		session: session,
		onIdle:  onIdle,
	}
}

func (t *Transport) WriteRequestHeaders(req *message.Request) error {
	t.engine.WritingRequestHeaders()

	t.hasBody = req.Body() != nil
	stream, err := t.session.OpenStream(requestHeaderList(req), t.hasBody)
	if err != nil {
		t.broken = true
		return errors.Wrap(err, "opening stream")
	}
	t.stream = stream
	return nil
}

// requestHeaderList lowers a request into HPACK form: pseudo-header
// fields first, then each header with a lowercased name, minus the
// connection-specific fields HTTP/2 forbids.
func requestHeaderList(req *message.Request) []hpack.HeaderField {
	u := req.URL()
	headers := req.Headers()

	list := make([]hpack.HeaderField, 0, 4+headers.Size())
	list = append(list,
		hpack.HeaderField{Name: hpack.PseudoMethod, Value: req.Method()},
		hpack.HeaderField{Name: hpack.PseudoPath, Value: u.RequestTarget()},
		hpack.HeaderField{Name: hpack.PseudoScheme, Value: u.Scheme},
		hpack.HeaderField{Name: hpack.PseudoAuthority, Value: u.HostHeader()},
	)

	for idx := 0; idx < headers.Size(); idx++ {
		name := strings.ToLower(headers.Name(idx))
		if _, dropped := droppedRequestHeaders[name]; dropped {
			continue
		}
		list = append(list, hpack.HeaderField{Name: name, Value: headers.Value(idx)})
	}
	return list
}

func (t *Transport) CreateRequestBody(*message.Request, int64) (io.WriteCloser, error) {
	return &streamSink{t: t}, nil
}

func (t *Transport) WriteRequestBody(sink *wire.RetryableSink) error {
	if err := sink.WriteTo(streamWriter{t.stream}); err != nil {
		return err
	}
	return t.endStream()
}

func (t *Transport) FinishRequest() error {
	if t.hasBody {
		return t.endStream()
	}
	return nil
}

func (t *Transport) endStream() error {
	if t.ended {
		return nil
	}
	t.ended = true
	return errors.Wrap(t.stream.EndStream(), "half-closing stream")
}

func (t *Transport) ReadResponseHeaders() (*message.ResponseBuilder, error) {
	list, err := t.stream.ReadHeaders()
	if err != nil {
		t.broken = true
		return nil, errors.Wrap(err, "reading response headers")
	}

	code := -1
	hb := header.NewBuilder()
	for _, field := range list {
		if field.Name == hpack.PseudoStatus {
			code, err = strconv.Atoi(field.Value)
			if err != nil {
				return nil, errors.Errorf("malformed :status %q", field.Value)
			}
			continue
		}
		if strings.HasPrefix(field.Name, ":") {
			continue
		}
		hb.AddLenient(field.Name, field.Value)
	}
	if code == -1 {
		return nil, errors.New("response is missing :status")
	}

	return message.NewResponseBuilder().
		Protocol(message.ProtocolHTTP2).
		Code(code).
		Headers(hb.Build()), nil
}

func (t *Transport) OpenResponseBody(*message.Response) (io.ReadCloser, error) {
	return &streamSource{t: t}, nil
}

func (t *Transport) ReleaseConnectionOnIdle() error {
	t.releaseOnIdle = true
	return nil
}

// CanReuseConnection is true even after a stream failure: resetting a
// stream spends nothing session-wide.
func (t *Transport) CanReuseConnection() bool { return true }

func (t *Transport) Disconnect(wire.Engine) error {
	return t.session.Close()
}

func (t *Transport) endOfBody() {
	if t.bodyDone {
		return
	}
	t.bodyDone = true

	if t.releaseOnIdle && t.onIdle != nil {
		t.onIdle(!t.broken)
	}
}

// streamSink frames request body bytes onto the stream and
// half-closes on Close.
type streamSink struct {
	t      *Transport
	closed bool
}

var _ io.WriteCloser = (*streamSink)(nil)

func (s *streamSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, wire.ErrSinkClosed
	}
	return s.t.stream.WriteData(p)
}

func (s *streamSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.t.endStream()
}

type streamWriter struct{ stream Stream }

func (w streamWriter) Write(p []byte) (int, error) { return w.stream.WriteData(p) }

// streamSource reads DATA frames until the peer half-closes.
type streamSource struct {
	t      *Transport
	closed bool
	eof    bool
}

var _ io.ReadCloser = (*streamSource)(nil)

func (s *streamSource) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errors.New("body is closed")
	}

	n, err := s.t.stream.ReadData(p)
	if err == io.EOF {
		s.eof = true
		s.t.endOfBody()
		return n, io.EOF
	}
	return n, errors.Wrap(err, "reading stream data")
}

// Close resets the stream when the body was abandoned early. The
// session, unlike an HTTP/1 socket, survives that.
func (s *streamSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if !s.eof {
		s.t.stream.Cancel()
	}
	s.t.endOfBody()
	return nil
}
