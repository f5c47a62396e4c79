package http2

import (
	"bytes"
	"io"
	"sync"

	"github.com/pkg/errors"

	"httpcore/hpack"
)

var ErrSessionClosed = errors.New("session is closed")

// Reference: https://datatracker.ietf.org/doc/html/rfc7540#section-6.5.2
const defaultHeaderTableSize = 4096

// LoopbackHandler answers a request delivered on a loopback session.
type LoopbackHandler func(headers []hpack.HeaderField, body []byte) (resHeaders []hpack.HeaderField, resBody []byte)

// LoopbackSession serves streams in-process from a handler. Header
// lists are round-tripped through the HPACK codec exactly as a framed
// session would, so handlers observe what a peer would decode.
type LoopbackSession struct {
	handler LoopbackHandler

	mu     sync.Mutex
	enc    *hpack.Writer
	dec    *hpack.Reader
	closed bool

	streams []*loopbackStream
}

var _ Session = (*LoopbackSession)(nil)

func NewLoopbackSession(handler LoopbackHandler) *LoopbackSession {
	return &LoopbackSession{
		handler: handler,
		enc:     hpack.NewWriter(),
		dec:     hpack.NewReader(defaultHeaderTableSize),
	}
}

// roundTrip passes a header list through the codec.
func (s *LoopbackSession) roundTrip(headers []hpack.HeaderField) ([]hpack.HeaderField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block := s.enc.WriteHeaders(headers)
	if err := s.dec.ReadHeaders(block); err != nil {
		return nil, err
	}
	return s.dec.GetAndResetHeaderList(), nil
}

func (s *LoopbackSession) OpenStream(headers []hpack.HeaderField, hasBody bool) (Stream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()

	decoded, err := s.roundTrip(headers)
	if err != nil {
		return nil, errors.Wrap(err, "encoding request headers")
	}

	stream := &loopbackStream{
		session:   s,
		headers:   decoded,
		responded: make(chan struct{}),
	}

	s.mu.Lock()
	s.streams = append(s.streams, stream)
	s.mu.Unlock()

	if !hasBody {
		stream.EndStream()
	}
	return stream, nil
}

func (s *LoopbackSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	streams := s.streams
	s.mu.Unlock()

	for _, stream := range streams {
		stream.Cancel()
	}
	return nil
}

type loopbackStream struct {
	session *LoopbackSession
	headers []hpack.HeaderField

	mu        sync.Mutex
	reqBody   bytes.Buffer
	ended     bool
	reset     bool
	resHeader []hpack.HeaderField
	resBody   *bytes.Reader
	resErr    error
	responded chan struct{}
}

var _ Stream = (*loopbackStream)(nil)

func (st *loopbackStream) WriteData(p []byte) (int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case st.reset:
		return 0, ErrStreamReset
	case st.ended:
		return 0, errors.New("request half is closed")
	}
	return st.reqBody.Write(p)
}

func (st *loopbackStream) EndStream() error {
	st.mu.Lock()
	if st.reset {
		st.mu.Unlock()
		return ErrStreamReset
	}
	if st.ended {
		st.mu.Unlock()
		return nil
	}
	st.ended = true
	body := bytes.Clone(st.reqBody.Bytes())
	st.mu.Unlock()

	resHeader, resBody := st.session.handler(st.headers, body)

	decoded, err := st.session.roundTrip(resHeader)

	st.mu.Lock()
	if err != nil {
		st.resErr = errors.Wrap(err, "encoding response headers")
	} else {
		st.resHeader = decoded
		st.resBody = bytes.NewReader(resBody)
	}
	close(st.responded)
	st.mu.Unlock()

	return nil
}

func (st *loopbackStream) ReadHeaders() ([]hpack.HeaderField, error) {
	<-st.responded

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.reset {
		return nil, ErrStreamReset
	}
	return st.resHeader, st.resErr
}

func (st *loopbackStream) ReadData(p []byte) (int, error) {
	<-st.responded

	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case st.reset:
		return 0, ErrStreamReset
	case st.resErr != nil:
		return 0, st.resErr
	case st.resBody.Len() == 0:
		return 0, io.EOF
	}
	return st.resBody.Read(p)
}

func (st *loopbackStream) Cancel() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.reset {
		return nil
	}
	st.reset = true

	select {
	case <-st.responded:
	default:
		close(st.responded)
	}
	return nil
}
