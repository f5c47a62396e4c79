package http1

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"httpcore/transport"
	"httpcore/wire"
)

func isEOF(err error) bool {
	return err == io.EOF || errors.Is(err, transport.ErrConnClosed)
}

// fixedSink frames a request body with a known Content-Length.
type fixedSink struct {
	bw        *bufio.Writer
	remaining int64
	closed    bool
}

var _ io.WriteCloser = (*fixedSink)(nil)

func (s *fixedSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, wire.ErrSinkClosed
	}
	if int64(len(p)) > s.remaining {
		return 0, errors.Wrapf(wire.ErrContentOver, "%d over", int64(len(p))-s.remaining)
	}

	n, err := s.bw.Write(p)
	s.remaining -= int64(n)
	return n, errors.Wrap(err, "writing body")
}

func (s *fixedSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.remaining > 0 {
		return errors.Wrapf(wire.ErrContentShort, "%d short", s.remaining)
	}
	return nil
}

// chunkedSink frames a request body with chunked transfer coding.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-7.1
type chunkedSink struct {
	bw     *bufio.Writer
	closed bool
}

var _ io.WriteCloser = (*chunkedSink)(nil)

func (s *chunkedSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, wire.ErrSinkClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	if _, err := s.bw.WriteString(strconv.FormatInt(int64(len(p)), 16) + crlf); err != nil {
		return 0, errors.Wrap(err, "writing chunk size")
	}
	n, err := s.bw.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "writing chunk data")
	}
	if _, err := s.bw.WriteString(crlf); err != nil {
		return n, errors.Wrap(err, "terminating chunk")
	}
	return n, nil
}

func (s *chunkedSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if _, err := s.bw.WriteString("0" + crlf + crlf); err != nil {
		return errors.Wrap(err, "writing last chunk")
	}
	return nil
}

// fixedSource reads exactly remaining bytes off the connection.
type fixedSource struct {
	t         *Transport
	remaining int64
	closed    bool
}

var _ io.ReadCloser = (*fixedSource)(nil)

func (s *fixedSource) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errors.New("body is closed")
	}
	if s.remaining == 0 {
		s.t.endOfBody()
		return 0, io.EOF
	}

	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.t.br.Read(p)
	s.remaining -= int64(n)

	if err != nil && s.remaining > 0 {
		s.t.broken = true
		if isEOF(err) {
			return n, io.ErrUnexpectedEOF
		}
		return n, errors.Wrap(err, "reading body")
	}
	if s.remaining == 0 {
		s.t.endOfBody()
	}
	return n, nil
}

func (s *fixedSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.remaining > 0 {
		s.t.drainOrBreak(io.LimitReader(s.t.br, s.remaining))
	}
	s.t.endOfBody()
	return nil
}

// chunkedSource decodes a chunked response body.
type chunkedSource struct {
	t *Transport

	remaining int64
	started   bool
	done      bool
	closed    bool
}

var _ io.ReadCloser = (*chunkedSource)(nil)

func (s *chunkedSource) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errors.New("body is closed")
	}
	return s.read(p)
}

func (s *chunkedSource) read(p []byte) (int, error) {
	if s.done {
		return 0, io.EOF
	}

	if s.remaining == 0 {
		if err := s.nextChunk(); err != nil {
			s.t.broken = true
			return 0, err
		}
		if s.done {
			s.t.endOfBody()
			return 0, io.EOF
		}
	}

	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.t.br.Read(p)
	s.remaining -= int64(n)

	if err != nil {
		s.t.broken = true
		if isEOF(err) {
			return n, io.ErrUnexpectedEOF
		}
		return n, errors.Wrap(err, "reading chunk data")
	}
	return n, nil
}

func (s *chunkedSource) nextChunk() error {
	if s.started {
		// Consume the CRLF terminating the previous chunk's data.
		if line, err := s.t.readLine(); err != nil {
			return errors.Wrap(err, "reading chunk terminator")
		} else if line != "" {
			return errors.Wrap(ErrMalformedChunk, "data overran its size")
		}
	}
	s.started = true

	line, err := s.t.readLine()
	if err != nil {
		return errors.Wrap(err, "reading chunk size")
	}

	// Chunk extensions are tolerated and dropped.
	sizeText, _, _ := strings.Cut(line, ";")
	size, err := strconv.ParseInt(strings.TrimSpace(sizeText), 16, 64)
	if err != nil || size < 0 {
		return errors.Wrapf(ErrMalformedChunk, "size %q", sizeText)
	}

	if size == 0 {
		s.done = true
		return s.readTrailers()
	}

	s.remaining = size
	return nil
}

// readTrailers drops trailer fields up to the final empty line.
func (s *chunkedSource) readTrailers() error {
	for {
		line, err := s.t.readLine()
		if err != nil {
			return errors.Wrap(err, "reading trailer")
		}
		if line == "" {
			return nil
		}
	}
}

func (s *chunkedSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if !s.done {
		s.t.drainOrBreak(readerFunc(s.read))
	}
	s.t.endOfBody()
	return nil
}

// unknownSource reads until the peer closes the connection.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.8
type unknownSource struct {
	t      *Transport
	closed bool
}

var _ io.ReadCloser = (*unknownSource)(nil)

func (s *unknownSource) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errors.New("body is closed")
	}

	n, err := s.t.br.Read(p)
	if err != nil {
		if isEOF(err) {
			s.t.endOfBody()
			return n, io.EOF
		}
		return n, errors.Wrap(err, "reading body")
	}
	return n, nil
}

func (s *unknownSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	// There is no framing to drain to; the connection is spent.
	s.t.endOfBody()
	return nil
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
