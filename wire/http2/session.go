// Package http2 maps request/response exchanges onto streams of a
// multiplexed session. The session itself, its framing and its flow
// control live behind the [Session] contract; this package converts
// between messages and HPACK-ready header lists.
// Reference: https://datatracker.ietf.org/doc/html/rfc7540
package http2

import (
	"github.com/pkg/errors"

	"httpcore/hpack"
)

var ErrStreamReset = errors.New("stream was reset")

// Session is an established HTTP/2 connection carrying concurrent
// streams. Implementations own the framer, HPACK state, and flow
// control windows.
type Session interface {
	// OpenStream sends the header list as the stream-opening HEADERS
	// frame. When hasBody is false the request half is closed
	// immediately.
	OpenStream(headers []hpack.HeaderField, hasBody bool) (Stream, error)

	// Close tears the whole session down, resetting every stream.
	Close() error
}

// Stream is one exchange on a session.
type Stream interface {
	// WriteData sends request payload bytes as DATA frames.
	WriteData(p []byte) (int, error)

	// EndStream half-closes the request side.
	EndStream() error

	// ReadHeaders blocks until the response HEADERS frame arrives.
	ReadHeaders() ([]hpack.HeaderField, error)

	// ReadData reads response payload bytes, returning io.EOF once
	// the peer half-closes.
	ReadData(p []byte) (int, error)

	// Cancel resets the stream without spending the session.
	Cancel() error
}
