package message

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Body is a request payload. WriteTo writes straight into the
// transport's request sink and runs once per attempt, so a retry on a
// fresh route calls it again. BytesBody writes the same bytes every
// time; ReaderBody copies from its stream, which is not rewound.
type Body interface {
	// ContentLength returns the byte length, or -1 when unknown.
	ContentLength() int64
	WriteTo(w io.Writer) error
}

type bytesBody struct{ data []byte }

var _ Body = (*bytesBody)(nil)

// BytesBody wraps a byte slice as a replayable request payload.
// The slice must not be mutated afterwards.
func BytesBody(data []byte) Body { return &bytesBody{data: data} }

func (bb *bytesBody) ContentLength() int64 { return int64(len(bb.data)) }

func (bb *bytesBody) WriteTo(w io.Writer) error {
	_, err := io.Copy(w, bytes.NewReader(bb.data))
	return errors.Wrap(err, "writing body bytes")
}

type readerBody struct {
	contentLength int64
	r             io.Reader
}

var _ Body = (*readerBody)(nil)

// ReaderBody wraps a one-shot stream as a request payload.
// contentLength may be -1 when the length is unknown up front.
func ReaderBody(contentLength int64, r io.Reader) Body {
	return &readerBody{contentLength: contentLength, r: r}
}

func (rb *readerBody) ContentLength() int64 { return rb.contentLength }

func (rb *readerBody) WriteTo(w io.Writer) error {
	_, err := io.Copy(w, rb.r)
	return errors.Wrap(err, "copying body stream")
}

var ErrBodyConsumed = errors.New("response body already consumed")

// ResponseBody is a one-shot stream of response payload bytes.
// It must be closed exactly once; closing releases the connection
// the stream is reading from back to its owner.
type ResponseBody struct {
	contentLength int64
	source        io.ReadCloser

	consumed bool
}

var _ io.ReadCloser = (*ResponseBody)(nil)

// NewResponseBody wraps source. contentLength is -1 when unknown.
func NewResponseBody(contentLength int64, source io.ReadCloser) *ResponseBody {
	return &ResponseBody{contentLength: contentLength, source: source}
}

func (rb *ResponseBody) ContentLength() int64 { return rb.contentLength }

func (rb *ResponseBody) Read(p []byte) (int, error) { return rb.source.Read(p) }

func (rb *ResponseBody) Close() error { return rb.source.Close() }

// Bytes reads the entire payload and closes the stream.
func (rb *ResponseBody) Bytes() ([]byte, error) {
	if rb.consumed {
		return nil, ErrBodyConsumed
	}
	rb.consumed = true

	defer rb.source.Close()

	data, err := io.ReadAll(rb.source)
	if err != nil {
		return nil, errors.Wrap(err, "reading body")
	}
	return data, nil
}

// Text is Bytes decoded as UTF-8.
func (rb *ResponseBody) Text() (string, error) {
	data, err := rb.Bytes()
	if err != nil {
		return "", err
	}
	return string(data), nil
}
