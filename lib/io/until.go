package iolib

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

var ErrZeroLenDelim = errors.New("delim has zero length")

// UntilReader reads delimited records off a stream without consuming
// bytes past the delimiter. Bytes read beyond a match stay buffered
// and are served by the next Read or ReadUntil call.
type UntilReader struct {
	r   io.Reader
	buf bytes.Buffer

	scratch []byte
}

func NewUntilReader(r io.Reader) *UntilReader {
	return &UntilReader{r: r, scratch: make([]byte, 512)}
}

var _ io.Reader = (*UntilReader)(nil)

func (ur *UntilReader) Read(p []byte) (n int, err error) {
	if ur.buf.Len() > 0 {
		n, err = ur.buf.Read(p)
		if err == io.EOF {
			err = nil
		}
		return n, err
	}

	return ur.r.Read(p)
}

// ReadUntil returns bytes up to and including delim.
// If the stream ends first, what was read is returned with the error.
func (ur *UntilReader) ReadUntil(delim []byte) ([]byte, error) {
	if len(delim) == 0 {
		return nil, ErrZeroLenDelim
	}

	// scanned marks how far the buffer is known to be delim-free.
	// Overlap by len(delim)-1 so a match split across reads is seen.
	scanned := 0

	for {
		if idx := bytes.Index(ur.buf.Bytes()[scanned:], delim); idx >= 0 {
			end := scanned + idx + len(delim)

			line := make([]byte, end)
			if _, err := ur.buf.Read(line); err != nil {
				return nil, errors.Wrap(err, "draining buffer")
			}
			return line, nil
		}

		if scanned = ur.buf.Len() - (len(delim) - 1); scanned < 0 {
			scanned = 0
		}

		n, err := ur.r.Read(ur.scratch)
		ur.buf.Write(ur.scratch[:n])

		if err != nil {
			// Stream ended before delim showed up.
			rest := bytes.Clone(ur.buf.Bytes())
			ur.buf.Reset()
			return rest, err
		}
	}
}

// ReadUntilLimit is ReadUntil with an upper bound on bytes consumed
// from the underlying stream. limit of 0 means no bound.
func (ur *UntilReader) ReadUntilLimit(delim []byte, limit uint) ([]byte, error) {
	if limit > 0 {
		r := ur.r
		ur.r = LimitReader(r, limit)
		defer func() { ur.r = r }()
	}

	return ur.ReadUntil(delim)
}
