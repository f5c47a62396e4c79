package client

import (
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// gzipSource lazily decodes a gzip body. The gzip header is only read
// on the first Read, so wrapping a response never blocks on the
// network by itself.
type gzipSource struct {
	body io.ReadCloser

	zr  *gzip.Reader
	err error
}

var _ io.ReadCloser = (*gzipSource)(nil)

func newGzipSource(body io.ReadCloser) *gzipSource {
	return &gzipSource{body: body}
}

func (s *gzipSource) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.zr == nil {
		zr, err := gzip.NewReader(s.body)
		if err != nil {
			s.err = errors.Wrap(err, "reading gzip header")
			return 0, s.err
		}
		s.zr = zr
	}
	return s.zr.Read(p)
}

func (s *gzipSource) Close() error {
	if s.zr != nil {
		_ = s.zr.Close()
	}
	return s.body.Close()
}
