package iolib

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// oneByteReader forces one byte per Read so delimiters get split
// across reads.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

type UntilReaderTestSuite struct {
	suite.Suite
}

func TestUntilReaderTestSuite(t *testing.T) {
	suite.Run(t, new(UntilReaderTestSuite))
}

func (s *UntilReaderTestSuite) TestReadUntil() {
	tests := []struct {
		desc  string
		input string
		delim string
		want  string
	}{
		{desc: "single byte delim", input: "abc\ndef", delim: "\n", want: "abc\n"},
		{desc: "multi byte delim", input: "abc\r\ndef", delim: "\r\n", want: "abc\r\n"},
		{desc: "delim at start", input: "\r\nrest", delim: "\r\n", want: "\r\n"},
		{desc: "delim only", input: "\r\n", delim: "\r\n", want: "\r\n"},
	}
	for _, tt := range tests {
		s.Run(tt.desc, func() {
			ur := NewUntilReader(strings.NewReader(tt.input))

			got, err := ur.ReadUntil([]byte(tt.delim))
			require.NoError(s.T(), err)
			assert.Equal(s.T(), tt.want, string(got))

			rest, err := io.ReadAll(ur)
			require.NoError(s.T(), err)
			assert.Equal(s.T(), tt.input[len(tt.want):], string(rest))
		})
	}
}

func (s *UntilReaderTestSuite) TestReadUntilSplitDelim() {
	ur := NewUntilReader(oneByteReader{strings.NewReader("status line\r\nnext")})

	got, err := ur.ReadUntil([]byte("\r\n"))
	s.Require().NoError(err)
	s.Equal("status line\r\n", string(got))

	rest, err := io.ReadAll(ur)
	s.Require().NoError(err)
	s.Equal("next", string(rest))
}

func (s *UntilReaderTestSuite) TestReadUntilSequential() {
	ur := NewUntilReader(strings.NewReader("a\r\nb\r\n\r\n"))

	for _, want := range []string{"a\r\n", "b\r\n", "\r\n"} {
		got, err := ur.ReadUntil([]byte("\r\n"))
		s.Require().NoError(err)
		s.Equal(want, string(got))
	}
}

func (s *UntilReaderTestSuite) TestReadUntilEOF() {
	ur := NewUntilReader(strings.NewReader("no delim here"))

	got, err := ur.ReadUntil([]byte("\r\n"))
	s.ErrorIs(err, io.EOF)
	s.Equal("no delim here", string(got))
}

func (s *UntilReaderTestSuite) TestReadUntilZeroDelim() {
	ur := NewUntilReader(strings.NewReader("x"))

	_, err := ur.ReadUntil(nil)
	s.ErrorIs(err, ErrZeroLenDelim)
}

func (s *UntilReaderTestSuite) TestReadUntilLimit() {
	ur := NewUntilReader(strings.NewReader("0123456789\r\n"))

	_, err := ur.ReadUntilLimit([]byte("\r\n"), 4)
	s.ErrorIs(err, io.EOF)

	// Underlying reader is restored after the limited call. The four
	// bytes read under the limit were returned with the error.
	got, err := ur.ReadUntil([]byte("\r\n"))
	s.Require().NoError(err)
	s.Equal("456789\r\n", string(got))
}
