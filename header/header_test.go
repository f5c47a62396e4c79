package header

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type HeadersTestSuite struct {
	suite.Suite
}

func TestHeadersTestSuite(t *testing.T) {
	suite.Run(t, new(HeadersTestSuite))
}

func (s *HeadersTestSuite) TestNew() {
	h, err := New(
		"Content-Type", "text/plain",
		"Content-Length", " 3 ",
	)
	s.Require().NoError(err)

	s.Equal(2, h.Size())
	s.Equal("Content-Type", h.Name(0))
	s.Equal("text/plain", h.Value(0))
	s.Equal("3", h.Value(1), "values should be trimmed")
}

func (s *HeadersTestSuite) TestNewOddPairs() {
	_, err := New("Content-Type")
	s.Error(err)
}

func (s *HeadersTestSuite) TestGetIsCaseInsensitive() {
	h, err := New("Cache-Control", "no-store")
	s.Require().NoError(err)

	v, ok := h.Get("cache-control")
	s.True(ok)
	s.Equal("no-store", v)

	_, ok = h.Get("Missing")
	s.False(ok)
}

func (s *HeadersTestSuite) TestGetReturnsLast() {
	h, err := New(
		"Warning", "110 - \"stale\"",
		"Warning", "113 - \"heuristic\"",
	)
	s.Require().NoError(err)

	v, ok := h.Get("Warning")
	s.True(ok)
	s.Equal("113 - \"heuristic\"", v)
}

func (s *HeadersTestSuite) TestValuesKeepOrder() {
	h, err := New(
		"Set-Cookie", "a=1",
		"Vary", "Accept-Encoding",
		"Set-Cookie", "b=2",
	)
	s.Require().NoError(err)

	s.Equal([]string{"a=1", "b=2"}, h.Values("set-cookie"))
	s.Nil(h.Values("Missing"))
}

func (s *HeadersTestSuite) TestNames() {
	h, err := New(
		"Host", "example.com",
		"Accept", "text/html",
		"accept", "text/plain",
	)
	s.Require().NoError(err)

	s.Equal([]string{"Accept", "Host"}, h.Names())
}

func (s *HeadersTestSuite) TestToMultimap() {
	h, err := New(
		"Set-Cookie", "a=1",
		"Vary", "Accept-Encoding",
		"set-cookie", "b=2",
	)
	s.Require().NoError(err)

	s.Equal(map[string][]string{
		"Set-Cookie": {"a=1", "b=2"},
		"Vary":       {"Accept-Encoding"},
	}, h.ToMultimap())
}

func (s *HeadersTestSuite) TestGetDate() {
	h, err := New(
		"Date", "Sun, 06 Nov 1994 08:49:37 GMT",
		"Expires", "junk",
	)
	s.Require().NoError(err)

	got, err := h.GetDate("date")
	s.Require().NoError(err)
	s.True(time.Date(1994, time.November, 6, 8, 49, 37, 0, time.UTC).Equal(got))

	_, err = h.GetDate("Expires")
	s.Error(err)

	_, err = h.GetDate("Last-Modified")
	s.Error(err)
}

func (s *HeadersTestSuite) TestString() {
	h, err := New("A", "1", "B", "2")
	s.Require().NoError(err)

	s.Equal("A: 1\r\nB: 2\r\n", h.String())
}

type BuilderTestSuite struct {
	suite.Suite
}

func TestBuilderTestSuite(t *testing.T) {
	suite.Run(t, new(BuilderTestSuite))
}

func (s *BuilderTestSuite) TestAddValidation() {
	tests := []struct {
		desc    string
		name    string
		value   string
		wantErr bool
	}{
		{desc: "plain", name: "Accept", value: "*/*"},
		{desc: "tab in value allowed", name: "X", value: "a\tb"},
		{desc: "empty name", name: "", value: "v", wantErr: true},
		{desc: "space in name", name: "Bad Name", value: "v", wantErr: true},
		{desc: "del in name", name: "Bad\x7fName", value: "v", wantErr: true},
		{desc: "nul in value", name: "X", value: "a\x00b", wantErr: true},
		{desc: "newline in value", name: "X", value: "a\nb", wantErr: true},
	}
	for _, tt := range tests {
		s.Run(tt.desc, func() {
			err := NewBuilder().Add(tt.name, tt.value)
			if tt.wantErr {
				assert.Error(s.T(), err)
				return
			}
			assert.NoError(s.T(), err)
		})
	}
}

func (s *BuilderTestSuite) TestAddLine() {
	tests := []struct {
		desc    string
		line    string
		name    string
		value   string
		wantErr bool
	}{
		{desc: "plain", line: "Host: example.com", name: "Host", value: "example.com"},
		{desc: "no space after colon", line: "Host:example.com", name: "Host", value: "example.com"},
		{desc: "empty value", line: "Accept:", name: "Accept", value: ""},
		{desc: "missing colon", line: "Host example.com", wantErr: true},
		{desc: "empty name", line: ": value", wantErr: true},
		{desc: "whitespace before colon", line: "Host : example.com", wantErr: true},
	}
	for _, tt := range tests {
		s.Run(tt.desc, func() {
			b := NewBuilder()
			err := b.AddLine(tt.line)
			if tt.wantErr {
				require.Error(s.T(), err)
				return
			}
			require.NoError(s.T(), err)

			h := b.Build()
			assert.Equal(s.T(), tt.name, h.Name(0))
			assert.Equal(s.T(), tt.value, h.Value(0))
		})
	}
}

func (s *BuilderTestSuite) TestAddLenient() {
	b := NewBuilder()
	b.AddLenient("X-Broken", "ok")
	b.AddLenient("", "nameless")

	h := b.Build()
	s.Equal(2, h.Size())
	s.Equal("X-Broken", h.Name(0))
	s.Equal("", h.Name(1))
	s.Equal("nameless", h.Value(1))
}

func (s *BuilderTestSuite) TestSetReplacesAll() {
	b := NewBuilder()
	s.Require().NoError(b.Add("Warning", "110 - \"stale\""))
	s.Require().NoError(b.Add("Date", "x"))
	s.Require().NoError(b.Add("warning", "113 - \"heuristic\""))

	s.Require().NoError(b.Set("Warning", "199 - \"misc\""))

	h := b.Build()
	s.Equal([]string{"199 - \"misc\""}, h.Values("Warning"))
	s.Equal(2, h.Size())
	s.Equal("Date", h.Name(0), "unrelated fields keep their order")
}

func (s *BuilderTestSuite) TestRemoveAll() {
	b := NewBuilder()
	s.Require().NoError(b.Add("A", "1"))
	s.Require().NoError(b.Add("B", "2"))
	s.Require().NoError(b.Add("a", "3"))

	b.RemoveAll("A")

	h := b.Build()
	s.Equal(1, h.Size())
	s.Equal("B", h.Name(0))
}

func (s *BuilderTestSuite) TestRoundTripThroughBuilder() {
	h, err := New("A", "1", "B", "2")
	s.Require().NoError(err)

	b := h.Builder()
	s.Require().NoError(b.Add("C", "3"))

	h2 := b.Build()
	s.Equal(2, h.Size(), "original headers stay untouched")
	s.Equal(3, h2.Size())
}

func (s *BuilderTestSuite) TestBuildCopies() {
	b := NewBuilder()
	s.Require().NoError(b.Add("A", "1"))

	h := b.Build()
	b.RemoveAll("A")

	_, ok := h.Get("A")
	s.True(ok)
}
