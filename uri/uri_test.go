package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func strptr(s string) *string { return &s }

func portptr(p uint16) *uint16 { return &p }

type ParseTestSuite struct {
	suite.Suite
}

func TestParseTestSuite(t *testing.T) {
	suite.Run(t, new(ParseTestSuite))
}

func (s *ParseTestSuite) TestParse() {
	tests := []struct {
		desc    string
		input   string
		want    URI
		wantErr bool
	}{
		{
			desc:  "full http url",
			input: "http://user@example.com:8080/a/b?q=1#frag",
			want: URI{
				Scheme: "http",
				Authority: &Authority{
					UserInfo: "user",
					Host:     "example.com",
					Port:     portptr(8080),
				},
				Path:     "/a/b",
				Query:    strptr("q=1"),
				Fragment: strptr("frag"),
			},
		},
		{
			desc:  "no port",
			input: "https://example.com/",
			want: URI{
				Scheme:    "https",
				Authority: &Authority{Host: "example.com"},
				Path:      "/",
			},
		},
		{
			desc:  "host is lowercased",
			input: "http://EXAMPLE.com",
			want: URI{
				Scheme:    "http",
				Authority: &Authority{Host: "example.com"},
			},
		},
		{
			desc:  "scheme is lowercased",
			input: "HTTP://example.com",
			want: URI{
				Scheme:    "http",
				Authority: &Authority{Host: "example.com"},
			},
		},
		{
			desc:  "query directly after authority",
			input: "http://example.com?q=1",
			want: URI{
				Scheme:    "http",
				Authority: &Authority{Host: "example.com"},
				Query:     strptr("q=1"),
			},
		},
		{
			desc:  "percent encoded path",
			input: "http://example.com/a%20b",
			want: URI{
				Scheme:    "http",
				Authority: &Authority{Host: "example.com"},
				Path:      "/a b",
			},
		},
		{
			desc:  "ipv6 literal",
			input: "http://[::1]:8080/",
			want: URI{
				Scheme: "http",
				Authority: &Authority{
					Host: "[::1]",
					Port: portptr(8080),
				},
				Path: "/",
			},
		},
		{
			desc:  "relative ref",
			input: "/a/b?q",
			want: URI{
				Path:  "/a/b",
				Query: strptr("q"),
			},
		},
		{desc: "ctl byte", input: "http://example.com/\x00", wantErr: true},
		{desc: "bad port", input: "http://example.com:999999", wantErr: true},
		{desc: "port leading zero", input: "http://example.com:080", wantErr: true},
		{desc: "unterminated ip literal", input: "http://[::1/", wantErr: true},
		{desc: "bad percent encoding", input: "http://example.com/a%2", wantErr: true},
	}
	for _, tt := range tests {
		s.Run(tt.desc, func() {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(s.T(), err)
				return
			}
			require.NoError(s.T(), err)
			assert.Equal(s.T(), tt.want, got)
		})
	}
}

func (s *ParseTestSuite) TestStringRoundTrip() {
	inputs := []string{
		"http://example.com/a/b?q=1#frag",
		"https://user@example.com:8443/",
		"http://example.com",
	}
	for _, input := range inputs {
		s.Run(input, func() {
			parsed, err := Parse(input)
			require.NoError(s.T(), err)
			assert.Equal(s.T(), input, parsed.String())
		})
	}
}

func TestNormalize(t *testing.T) {
	u := URI{
		Scheme:    "HTTP",
		Authority: &Authority{Host: "Example.COM"},
		Path:      "/a/./b/../c",
	}

	got, err := Normalize(u)
	require.NoError(t, err)

	assert.Equal(t, "http", got.Scheme)
	assert.Equal(t, "example.com", got.Authority.Host)
	assert.Equal(t, "/a/c", got.Path)
}

type HTTPHelpersTestSuite struct {
	suite.Suite
}

func TestHTTPHelpersTestSuite(t *testing.T) {
	suite.Run(t, new(HTTPHelpersTestSuite))
}

func (s *HTTPHelpersTestSuite) TestEffectivePort() {
	tests := []struct {
		desc  string
		input string
		want  uint16
	}{
		{desc: "http default", input: "http://example.com", want: 80},
		{desc: "https default", input: "https://example.com", want: 443},
		{desc: "explicit", input: "http://example.com:8080", want: 8080},
		{desc: "explicit matching default", input: "http://example.com:80", want: 80},
	}
	for _, tt := range tests {
		s.Run(tt.desc, func() {
			u, err := Parse(tt.input)
			require.NoError(s.T(), err)
			assert.Equal(s.T(), tt.want, u.EffectivePort())
		})
	}
}

func (s *HTTPHelpersTestSuite) TestHostHeader() {
	tests := []struct {
		desc  string
		input string
		want  string
	}{
		{desc: "default port omitted", input: "http://example.com:80/", want: "example.com"},
		{desc: "no port", input: "https://example.com/", want: "example.com"},
		{desc: "non-default port kept", input: "https://example.com:8443/", want: "example.com:8443"},
	}
	for _, tt := range tests {
		s.Run(tt.desc, func() {
			u, err := Parse(tt.input)
			require.NoError(s.T(), err)
			assert.Equal(s.T(), tt.want, u.HostHeader())
		})
	}
}

func (s *HTTPHelpersTestSuite) TestRequestTarget() {
	tests := []struct {
		desc  string
		input string
		want  string
	}{
		{desc: "root", input: "http://example.com", want: "/"},
		{desc: "path and query", input: "http://example.com/a?b=c", want: "/a?b=c"},
		{desc: "fragment dropped", input: "http://example.com/a#frag", want: "/a"},
	}
	for _, tt := range tests {
		s.Run(tt.desc, func() {
			u, err := Parse(tt.input)
			require.NoError(s.T(), err)
			assert.Equal(s.T(), tt.want, u.RequestTarget())
		})
	}
}

func (s *HTTPHelpersTestSuite) TestRedacted() {
	u, err := Parse("http://secret@example.com/")
	s.Require().NoError(err)

	s.Equal("http://xxxxx@example.com/", u.Redacted())
}

type ResolveTestSuite struct {
	suite.Suite

	resolver *RefResolver
}

func TestResolveTestSuite(t *testing.T) {
	suite.Run(t, new(ResolveTestSuite))
}

func (s *ResolveTestSuite) SetupTest() {
	base, err := Parse("http://a/b/c/d;p?q")
	s.Require().NoError(err)

	s.resolver, err = NewRefResolver(base)
	s.Require().NoError(err)
}

func (s *ResolveTestSuite) TestRelativeBaseRejected() {
	base, err := Parse("/relative")
	s.Require().NoError(err)

	_, err = NewRefResolver(base)
	s.Error(err)
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.4.1
func (s *ResolveTestSuite) TestNormalExamples() {
	tests := []struct {
		ref  string
		want string
	}{
		{ref: "g", want: "http://a/b/c/g"},
		{ref: "./g", want: "http://a/b/c/g"},
		{ref: "g/", want: "http://a/b/c/g/"},
		{ref: "/g", want: "http://a/g"},
		{ref: "//g", want: "http://g"},
		{ref: "?y", want: "http://a/b/c/d;p?y"},
		{ref: "g?y", want: "http://a/b/c/g?y"},
		{ref: "#s", want: "http://a/b/c/d;p?q#s"},
		{ref: "g#s", want: "http://a/b/c/g#s"},
		{ref: ";x", want: "http://a/b/c/;x"},
		{ref: "", want: "http://a/b/c/d;p?q"},
		{ref: ".", want: "http://a/b/c/"},
		{ref: "..", want: "http://a/b/"},
		{ref: "../g", want: "http://a/b/g"},
		{ref: "../..", want: "http://a/"},
		{ref: "../../g", want: "http://a/g"},
	}
	for _, tt := range tests {
		s.Run(tt.ref, func() {
			ref, err := Parse(tt.ref)
			require.NoError(s.T(), err)

			got := s.resolver.Resolve(ref)
			assert.Equal(s.T(), tt.want, got.String())
		})
	}
}

func (s *ResolveTestSuite) TestAbsoluteRefWins() {
	ref, err := Parse("https://other/x")
	s.Require().NoError(err)

	got := s.resolver.Resolve(ref)
	s.Equal("https://other/x", got.String())
}
