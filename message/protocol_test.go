package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusLine(t *testing.T) {
	tests := []struct {
		desc    string
		input   string
		want    StatusLine
		wantErr bool
	}{
		{
			desc:  "plain",
			input: "HTTP/1.1 200 OK",
			want:  StatusLine{Protocol: ProtocolHTTP11, Code: 200, Message: "OK"},
		},
		{
			desc:  "http 1.0",
			input: "HTTP/1.0 404 Not Found",
			want:  StatusLine{Protocol: ProtocolHTTP10, Code: 404, Message: "Not Found"},
		},
		{
			desc:  "empty reason",
			input: "HTTP/1.1 503",
			want:  StatusLine{Protocol: ProtocolHTTP11, Code: 503},
		},
		{desc: "unknown version", input: "HTTP/0.9 200 OK", wantErr: true},
		{desc: "short code", input: "HTTP/1.1 20 OK", wantErr: true},
		{desc: "non-numeric code", input: "HTTP/1.1 2x0 OK", wantErr: true},
		{desc: "no space", input: "HTTP/1.1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := ParseStatusLine(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusLineString(t *testing.T) {
	sl := StatusLine{Protocol: ProtocolHTTP11, Code: 200, Message: "OK"}
	assert.Equal(t, "HTTP/1.1 200 OK", sl.String())

	sl = StatusLine{Protocol: ProtocolHTTP10, Code: 204}
	assert.Equal(t, "HTTP/1.0 204", sl.String())
}

func TestProtocolRoundTrip(t *testing.T) {
	for _, p := range []Protocol{ProtocolHTTP10, ProtocolHTTP11, ProtocolHTTP2} {
		got, err := ParseProtocol(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParseProtocol("spdy/3.1")
	assert.Error(t, err)
}
