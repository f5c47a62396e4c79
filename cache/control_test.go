package cache

import (
	"testing"

	"httpcore/header"

	"github.com/stretchr/testify/assert"
)

func TestParseControl(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    Control
	}{
		{
			name:    "empty",
			headers: nil,
			want:    Control{MaxAgeSeconds: -1, MaxStaleSeconds: -1, MinFreshSeconds: -1},
		},
		{
			name:    "max age",
			headers: []string{"Cache-Control", "max-age=60"},
			want:    Control{MaxAgeSeconds: 60, MaxStaleSeconds: -1, MinFreshSeconds: -1},
		},
		{
			name:    "quoted argument",
			headers: []string{"Cache-Control", `max-age="120"`},
			want:    Control{MaxAgeSeconds: 120, MaxStaleSeconds: -1, MinFreshSeconds: -1},
		},
		{
			name:    "combined directives",
			headers: []string{"Cache-Control", "no-cache, no-store, must-revalidate"},
			want: Control{
				NoCache: true, NoStore: true, MustRevalidate: true,
				MaxAgeSeconds: -1, MaxStaleSeconds: -1, MinFreshSeconds: -1,
			},
		},
		{
			name:    "case insensitive names",
			headers: []string{"Cache-Control", "No-Cache, Max-Age=30"},
			want:    Control{NoCache: true, MaxAgeSeconds: 30, MaxStaleSeconds: -1, MinFreshSeconds: -1},
		},
		{
			name:    "bare max-stale accepts any staleness",
			headers: []string{"Cache-Control", "max-stale"},
			want:    Control{MaxAgeSeconds: -1, MaxStaleSeconds: int(maxAgeCap), MinFreshSeconds: -1},
		},
		{
			name:    "request directives",
			headers: []string{"Cache-Control", "max-stale=300, min-fresh=10, only-if-cached, no-transform"},
			want: Control{
				MaxAgeSeconds: -1, MaxStaleSeconds: 300, MinFreshSeconds: 10,
				OnlyIfCached: true, NoTransform: true,
			},
		},
		{
			name:    "pragma no-cache",
			headers: []string{"Pragma", "no-cache"},
			want:    Control{NoCache: true, MaxAgeSeconds: -1, MaxStaleSeconds: -1, MinFreshSeconds: -1},
		},
		{
			name:    "split across headers",
			headers: []string{"Cache-Control", "public", "Cache-Control", "max-age=15"},
			want:    Control{Public: true, MaxAgeSeconds: 15, MaxStaleSeconds: -1, MinFreshSeconds: -1},
		},
		{
			name:    "malformed seconds ignored",
			headers: []string{"Cache-Control", "max-age=abc, private"},
			want:    Control{Private: true, MaxAgeSeconds: -1, MaxStaleSeconds: -1, MinFreshSeconds: -1},
		},
		{
			name:    "negative seconds ignored",
			headers: []string{"Cache-Control", "max-age=-5"},
			want:    Control{MaxAgeSeconds: -1, MaxStaleSeconds: -1, MinFreshSeconds: -1},
		},
		{
			name:    "overflow clamped",
			headers: []string{"Cache-Control", "max-age=99999999999999"},
			want:    Control{MaxAgeSeconds: int(maxAgeCap), MaxStaleSeconds: -1, MinFreshSeconds: -1},
		},
		{
			name:    "unrelated headers ignored",
			headers: []string{"Content-Type", "no-store", "Cache-Control", "public"},
			want:    Control{Public: true, MaxAgeSeconds: -1, MaxStaleSeconds: -1, MinFreshSeconds: -1},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h, err := header.New(test.headers...)
			if err != nil {
				t.Fatal(err)
			}
			assert.Equal(t, test.want, ParseControl(h))
		})
	}
}
