package header

import (
	"time"

	"github.com/pkg/errors"
)

// Date formats accepted from servers, in order of preference.
// Reference: https://datatracker.ietf.org/doc/html/rfc7231#section-7.1.1.1
var dateFormats = []string{
	"Mon, 02 Jan 2006 15:04:05 GMT",  // IMF-fixdate
	"Monday, 02-Jan-06 15:04:05 MST", // obsolete RFC 850
	"Mon Jan _2 15:04:05 2006",       // obsolete asctime
	// Seen from misbehaving servers.
	"Mon, 02 Jan 2006 15:04:05 MST",
	"02 Jan 2006 15:04:05 GMT",
	"2006-01-02 15:04:05",
}

// ParseDate decodes an HTTP-date field value.
func ParseDate(value string) (time.Time, error) {
	for _, format := range dateFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("not an HTTP date: %q", value)
}

// FormatDate renders t as an IMF-fixdate.
func FormatDate(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
}
