package message

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Protocol identifies the application-layer protocol a response was
// delivered over.
type Protocol uint8

const (
	ProtocolHTTP10 Protocol = iota
	ProtocolHTTP11
	ProtocolHTTP2
)

// String returns the ALPN identifier of the protocol.
// Reference: https://www.iana.org/assignments/tls-extensiontype-values/tls-extensiontype-values.xhtml#alpn-protocol-ids
func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP10:
		return "http/1.0"
	case ProtocolHTTP11:
		return "http/1.1"
	case ProtocolHTTP2:
		return "h2"
	}
	return "unknown"
}

func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "http/1.0":
		return ProtocolHTTP10, nil
	case "http/1.1":
		return ProtocolHTTP11, nil
	case "h2":
		return ProtocolHTTP2, nil
	}
	return 0, errors.Errorf("unexpected protocol: %q", s)
}

// StatusLine is a decoded "HTTP/1.1 200 OK" line.
type StatusLine struct {
	Protocol Protocol
	Code     int
	Message  string
}

func ParseStatusLine(line string) (StatusLine, error) {
	version, rest, found := strings.Cut(line, " ")
	if !found {
		return StatusLine{}, errors.Errorf("space separator not found on status line: %q", line)
	}

	var protocol Protocol
	switch version {
	case "HTTP/1.0":
		protocol = ProtocolHTTP10
	case "HTTP/1.1":
		protocol = ProtocolHTTP11
	default:
		return StatusLine{}, errors.Errorf("unexpected http version: %q", version)
	}

	codeRaw, message, _ := strings.Cut(rest, " ")
	if len(codeRaw) != 3 {
		return StatusLine{}, errors.Errorf("status code should be 3 digits: %q", codeRaw)
	}

	code, err := strconv.Atoi(codeRaw)
	if err != nil {
		return StatusLine{}, errors.Wrapf(err, "parsing status code: %q", codeRaw)
	}

	return StatusLine{Protocol: protocol, Code: code, Message: message}, nil
}

func (sl StatusLine) String() string {
	b := new(strings.Builder)
	switch sl.Protocol {
	case ProtocolHTTP10:
		b.WriteString("HTTP/1.0")
	default:
		b.WriteString("HTTP/1.1")
	}
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(sl.Code))
	if sl.Message != "" {
		b.WriteByte(' ')
		b.WriteString(sl.Message)
	}
	return b.String()
}

// Response status codes.
const (
	StatusContinue = 100

	StatusOK               = 200
	StatusNonAuthoritative = 203
	StatusNoContent        = 204
	StatusResetContent     = 205

	StatusMultipleChoices   = 300
	StatusMovedPermanently  = 301
	StatusFound             = 302
	StatusSeeOther          = 303
	StatusNotModified       = 304
	StatusUseProxy          = 305
	StatusTemporaryRedirect = 307
	StatusPermanentRedirect = 308

	StatusUnauthorized      = 401
	StatusNotFound          = 404
	StatusMethodNotAllowed  = 405
	StatusProxyAuthRequired = 407
	StatusRequestTimeout    = 408
	StatusGone              = 410
	StatusRequestURITooLong = 414

	StatusNotImplemented = 501
	StatusGatewayTimeout = 504
)
