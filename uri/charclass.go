package uri

import (
	"net/netip"
	"strings"

	"github.com/pkg/errors"
)

func isAlpha(c byte) bool { return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') }
func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func containsCTL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < ' ' || s[i] == 0x7f {
			return true
		}
	}
	return false
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-2.2
func isSubDelim(c byte) bool {
	switch c {
	case '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=':
		return true
	}
	return false
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-2.3
func isUnreserved(c byte) bool {
	if isAlpha(c) || isDigit(c) {
		return true
	}
	switch c {
	case '-', '.', '_', '~':
		return true
	}
	return false
}

func isReserved(c byte) bool {
	switch c {
	case ':', '/', '?', '#', '[', ']', '@':
		// gen-delims
		return true
	}
	return isSubDelim(c)
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-2.1
func isPercentEncoded(s string) bool {
	return len(s) == 3 && s[0] == '%' && isHexDigit(s[1]) && isHexDigit(s[2])
}

// isAll reports whether every byte of s is a member of the class or a
// percent-encoded triplet.
func isAll(s string, member func(byte) bool) bool {
	for idx := 0; idx < len(s); idx++ {
		if member(s[idx]) {
			continue
		}
		if idx+2 < len(s) && isPercentEncoded(s[idx:idx+3]) {
			idx += 2
			continue
		}
		return false
	}
	return true
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-3.3
func isAllPchar(s string) bool {
	return isAll(s, func(c byte) bool {
		return isUnreserved(c) || isSubDelim(c) || c == ':' || c == '@'
	})
}

func isValidUserInfo(s string) bool {
	return isAll(s, func(c byte) bool {
		return isUnreserved(c) || isSubDelim(c) || c == ':'
	})
}

func isValidRegName(s string) bool {
	return isAll(s, func(c byte) bool {
		return isUnreserved(c) || isSubDelim(c)
	})
}

func isQueryFragValid(s string) bool {
	return isAll(s, func(c byte) bool {
		return isUnreserved(c) || isSubDelim(c) ||
			c == ':' || c == '@' || c == '/' || c == '?'
	})
}

func assertValidScheme(scheme string) error {
	if len(scheme) == 0 {
		return errors.New("scheme is empty")
	}

	if !isAlpha(scheme[0]) {
		return errors.New("scheme doesn't start with ALPHA")
	}

	for idx := 1; idx < len(scheme); idx++ {
		c := scheme[idx]
		switch {
		case isAlpha(c) || isDigit(c):
		case c == '+' || c == '-' || c == '.':
		default:
			return errors.New("scheme contains invalid byte")
		}
	}

	return nil
}

func assertValidHost(host string) error {
	if host == "" {
		// Empty reg-name is valid.
		// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-3.2.2
		return nil
	}
	if len(host) > 255 {
		return errors.Errorf("host length exceeds limit(255): %d", len(host))
	}

	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		// This is IP Literal.
		inner := host[1 : len(host)-1]
		if addr, err := netip.ParseAddr(inner); err == nil && addr.Is6() {
			return nil
		}
		if isIPvFuture(inner) {
			return nil
		}

		return errors.New("host is expected to be IP Literal, but was malformed")
	}

	if addr, err := netip.ParseAddr(host); err == nil && addr.Is4() {
		return nil
	}
	if isValidRegName(host) {
		return nil
	}

	return errors.New("host is neither ipv4 addr nor valid reg-name")
}

func isIPvFuture(s string) bool {
	if len(s) < 4 {
		return false
	}

	// v8. vA. vF.
	if !(s[0] == 'v' && isHexDigit(s[1]) && s[2] == '.') {
		return false
	}

	for idx := 3; idx < len(s); idx++ {
		c := s[idx]
		if !(isUnreserved(c) || isSubDelim(c) || c == ':') {
			return false
		}
	}

	return true
}

func assertValidPath(path string, hasAuthority bool, isRelative bool) error {
	if hasAuthority {
		if !(path == "" || path[0] == '/') {
			return errors.New(
				"URI with authority must either be empty or start with '/'",
			)
		}
	} else if strings.HasPrefix(path, "//") {
		return errors.New("URI without authority should not start with '//'")
	}

	segments := strings.Split(path, "/")
	if isRelative && strings.ContainsRune(segments[0], ':') {
		return errors.New(
			"relative URI reference's first segment should not contain ':'",
		)
	}

	for _, segment := range segments {
		if !isAllPchar(segment) {
			return errors.New("path segment should be pchar")
		}
	}

	return nil
}
