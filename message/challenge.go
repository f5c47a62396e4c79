package message

import (
	"strings"

	"httpcore/header"
)

// Challenge is an authentication challenge from a WWW-Authenticate or
// Proxy-Authenticate field.
type Challenge struct {
	Scheme string
	Realm  string
}

// ParseChallenges extracts the challenges carried by every field
// named headerName. Challenges without a quoted realm are skipped,
// matching what the authenticators can actually answer.
// Reference: https://datatracker.ietf.org/doc/html/rfc7235#section-4.1
func ParseChallenges(h header.Headers, headerName string) []Challenge {
	var challenges []Challenge
	for _, value := range h.Values(headerName) {
		challenges = append(challenges, scanChallenges(value)...)
	}
	return challenges
}

func scanChallenges(value string) []Challenge {
	var challenges []Challenge

	pos := 0
	for pos < len(value) {
		pos = skipSeparators(value, pos)

		schemeStart := pos
		for pos < len(value) && value[pos] != ' ' {
			pos++
		}
		scheme := value[schemeStart:pos]
		if scheme == "" {
			break
		}

		idx := strings.Index(value[pos:], "realm=\"")
		if idx < 0 {
			break
		}
		realmStart := pos + idx + len("realm=\"")

		realmEnd := strings.IndexByte(value[realmStart:], '"')
		if realmEnd < 0 {
			break
		}

		challenges = append(challenges, Challenge{
			Scheme: scheme,
			Realm:  value[realmStart : realmStart+realmEnd],
		})
		pos = realmStart + realmEnd + 1
	}

	return challenges
}

func skipSeparators(s string, pos int) int {
	for pos < len(s) && (s[pos] == ',' || s[pos] == ' ' || s[pos] == '\t') {
		pos++
	}
	return pos
}
