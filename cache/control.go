package cache

import (
	"strconv"
	"strings"

	"httpcore/header"
)

// Control is the parsed form of Cache-Control (and legacy Pragma)
// directives of one message. Duration directives are -1 when absent.
// Reference: https://datatracker.ietf.org/doc/html/rfc7234#section-5.2
type Control struct {
	NoCache bool
	NoStore bool

	// MaxAgeSeconds caps freshness. s-maxage is parsed but not stored
	// here; a private cache must ignore it.
	MaxAgeSeconds int

	Private        bool
	Public         bool
	MustRevalidate bool

	// Request-only directives.
	MaxStaleSeconds int
	MinFreshSeconds int
	OnlyIfCached    bool
	NoTransform     bool
}

// ParseControl collects cache directives from every Cache-Control and
// Pragma header of h. Directive names compare case-insensitively;
// arguments accept both token and quoted-string syntax.
func ParseControl(h header.Headers) Control {
	control := Control{
		MaxAgeSeconds:   -1,
		MaxStaleSeconds: -1,
		MinFreshSeconds: -1,
	}

	for i := 0; i < h.Size(); i++ {
		name := h.Name(i)
		if !strings.EqualFold(name, "Cache-Control") && !strings.EqualFold(name, "Pragma") {
			continue
		}

		for directive, argument := range directives(h.Value(i)) {
			switch strings.ToLower(directive) {
			case "no-cache":
				control.NoCache = true
			case "no-store":
				control.NoStore = true
			case "max-age":
				control.MaxAgeSeconds = parseSeconds(argument, -1)
			case "private":
				control.Private = true
			case "public":
				control.Public = true
			case "must-revalidate":
				control.MustRevalidate = true
			case "max-stale":
				// A bare max-stale accepts any staleness.
				control.MaxStaleSeconds = parseSeconds(argument, int(maxAgeCap))
			case "min-fresh":
				control.MinFreshSeconds = parseSeconds(argument, -1)
			case "only-if-cached":
				control.OnlyIfCached = true
			case "no-transform":
				control.NoTransform = true
			}
		}
	}

	return control
}

const maxAgeCap = int64(^uint32(0) >> 1)

// directives splits one header value into (name, argument) pairs,
// keeping commas inside quoted strings intact.
func directives(value string) map[string]string {
	result := make(map[string]string)

	pos := 0
	for pos < len(value) {
		start := pos
		pos += strings.IndexAny(value[pos:], "=,")
		if pos < start {
			result[strings.TrimSpace(value[start:])] = ""
			break
		}

		name := strings.TrimSpace(value[start:pos])
		if value[pos] == ',' {
			pos++
			if name != "" {
				result[name] = ""
			}
			continue
		}

		// Skip '=' and any whitespace before the argument.
		pos++
		for pos < len(value) && (value[pos] == ' ' || value[pos] == '\t') {
			pos++
		}

		var argument string
		if pos < len(value) && value[pos] == '"' {
			pos++
			end := strings.IndexByte(value[pos:], '"')
			if end < 0 {
				end = len(value) - pos
			}
			argument = value[pos : pos+end]
			pos += end + 1
		} else {
			end := strings.IndexByte(value[pos:], ',')
			if end < 0 {
				end = len(value) - pos
			}
			argument = strings.TrimSpace(value[pos : pos+end])
			pos += end
		}

		if pos < len(value) && value[pos] == ',' {
			pos++
		}
		if name != "" {
			result[name] = argument
		}
	}

	return result
}

// parseSeconds reads a non-negative decimal count of seconds, clamping
// absurd values instead of failing.
func parseSeconds(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil || seconds < 0 {
		return defaultValue
	}
	if seconds > maxAgeCap {
		return int(maxAgeCap)
	}
	return int(seconds)
}
