// Package hpack implements HPACK header compression for HTTP/2.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc7541
package hpack

import "strings"

// HeaderField is one (name, value) entry of a header list. Names of
// fields on the wire are always lowercase.
type HeaderField struct {
	Name  string
	Value string
}

// Size returns the table byte count of the entry.
// Reference: https://datatracker.ietf.org/doc/html/rfc7541#section-4.1
func (hf HeaderField) Size() uint32 {
	return uint32(len(hf.Name) + len(hf.Value) + 32)
}

// Pseudo-header names used by HTTP/2 request and response mapping.
const (
	PseudoAuthority = ":authority"
	PseudoMethod    = ":method"
	PseudoPath      = ":path"
	PseudoScheme    = ":scheme"
	PseudoStatus    = ":status"
)

const (
	prefix4Bits byte = 0x0f
	prefix5Bits byte = 0x1f
	prefix6Bits byte = 0x3f
	prefix7Bits byte = 0x7f
)

func lowercase(s string) string { return strings.ToLower(s) }
