// Package uri implements the subset of RFC 3986 an HTTP client needs:
// parsing, syntax normalization, reference resolution for redirects,
// and the http/https default-port rules.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc3986
package uri
