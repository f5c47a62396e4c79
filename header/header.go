package header

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Headers is an ordered collection of header fields.
// Names are compared case-insensitively, and insertion order is kept
// so the fields can be written back out exactly as they arrived.
//
// The zero value is an empty, usable header set.
type Headers struct {
	// namesAndValues holds alternating name/value pairs.
	namesAndValues []string
}

func New(pairs ...string) (Headers, error) {
	if len(pairs)%2 != 0 {
		return Headers{}, errors.New("expected alternating header names and values")
	}

	nv := make([]string, len(pairs))
	for i := 0; i < len(pairs); i += 2 {
		name := pairs[i]
		value := strings.TrimFunc(pairs[i+1], isOWS)

		if err := assertValidName(name); err != nil {
			return Headers{}, err
		}
		if err := assertValidValue(name, value); err != nil {
			return Headers{}, err
		}

		nv[i], nv[i+1] = name, value
	}

	return Headers{namesAndValues: nv}, nil
}

// FromMap builds headers from a map, sorting is not applied.
func FromMap(m map[string]string) (Headers, error) {
	b := NewBuilder()
	for name, value := range m {
		if err := b.Add(name, value); err != nil {
			return Headers{}, err
		}
	}
	return b.Build(), nil
}

// Get returns the last value corresponding to name, or "" if absent.
// Later fields win so revalidation responses can shadow stored ones.
func (h Headers) Get(name string) (value string, ok bool) {
	for i := len(h.namesAndValues) - 2; i >= 0; i -= 2 {
		if equalFold(h.namesAndValues[i], name) {
			return h.namesAndValues[i+1], true
		}
	}
	return "", false
}

// Values returns every value for name in insertion order.
func (h Headers) Values(name string) []string {
	var values []string
	for i := 0; i < len(h.namesAndValues); i += 2 {
		if equalFold(h.namesAndValues[i], name) {
			values = append(values, h.namesAndValues[i+1])
		}
	}
	return values
}

// Size returns the number of fields.
func (h Headers) Size() int { return len(h.namesAndValues) / 2 }

// Name returns the field name at index i.
func (h Headers) Name(i int) string { return h.namesAndValues[i*2] }

// Value returns the field value at index i.
func (h Headers) Value(i int) string { return h.namesAndValues[i*2+1] }

// Names returns the distinct field names, sorted case-insensitively.
// Returned names keep the casing of their first occurrence.
func (h Headers) Names() []string {
	names := make([]string, 0, h.Size())
	for i := 0; i < len(h.namesAndValues); i += 2 {
		name := h.namesAndValues[i]
		if !containsFold(names, name) {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names
}

// ToMultimap groups values by name, case-insensitively. Each slice
// keeps insertion order; keys take the casing of their first
// occurrence.
func (h Headers) ToMultimap() map[string][]string {
	result := make(map[string][]string)
	keys := make(map[string]string, h.Size())
	for i := 0; i < len(h.namesAndValues); i += 2 {
		folded := strings.ToLower(h.namesAndValues[i])
		key, ok := keys[folded]
		if !ok {
			key = h.namesAndValues[i]
			keys[folded] = key
		}
		result[key] = append(result[key], h.namesAndValues[i+1])
	}
	return result
}

// GetDate returns the last value for name parsed as an HTTP-date.
func (h Headers) GetDate(name string) (time.Time, error) {
	value, ok := h.Get(name)
	if !ok {
		return time.Time{}, errors.Errorf("no %q header", name)
	}
	return ParseDate(value)
}

func (h Headers) Builder() *Builder {
	b := NewBuilder()
	b.namesAndValues = append(b.namesAndValues, h.namesAndValues...)
	return b
}

func (h Headers) String() string {
	sb := new(strings.Builder)
	for i := 0; i < h.Size(); i++ {
		sb.WriteString(h.Name(i))
		sb.WriteString(": ")
		sb.WriteString(h.Value(i))
		sb.WriteString("\r\n")
	}
	return sb.String()
}

// Builder accumulates header fields. Methods that take unvalidated
// input return an error, lenient variants silently normalize instead.
type Builder struct {
	namesAndValues []string
}

func NewBuilder() *Builder {
	return &Builder{namesAndValues: make([]string, 0, 8)}
}

// Add appends a field, validating name and value.
func (b *Builder) Add(name, value string) error {
	if err := assertValidName(name); err != nil {
		return err
	}
	if err := assertValidValue(name, value); err != nil {
		return err
	}

	b.appendTrimmed(name, value)
	return nil
}

// AddLine parses a raw "Name: value" line and appends it.
// Obsolete leading-whitespace continuation lines are rejected.
func (b *Builder) AddLine(line string) error {
	name, value, found := strings.Cut(line, ":")
	if !found {
		return errors.Errorf("colon separator not found on header: %q", line)
	}
	if name == "" {
		return errors.Errorf("header name is empty: %q", line)
	}
	if isOWS(rune(name[len(name)-1])) {
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-2
		return errors.New("field name has trailing whitespace")
	}
	return b.Add(name, value)
}

// AddLenient appends a field without validation; an empty name is kept
// as a nameless field. Used for fields already on the wire, where
// rejecting late would lose the message.
func (b *Builder) AddLenient(name, value string) {
	b.appendTrimmed(name, value)
}

// Set replaces every field named name with a single field.
func (b *Builder) Set(name, value string) error {
	if err := assertValidName(name); err != nil {
		return err
	}
	if err := assertValidValue(name, value); err != nil {
		return err
	}

	b.RemoveAll(name)
	b.appendTrimmed(name, value)
	return nil
}

// RemoveAll removes every field named name.
func (b *Builder) RemoveAll(name string) {
	for i := 0; i < len(b.namesAndValues); i += 2 {
		if equalFold(b.namesAndValues[i], name) {
			b.namesAndValues = append(b.namesAndValues[:i], b.namesAndValues[i+2:]...)
			i -= 2
		}
	}
}

// Get returns the last value for name among pending fields.
func (b *Builder) Get(name string) (value string, ok bool) {
	for i := len(b.namesAndValues) - 2; i >= 0; i -= 2 {
		if equalFold(b.namesAndValues[i], name) {
			return b.namesAndValues[i+1], true
		}
	}
	return "", false
}

func (b *Builder) Build() Headers {
	nv := make([]string, len(b.namesAndValues))
	copy(nv, b.namesAndValues)
	return Headers{namesAndValues: nv}
}

func (b *Builder) appendTrimmed(name, value string) {
	b.namesAndValues = append(b.namesAndValues, name, strings.TrimFunc(value, isOWS))
}

func assertValidName(name string) error {
	if name == "" {
		return errors.New("header name is empty")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c >= 0x7f {
			return errors.Errorf("unexpected char %#x at %d in header name: %q", c, i, name)
		}
	}
	return nil
}

func assertValidValue(name, value string) error {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c <= 0x1f && c != '\t') || c == 0x7f {
			return errors.Errorf("unexpected char %#x at %d in %q value: %q", c, i, name, value)
		}
	}
	return nil
}

func isOWS(r rune) bool { return r == ' ' || r == '\t' }

// equalFold is ASCII-only case-insensitive comparison.
// Header names never carry non-ASCII, so the unicode folding
// of [strings.EqualFold] is unnecessary work.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lower(a[i]) != lower(b[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if equalFold(n, name) {
			return true
		}
	}
	return false
}
