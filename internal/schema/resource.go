package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Scheme is the scheme of every ResourceID built by a Registry.
const Scheme = "content"

// ResourceID addresses an entity table or a single row inside it.
//
// The zero value is not a valid identifier. ResourceID is immutable: every
// method returns a new value and never modifies the receiver's segments.
type ResourceID struct {
	scheme    string
	authority string
	segments  []string
}

// NewResourceID builds an identifier from its parts.
func NewResourceID(authority string, segments ...string) ResourceID {
	return ResourceID{
		scheme:    Scheme,
		authority: authority,
		segments:  append([]string(nil), segments...),
	}
}

// Parse reads the text form content://<authority>/<segment>[/<segment>...].
func Parse(s string) (ResourceID, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || scheme == "" {
		return ResourceID{}, fmt.Errorf("parse resource id %q: missing scheme", s)
	}

	authority, path, _ := strings.Cut(rest, "/")
	if authority == "" {
		return ResourceID{}, fmt.Errorf("parse resource id %q: missing authority", s)
	}

	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	return ResourceID{scheme: scheme, authority: authority, segments: segments}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) ResourceID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Scheme returns the identifier scheme.
func (r ResourceID) Scheme() string { return r.scheme }

// Authority returns the identifier authority.
func (r ResourceID) Authority() string { return r.authority }

// Segments returns a copy of the path segments.
func (r ResourceID) Segments() []string {
	return append([]string(nil), r.segments...)
}

// IsZero reports whether r is the zero identifier.
func (r ResourceID) IsZero() bool {
	return r.scheme == "" && r.authority == "" && len(r.segments) == 0
}

// Table returns the first path segment, which names the table.
func (r ResourceID) Table() string {
	if len(r.segments) == 0 {
		return ""
	}
	return r.segments[0]
}

// RowID returns the row id encoded in the second path segment.
// ok is false when the identifier addresses a whole table or the segment is not numeric.
func (r ResourceID) RowID() (id int64, ok bool) {
	if len(r.segments) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(r.segments[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Base returns the identifier truncated to its table segment.
func (r ResourceID) Base() ResourceID {
	if len(r.segments) <= 1 {
		return r
	}
	return ResourceID{scheme: r.scheme, authority: r.authority, segments: r.segments[:1:1]}
}

// Append returns a new identifier with extra path segments.
// Segments are formatted with fmt.Sprint, so row ids can be passed directly.
func (r ResourceID) Append(segments ...any) ResourceID {
	if len(segments) == 0 {
		return r
	}
	out := make([]string, len(r.segments), len(r.segments)+len(segments))
	copy(out, r.segments)
	for _, seg := range segments {
		out = append(out, fmt.Sprint(seg))
	}
	return ResourceID{scheme: r.scheme, authority: r.authority, segments: out}
}

// Equal reports whether both identifiers have the same text form.
func (r ResourceID) Equal(other ResourceID) bool {
	return r.String() == other.String()
}

// Contains reports whether other is r itself or lies below r in the path hierarchy.
func (r ResourceID) Contains(other ResourceID) bool {
	if r.scheme != other.scheme || r.authority != other.authority {
		return false
	}
	if len(other.segments) < len(r.segments) {
		return false
	}
	for i, seg := range r.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// String returns the text form content://<authority>/<segments>.
func (r ResourceID) String() string {
	var b strings.Builder
	b.WriteString(r.scheme)
	b.WriteString("://")
	b.WriteString(r.authority)
	for _, seg := range r.segments {
		b.WriteByte('/')
		b.WriteString(seg)
	}
	return b.String()
}
