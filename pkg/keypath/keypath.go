// Package keypath parses and renders the key references used to address
// configuration data and object attributes.
//
// A key path is an ordered list of segments. A segment is either a literal
// string or a symbol. Symbols are written with a leading ':' in the slash form
// ("server/:status") and without it in the plain form ("server/status").
package keypath

import (
	"regexp"
	"strings"
)

// Symbol is a symbolic key. Parsing a Symbol always yields a single segment.
type Symbol string

// Segment is one element of a KeyPath.
type Segment struct {
	Name   string
	Symbol bool
}

// KeyPath is an immutable ordered list of segments.
type KeyPath struct {
	segs []Segment
}

var (
	slashRe  = regexp.MustCompile(`[^\\/]?/[^/]`)
	symbolRe = regexp.MustCompile(`:[^:/]`)
)

// Parse builds a KeyPath from a string, a Symbol, a segment list or another
// KeyPath. Unsupported input yields the empty path.
func Parse(v any) KeyPath {
	switch t := v.(type) {
	case KeyPath:
		return t
	case *KeyPath:
		if t == nil {
			return KeyPath{}
		}
		return *t
	case Symbol:
		return KeyPath{segs: []Segment{{Name: string(t), Symbol: true}}}
	case string:
		return parseString(t)
	case []Segment:
		return KeyPath{segs: append([]Segment(nil), t...)}
	case []string:
		segs := make([]Segment, 0, len(t))
		for _, s := range t {
			segs = append(segs, Segment{Name: s})
		}
		return KeyPath{segs: segs}
	case []any:
		segs := make([]Segment, 0, len(t))
		for _, e := range t {
			switch s := e.(type) {
			case string:
				segs = append(segs, Segment{Name: s})
			case Symbol:
				segs = append(segs, Segment{Name: string(s), Symbol: true})
			default:
				return KeyPath{}
			}
		}
		return KeyPath{segs: segs}
	default:
		return KeyPath{}
	}
}

func parseString(s string) KeyPath {
	if !slashRe.MatchString(s) && !symbolRe.MatchString(s) {
		return KeyPath{segs: []Segment{{Name: s}}}
	}
	parts := strings.Split(s, "/")
	segs := make([]Segment, 0, len(parts))
	for _, p := range parts {
		if strings.HasPrefix(p, ":") && len(p) > 1 {
			segs = append(segs, Segment{Name: p[1:], Symbol: true})
			continue
		}
		segs = append(segs, Segment{Name: p})
	}
	return KeyPath{segs: segs}
}

// Of builds a KeyPath from names, all treated as symbols.
func Of(names ...string) KeyPath {
	segs := make([]Segment, 0, len(names))
	for _, n := range names {
		segs = append(segs, Segment{Name: n, Symbol: true})
	}
	return KeyPath{segs: segs}
}

// Len returns the number of segments.
func (k KeyPath) Len() int { return len(k.segs) }

// Empty reports whether the path has no segment.
func (k KeyPath) Empty() bool { return len(k.segs) == 0 }

// Segments returns a copy of the segments.
func (k KeyPath) Segments() []Segment {
	return append([]Segment(nil), k.segs...)
}

// Names returns the segment names without symbol markers.
func (k KeyPath) Names() []string {
	out := make([]string, len(k.segs))
	for i, s := range k.segs {
		out[i] = s.Name
	}
	return out
}

// Last returns the last segment, or the zero Segment for an empty path.
func (k KeyPath) Last() Segment {
	if len(k.segs) == 0 {
		return Segment{}
	}
	return k.segs[len(k.segs)-1]
}

// Key returns the name of the last segment.
func (k KeyPath) Key() string { return k.Last().Name }

// FullPath renders the slash form, symbols prefixed with ':'.
func (k KeyPath) FullPath() string {
	parts := make([]string, len(k.segs))
	for i, s := range k.segs {
		if s.Symbol {
			parts[i] = ":" + s.Name
		} else {
			parts[i] = s.Name
		}
	}
	return strings.Join(parts, "/")
}

// String renders the plain slash form, without symbol markers.
func (k KeyPath) String() string {
	return strings.Join(k.Names(), "/")
}

// Equal reports whether both paths hold the same segments.
func (k KeyPath) Equal(o KeyPath) bool {
	if len(k.segs) != len(o.segs) {
		return false
	}
	for i := range k.segs {
		if k.segs[i] != o.segs[i] {
			return false
		}
	}
	return true
}
