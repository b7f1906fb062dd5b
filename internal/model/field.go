package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrInvalidPath is returned when a path is not of the form "domain.field".
var ErrInvalidPath = eris.New("model: invalid field path")

// Field is one fact: a value plus its provenance history, most recent first.
// Provenance[0] is authoritative. Entries are only ever prepended.
type Field struct {
	Value      any               `json:"value"`
	Provenance []ProvenanceEntry `json:"provenance"`
}

// Top returns the authoritative provenance entry.
func (f *Field) Top() (ProvenanceEntry, bool) {
	if f == nil || len(f.Provenance) == 0 {
		return ProvenanceEntry{}, false
	}
	return f.Provenance[0], true
}

// Source returns the top provenance source, or SourceUnknown.
func (f *Field) Source() SourceTag {
	top, ok := f.Top()
	if !ok {
		return SourceUnknown
	}
	return top.Source
}

// Confidence returns the top provenance confidence, or 0.
func (f *Field) Confidence() float64 {
	top, ok := f.Top()
	if !ok {
		return 0
	}
	return top.Confidence
}

// Clone returns a deep copy of f.
func (f *Field) Clone() *Field {
	if f == nil {
		return nil
	}
	out := &Field{Value: CloneValue(f.Value)}
	if f.Provenance != nil {
		out.Provenance = make([]ProvenanceEntry, len(f.Provenance))
		copy(out.Provenance, f.Provenance)
	}
	return out
}

// Path addresses a field as "domain.field".
type Path struct {
	Domain string
	Field  string
}

// ParsePath splits s into a Path. It requires exactly one dot with
// non-empty halves.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	domain, field, ok := strings.Cut(s, ".")
	if !ok || domain == "" || field == "" || strings.Contains(field, ".") {
		return Path{}, eris.Wrapf(ErrInvalidPath, "path %q", s)
	}
	return Path{Domain: domain, Field: field}, nil
}

func (p Path) String() string {
	return p.Domain + "." + p.Field
}

// Get returns the field at path, if present.
func Get(g *ContextGraph, path Path) (*Field, bool) {
	if g == nil {
		return nil, false
	}
	dom, ok := g.Domains[path.Domain]
	if !ok {
		return nil, false
	}
	f, ok := dom[path.Field]
	if !ok || f == nil {
		return nil, false
	}
	return f, true
}

// Set writes value at path and prepends entry to the field's provenance.
// It does not decide whether the write is allowed. Confidence is clamped to
// [0,1] and a zero UpdatedAt is stamped with the current time. The graph is
// updated in place and returned.
func Set(g *ContextGraph, path Path, value any, entry ProvenanceEntry) *ContextGraph {
	if g.Domains == nil {
		g.Domains = make(map[string]Domain)
	}
	dom, ok := g.Domains[path.Domain]
	if !ok {
		dom = make(Domain)
		g.Domains[path.Domain] = dom
	}

	entry.Confidence = ClampConfidence(entry.Confidence)
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}

	f, ok := dom[path.Field]
	if !ok || f == nil {
		f = &Field{}
		dom[path.Field] = f
	}
	f.Value = value
	f.Provenance = append([]ProvenanceEntry{entry}, f.Provenance...)
	return g
}
