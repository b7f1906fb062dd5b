// Package registry holds the schema of the context graph: which domains
// exist, which fields each domain carries, and what kind of value a field
// holds.
package registry

import (
	"sort"

	"github.com/sells-group/context-graph/internal/model"
)

// FieldKind describes the shape of a field value.
type FieldKind string

const (
	KindScalar     FieldKind = "scalar"
	KindArray      FieldKind = "array"
	KindObject     FieldKind = "object"
	KindEntityList FieldKind = "entity_list"
)

// EntityCompetitor is the entity type of competitor profile lists.
const EntityCompetitor = "competitor"

// FieldSpec declares one field of the schema.
type FieldSpec struct {
	Domain      string    `json:"domain" yaml:"domain"`
	Name        string    `json:"name" yaml:"name"`
	Kind        FieldKind `json:"kind" yaml:"kind"`
	Entity      string    `json:"entity,omitempty" yaml:"entity,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Deprecated  bool      `json:"deprecated,omitempty" yaml:"deprecated,omitempty"`
}

// FieldRef is a validated reference to a schema field. It can only be
// obtained from Registry.Resolve.
type FieldRef struct {
	path model.Path
	spec *FieldSpec
}

// Path returns the referenced path.
func (r FieldRef) Path() model.Path { return r.path }

// Kind returns the field's value kind.
func (r FieldRef) Kind() FieldKind { return r.spec.Kind }

// Entity returns the entity type for entity-list fields.
func (r FieldRef) Entity() string { return r.spec.Entity }

// IsEntityList reports whether writes to the field go through entity
// resolution.
func (r FieldRef) IsEntityList() bool { return r.spec.Kind == KindEntityList }

// Registry is an indexed collection of field specs.
type Registry struct {
	Fields  []FieldSpec
	byPath  map[string]*FieldSpec
	domains map[string][]string
}

// New creates a Registry with indexed lookups. Specs without a kind default
// to scalar; duplicate paths keep the last declaration.
func New(fields []FieldSpec) *Registry {
	r := &Registry{
		Fields:  fields,
		byPath:  make(map[string]*FieldSpec, len(fields)),
		domains: make(map[string][]string),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		if f.Kind == "" {
			f.Kind = KindScalar
		}
		if f.Kind == KindEntityList && f.Entity == "" {
			f.Entity = EntityCompetitor
		}
		key := model.Path{Domain: f.Domain, Field: f.Name}.String()
		if _, dup := r.byPath[key]; !dup {
			r.domains[f.Domain] = append(r.domains[f.Domain], f.Name)
		}
		r.byPath[key] = f
	}
	return r
}

// IsValidPath reports whether path names a field of the schema.
// Deprecated fields are no longer writable.
func (r *Registry) IsValidPath(path string) bool {
	_, ok := r.Resolve(path)
	return ok
}

// Resolve validates path and returns a FieldRef for it.
func (r *Registry) Resolve(path string) (FieldRef, bool) {
	p, err := model.ParsePath(path)
	if err != nil {
		return FieldRef{}, false
	}
	spec, ok := r.byPath[p.String()]
	if !ok || spec.Deprecated {
		return FieldRef{}, false
	}
	return FieldRef{path: p, spec: spec}, true
}

// Lookup returns the spec for path, including deprecated fields.
func (r *Registry) Lookup(path string) *FieldSpec {
	return r.byPath[path]
}

// Domains returns the schema's domain names in sorted order.
func (r *Registry) Domains() []string {
	names := make([]string, 0, len(r.domains))
	for d := range r.domains {
		names = append(names, d)
	}
	sort.Strings(names)
	return names
}

// DomainFields returns the field names declared for domain, in declaration
// order.
func (r *Registry) DomainFields(domain string) []string {
	return r.domains[domain]
}

// NewGraph returns an empty graph with a container for every schema domain.
func (r *Registry) NewGraph(companyID, name, domain string) *model.ContextGraph {
	return model.NewContextGraph(companyID, name, domain, r.Domains()...)
}
