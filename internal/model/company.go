package model

import (
	"sort"
	"time"
)

// Domain groups the fields of one topical area of the graph.
type Domain map[string]*Field

// ContextGraph is the shared knowledge record for one company.
// Version is the optimistic-concurrency token issued by the store on load
// and checked on save.
type ContextGraph struct {
	CompanyID     string            `json:"company_id"`
	CompanyName   string            `json:"company_name,omitempty"`
	CompanyDomain string            `json:"company_domain,omitempty"`
	Domains       map[string]Domain `json:"domains"`
	Version       int64             `json:"version"`
	UpdatedAt     time.Time         `json:"updated_at"`
	UpdatedBy     string            `json:"updated_by,omitempty"`
}

// NewContextGraph returns an empty graph with the given domain containers.
func NewContextGraph(companyID, name, domain string, domains ...string) *ContextGraph {
	g := &ContextGraph{
		CompanyID:     companyID,
		CompanyName:   name,
		CompanyDomain: domain,
		Domains:       make(map[string]Domain, len(domains)),
	}
	for _, d := range domains {
		g.EnsureDomain(d)
	}
	return g
}

// EnsureDomain creates an empty domain container if it is absent.
func (g *ContextGraph) EnsureDomain(name string) Domain {
	if g.Domains == nil {
		g.Domains = make(map[string]Domain)
	}
	dom, ok := g.Domains[name]
	if !ok {
		dom = make(Domain)
		g.Domains[name] = dom
	}
	return dom
}

// HasDomain reports whether the domain container exists.
func (g *ContextGraph) HasDomain(name string) bool {
	if g == nil {
		return false
	}
	_, ok := g.Domains[name]
	return ok
}

// Clone returns a deep copy of g.
func (g *ContextGraph) Clone() *ContextGraph {
	if g == nil {
		return nil
	}
	out := *g
	out.Domains = make(map[string]Domain, len(g.Domains))
	for name, dom := range g.Domains {
		cp := make(Domain, len(dom))
		for key, f := range dom {
			cp[key] = f.Clone()
		}
		out.Domains[name] = cp
	}
	return &out
}

// Paths returns every populated field path in sorted order.
func (g *ContextGraph) Paths() []Path {
	if g == nil {
		return nil
	}
	var paths []Path
	for name, dom := range g.Domains {
		for key, f := range dom {
			if f != nil {
				paths = append(paths, Path{Domain: name, Field: key})
			}
		}
	}
	sort.Slice(paths, func(i, j int) bool {
		return paths[i].String() < paths[j].String()
	})
	return paths
}
