package registry

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed schema.yaml
var defaultSchema []byte

// schemaFile is the YAML layout of a schema: fields grouped by domain.
type schemaFile struct {
	Domains map[string][]FieldSpec `yaml:"domains"`
}

// Default returns the built-in context graph schema.
func Default() *Registry {
	r, err := ParseYAML(defaultSchema)
	if err != nil {
		panic(eris.Wrap(err, "registry: built-in schema"))
	}
	return r
}

// LoadFile reads a schema from path. Files ending in .json hold a JSON array
// of FieldSpec; anything else is parsed as YAML grouped by domain.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read schema file")
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var fields []FieldSpec
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, eris.Wrap(err, "registry: unmarshal schema json")
		}
		return validate(fields)
	}
	return ParseYAML(data)
}

// ParseYAML parses a YAML schema document.
func ParseYAML(data []byte) (*Registry, error) {
	var doc schemaFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal schema yaml")
	}

	domains := make([]string, 0, len(doc.Domains))
	for d := range doc.Domains {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var fields []FieldSpec
	for _, d := range domains {
		for _, f := range doc.Domains[d] {
			f.Domain = d
			fields = append(fields, f)
		}
	}
	return validate(fields)
}

func validate(fields []FieldSpec) (*Registry, error) {
	for _, f := range fields {
		if f.Domain == "" || f.Name == "" {
			return nil, eris.Errorf("registry: field %q.%q needs a domain and a name", f.Domain, f.Name)
		}
		if strings.Contains(f.Domain, ".") || strings.Contains(f.Name, ".") {
			return nil, eris.Errorf("registry: field %s.%s must not contain dots", f.Domain, f.Name)
		}
		switch f.Kind {
		case "", KindScalar, KindArray, KindObject, KindEntityList:
		default:
			return nil, eris.Errorf("registry: field %s.%s has unknown kind %q", f.Domain, f.Name, f.Kind)
		}
	}
	return New(fields), nil
}
