package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultUniversalIDField is the identifier every entity carries regardless of type.
const DefaultUniversalIDField = "uid"

// EntityType describes how one logical entity type is stored.
type EntityType struct {
	Name    string `yaml:"name" json:"name"`
	Label   string `yaml:"label" json:"label"`
	IDField string `yaml:"id_field" json:"id_field"`
}

// Registry maps logical entity types to physical labels and identifier fields.
// It is immutable once built and safe for concurrent use.
type Registry struct {
	universal string
	byName    map[string]EntityType
	byLabel   map[string]string
}

// New builds a registry. An empty universalIDField falls back to "uid";
// entries with an empty label or id field inherit the defaults.
func New(universalIDField string, types ...EntityType) (*Registry, error) {
	if universalIDField == "" {
		universalIDField = DefaultUniversalIDField
	}

	r := &Registry{
		universal: universalIDField,
		byName:    make(map[string]EntityType, len(types)),
		byLabel:   make(map[string]string, len(types)),
	}

	for _, t := range types {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("entity type with empty name")
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("duplicate entity type: %s", name)
		}
		if t.Label == "" {
			t.Label = name
		}
		if t.IDField == "" {
			t.IDField = universalIDField
		}
		t.Name = name
		r.byName[name] = t
		if _, taken := r.byLabel[t.Label]; !taken {
			r.byLabel[t.Label] = name
		}
	}

	return r, nil
}

// Label returns the physical label for a logical type. Unknown types map to themselves.
func (r *Registry) Label(logical string) string {
	if t, ok := r.byName[logical]; ok {
		return t.Label
	}
	return logical
}

// IDField returns the primary identifier field for a logical type.
// Unknown types use the universal identifier field.
func (r *Registry) IDField(logical string) string {
	if t, ok := r.byName[logical]; ok {
		return t.IDField
	}
	return r.universal
}

// LogicalType maps a physical label back to its logical type name.
// Names that are already logical, and unknown labels, are returned unchanged.
func (r *Registry) LogicalType(label string) string {
	if _, ok := r.byName[label]; ok {
		return label
	}
	if name, ok := r.byLabel[label]; ok {
		return name
	}
	return label
}

// Lookup returns the registered entry for a logical type.
func (r *Registry) Lookup(logical string) (EntityType, bool) {
	t, ok := r.byName[logical]
	return t, ok
}

// UniversalIDField returns the identifier field shared by every entity.
func (r *Registry) UniversalIDField() string {
	return r.universal
}

// Types returns all registered entries ordered by name.
func (r *Registry) Types() []EntityType {
	types := make([]EntityType, 0, len(r.byName))
	for _, t := range r.byName {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types
}

// fileFormat is the on-disk YAML layout of a registry.
type fileFormat struct {
	UniversalIDField string       `yaml:"universal_id_field"`
	Types            []EntityType `yaml:"types"`
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}
	return New(f.UniversalIDField, f.Types...)
}

// Load reads a registry from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}
	return Parse(data)
}
