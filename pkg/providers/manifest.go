package providers

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/forj-oss/forj/pkg/lorj"
)

// Manifest describes how a provider maps the process object model to its own
// names and values.
type Manifest struct {
	Name        string                    `yaml:"name" validate:"required,alphanum"`
	Version     string                    `yaml:"version" validate:"required"`
	Description string                    `yaml:"description"`
	Objects     map[string]ObjectMappings `yaml:"objects" validate:"dive"`

	// Path is the file the manifest was loaded from, empty when embedded.
	Path string `yaml:"-"`
}

// ObjectMappings holds the mappings of one object type.
type ObjectMappings struct {
	// Needs overrides data needs: controller parameter name and requirement.
	Needs map[string]NeedOverride `yaml:"needs" validate:"dive"`
	// Queries maps process query fields to controller fields.
	Queries map[string]string `yaml:"queries"`
	// Returns maps attributes to the controller attribute path they are read
	// from.
	Returns map[string]string `yaml:"returns"`
	// Values maps process values to controller values, per attribute.
	Values map[string]map[string]string `yaml:"values"`
	// Undefine lists attributes the provider does not return.
	Undefine []string `yaml:"undefine"`
}

// NeedOverride amends an existing data need.
type NeedOverride struct {
	Mapping  string `yaml:"mapping"`
	Required *bool  `yaml:"required"`
}

var validate = validator.New()

// LoadManifestFile loads a manifest from a YAML file.
func LoadManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	m.Path = path
	return m, nil
}

// ParseManifest parses and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Apply amends the declared object types with the manifest mappings. Every
// object named by the manifest must already be declared.
func (m *Manifest) Apply(r *lorj.Registry) error {
	names := make([]string, 0, len(m.Objects))
	for name := range m.Objects {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := lorj.ObjectType(name)
		if !r.Has(t) {
			return fmt.Errorf("provider %s maps '%s' which is not declared", m.Name, name)
		}
		if err := m.Objects[name].apply(r, t); err != nil {
			return fmt.Errorf("provider %s: %w", m.Name, err)
		}
	}
	return nil
}

func (o ObjectMappings) apply(r *lorj.Registry, t lorj.ObjectType) error {
	b, err := r.Stub(t)
	if err != nil {
		return err
	}

	current := map[string]lorj.NeedSpec{}
	for _, n := range r.Needs(t) {
		current[n.Key] = n
	}
	for _, key := range sortedKeys(o.Needs) {
		n, ok := current[key]
		if !ok || n.Kind != lorj.NeedData {
			return fmt.Errorf("'%s' has no data need '%s'", t, key)
		}
		ov := o.Needs[key]
		required := n.Required
		if ov.Required != nil {
			required = *ov.Required
		}
		opts := []lorj.NeedOption{lorj.IsRequired(required)}
		if ov.Mapping != "" {
			opts = append(opts, lorj.Mapping(ov.Mapping))
		}
		b.NeedData(key, opts...)
	}

	for _, key := range sortedKeys(o.Queries) {
		b.QueryMapping(key, o.Queries[key])
	}
	for _, key := range sortedKeys(o.Returns) {
		b.ReturnMapping(key, o.Returns[key])
	}
	for _, key := range sortedKeys(o.Values) {
		pairs := o.Values[key]
		for _, process := range sortedKeys(pairs) {
			b.ValueMapping(key, process, pairs[process])
		}
	}
	for _, key := range o.Undefine {
		b.UndefineAttribute(key)
	}
	return b.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
