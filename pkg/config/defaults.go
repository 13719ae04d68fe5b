package config

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/forj-oss/forj/pkg/lorj"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// DefaultSection holds the bare keys of the local configuration file.
const DefaultSection = "default"

// KeyMeta is the metadata of one key under "sections" in defaults.yaml.
type KeyMeta struct {
	Desc       string   `yaml:"desc"`
	Account    bool     `yaml:"account"`
	Required   bool     `yaml:"required"`
	Readonly   bool     `yaml:"readonly"`
	Encrypted  bool     `yaml:"encrypted"`
	Validate   string   `yaml:"validate"`
	DependsOn  []string `yaml:"depends_on"`
	ListValues []string `yaml:"list_values"`
	ListStrict bool     `yaml:"list_strict" validate:"excluded_without=ListValues"`
	Step       int      `yaml:"step" validate:"gte=0,lte=9"`
	Order      int      `yaml:"order" validate:"gte=0"`
	Default    any      `yaml:"default"`
}

// Defaults is the parsed application defaults document.
type Defaults struct {
	Values   map[string]any                `yaml:"default"`
	Sections map[string]map[string]KeyMeta `yaml:"sections" validate:"required,dive,required,dive"`

	// key -> section
	index map[string]string
}

// LoadDefaults parses the embedded defaults document.
func LoadDefaults() (*Defaults, error) {
	return ParseDefaults(defaultsYAML)
}

// ParseDefaults parses and checks a defaults document. A key may only belong
// to one section.
func ParseDefaults(raw []byte) (*Defaults, error) {
	var d Defaults
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to parse defaults: %w", err)
	}
	if err := validator.New().Struct(&d); err != nil {
		return nil, fmt.Errorf("invalid defaults: %w", err)
	}
	if d.Values == nil {
		d.Values = map[string]any{}
	}

	d.index = make(map[string]string)
	for _, section := range sortedKeys(d.Sections) {
		for key, meta := range d.Sections[section] {
			if other, dup := d.index[key]; dup {
				return nil, fmt.Errorf("key '%s' is declared in sections '%s' and '%s'", key, other, section)
			}
			if meta.Validate != "" {
				if _, err := regexp.Compile(meta.Validate); err != nil {
					return nil, fmt.Errorf("key '%s#%s': invalid validate pattern: %w", section, key, err)
				}
			}
			d.index[key] = section
		}
	}
	return &d, nil
}

// Section returns the section of a bare key.
func (d *Defaults) Section(key string) (string, bool) {
	s, ok := d.index[key]
	return s, ok
}

// Meta returns the metadata of a bare key.
func (d *Defaults) Meta(key string) (KeyMeta, bool) {
	s, ok := d.index[key]
	if !ok {
		return KeyMeta{}, false
	}
	return d.Sections[s][key], true
}

// Value returns the application default of key: the "default" value first,
// then the metadata default.
func (d *Defaults) Value(key string) (any, bool) {
	if v, ok := d.Values[key]; ok && v != nil {
		return v, true
	}
	if m, ok := d.Meta(key); ok && m.Default != nil {
		return m.Default, true
	}
	return nil, false
}

// Each calls fn for every section key, sorted by section then key.
func (d *Defaults) Each(fn func(section, key string, meta KeyMeta)) {
	for _, section := range sortedKeys(d.Sections) {
		for _, key := range sortedKeys(d.Sections[section]) {
			fn(section, key, d.Sections[section][key])
		}
	}
}

// Register declares every section key in the registry so Setup and the
// dispatcher know where each key lives.
func (d *Defaults) Register(reg *lorj.Registry) error {
	var err error
	d.Each(func(section, key string, m KeyMeta) {
		if err != nil {
			return
		}
		err = reg.DefineData(key, lorj.DataMeta{
			Section:    section,
			Desc:       m.Desc,
			Account:    m.Account,
			DependsOn:  m.DependsOn,
			Validate:   m.Validate,
			Default:    m.Default,
			Encrypted:  m.Encrypted,
			Required:   m.Required,
			Readonly:   m.Readonly,
			ListValues: m.ListValues,
			ListStrict: m.ListStrict,
			Step:       m.Step,
			Order:      m.Order,
		})
	})
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
