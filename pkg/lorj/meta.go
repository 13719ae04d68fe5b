package lorj

import "context"

// DataMeta describes a configuration key: how Setup asks for it and how it is
// stored.
type DataMeta struct {
	Key        string
	Section    string
	Desc       string
	Account    bool
	DependsOn  []string
	Validate   string
	Default    any
	Encrypted  bool
	Required   bool
	Readonly   bool
	ListValues []string
	// ListStrict rejects answers not in ListValues.
	ListStrict bool
	// ListFrom fills the choices at setup time from a cloud object.
	ListFrom *ListSource
	Step     int
	Order    int
	// PostValidate runs after the regexp/list checks and before the answer
	// is persisted.
	PostValidate func(value string) error
}

// ListSource lists the choices of a key from an object of the cloud graph.
// Keys it needs must be asked before, through DependsOn.
type ListSource struct {
	// Object is queried, or loaded then handed to Values.
	Object ObjectType
	Query  Query
	// Attr is the item attribute listed when Values is nil. Default: name.
	Attr string
	// Values extracts the choices from the loaded Object.
	Values func(ctx context.Context, d *Dispatcher, obj *Data) ([]string, error)
	// Strict rejects answers outside the list. Otherwise "other" allows a
	// free answer.
	Strict bool
}

// SectionKey returns "section#key", or the key when no section is set.
func (m DataMeta) SectionKey() string {
	if m.Section == "" {
		return m.Key
	}
	return m.Section + "#" + m.Key
}

func (m *DataMeta) merge(o DataMeta) {
	if o.Section != "" {
		m.Section = o.Section
	}
	if o.Desc != "" {
		m.Desc = o.Desc
	}
	if o.Account {
		m.Account = true
	}
	if len(o.DependsOn) > 0 {
		m.DependsOn = append([]string(nil), o.DependsOn...)
	}
	if o.Validate != "" {
		m.Validate = o.Validate
	}
	if o.Default != nil {
		m.Default = o.Default
	}
	if o.Encrypted {
		m.Encrypted = true
	}
	if o.Required {
		m.Required = true
	}
	if o.Readonly {
		m.Readonly = true
	}
	if len(o.ListValues) > 0 {
		m.ListValues = append([]string(nil), o.ListValues...)
		m.ListStrict = o.ListStrict
	}
	if o.ListFrom != nil {
		m.ListFrom = o.ListFrom
	}
	if o.Step != 0 {
		m.Step = o.Step
	}
	if o.Order != 0 {
		m.Order = o.Order
	}
	if o.PostValidate != nil {
		m.PostValidate = o.PostValidate
	}
}

// Config is the layered configuration store the dispatcher reads data needs
// from and Setup writes account answers to.
type Config interface {
	// Get returns the value of key from the highest layer that has it.
	Get(key string) (any, bool)
	// Set writes key in the runtime layer.
	Set(key string, value any)
	// Exist reports whether any layer has key.
	Exist(key string) bool
	// Where lists the layers holding key, highest first.
	Where(key string) []string
	// SetAccount writes key in the account layer and persists it.
	SetAccount(key string, value any) error
}
