package lorj

import (
	"sort"
	"sync"

	"github.com/forj-oss/forj/pkg/keypath"
)

// ObjectData stores at most one live object per type, the last query list per
// type and plain values. It is used both as the dispatcher store and as the
// parameter bundle handed to handlers.
type ObjectData struct {
	mu      sync.RWMutex
	entries map[string]any
	queries map[ObjectType]*Data
	hdata   map[string]any
}

// NewObjectData returns an empty store.
func NewObjectData() *ObjectData {
	return &ObjectData{
		entries: make(map[string]any),
		queries: make(map[ObjectType]*Data),
		hdata:   make(map[string]any),
	}
}

// Add registers d, superseding any previous entry of the same type. Lists go
// to the query namespace.
func (o *ObjectData) Add(d *Data) {
	if d == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if d.IsList() {
		o.queries[d.Type()] = d
		return
	}
	o.entries[string(d.Type())] = d
}

// Unregister removes the live object of type t.
func (o *ObjectData) Unregister(t ObjectType) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[string(t)].(*Data); !ok {
		return false
	}
	delete(o.entries, string(t))
	return true
}

// Data returns the live object of type t.
func (o *ObjectData) Data(t ObjectType) (*Data, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d, ok := o.entries[string(t)].(*Data)
	return d, ok
}

// CachedQuery returns the last query list registered for t.
func (o *ObjectData) CachedQuery(t ObjectType) (*Data, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d, ok := o.queries[t]
	return d, ok
}

// DropQuery forgets the cached query list of t.
func (o *ObjectData) DropQuery(t ObjectType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.queries, t)
}

// Get reads a value. The first segment selects the entry: an object delegates
// the rest of the path to Data.Get, a plain value is walked as nested maps.
func (o *ObjectData) Get(path ...any) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	o.mu.RLock()
	entry, ok := o.entries[keyOf(path[0])]
	o.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if d, isData := entry.(*Data); isData {
		return d.Get(path[1:]...)
	}
	if len(path) == 1 {
		return entry, true
	}
	m, isMap := entry.(map[string]any)
	if !isMap {
		return nil, false
	}
	return lookup(m, path[1:])
}

// GetString returns a value as a string, or "" when missing.
func (o *ObjectData) GetString(path ...any) string {
	v, ok := o.Get(path...)
	if !ok || v == nil {
		return ""
	}
	if d, isData := v.(*Data); isData {
		return d.GetString()
	}
	if s, isStr := v.(string); isStr {
		return s
	}
	return keyOf(v)
}

// Exists reports whether path resolves, without failing on missing segments.
func (o *ObjectData) Exists(path ...any) bool {
	v, ok := o.Get(path...)
	return ok && v != nil
}

// Set stores a plain value. Objects cannot be written through Set.
func (o *ObjectData) Set(path string, value any) error {
	if path == "" {
		return NewPermanentError("empty parameter path", nil)
	}
	kp := keypath.Parse(path)
	names := kp.Names()
	o.mu.Lock()
	defer o.mu.Unlock()
	if d, isData := o.entries[names[0]].(*Data); isData {
		return NewPermanentError("'"+names[0]+"' is an object, use SetAttr", nil).WithObject(d.Type())
	}
	if len(names) == 1 {
		o.entries[names[0]] = value
		return nil
	}
	m, isMap := o.entries[names[0]].(map[string]any)
	if !isMap {
		m = map[string]any{}
		o.entries[names[0]] = m
	}
	setNested(m, names[1:], value)
	return nil
}

// HData returns a copy of the controller-side mapped parameters.
func (o *ObjectData) HData() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]any, len(o.hdata))
	for k, v := range o.hdata {
		out[k] = v
	}
	return out
}

// SetHData sets a controller-side mapped parameter.
func (o *ObjectData) SetHData(key string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	setNested(o.hdata, keypath.Parse(key).Names(), value)
}

// Keys returns the sorted entry keys.
func (o *ObjectData) Keys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.entries))
	for k := range o.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
