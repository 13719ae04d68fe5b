package lorj

import (
	"fmt"
	"strconv"

	"github.com/forj-oss/forj/pkg/keypath"
)

// Query is a set of field filters sent to a Query handler.
type Query map[string]any

// Mapper translates a raw provider handle into attributes.
type Mapper func(t ObjectType, raw any) (map[string]any, error)

// Action tells Each what to do with the item just visited.
type Action int

const (
	// Keep leaves the item in the list.
	Keep Action = iota
	// Remove drops the item once the traversal is over.
	Remove
)

// Data wraps either a single mapped object or a list of them.
type Data struct {
	typ   ObjectType
	list  bool
	raw   any
	attrs map[string]any
	items []*Data
	query Query
}

// NewSingle maps raw through mapper and wraps the result.
func NewSingle(t ObjectType, raw any, mapper Mapper) (*Data, error) {
	attrs := map[string]any{}
	if mapper != nil {
		m, err := mapper(t, raw)
		if err != nil {
			return nil, err
		}
		if m != nil {
			attrs = m
		}
	}
	return &Data{typ: t, raw: raw, attrs: attrs}, nil
}

// NewList maps every raw item and collects them with the query that produced
// them. A mapping failure aborts the whole list.
func NewList(t ObjectType, raws []any, q Query, mapper Mapper) (*Data, error) {
	items := make([]*Data, 0, len(raws))
	for _, raw := range raws {
		d, err := NewSingle(t, raw, mapper)
		if err != nil {
			return nil, NewPermanentError(fmt.Sprintf("unable to map '%s' list item", t), err).
				WithCode(ErrCodeAttributeMapping).WithObject(t)
		}
		items = append(items, d)
	}
	return &Data{typ: t, list: true, items: items, query: cloneQuery(q)}, nil
}

// NewAttrs wraps attributes built by a process rather than returned by a
// controller.
func NewAttrs(t ObjectType, attrs map[string]any) *Data {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &Data{typ: t, raw: attrs, attrs: attrs}
}

// NewListOf wraps already built single items.
func NewListOf(t ObjectType, items []*Data, q Query) *Data {
	return &Data{typ: t, list: true, items: items, query: cloneQuery(q)}
}

// Type returns the object type.
func (d *Data) Type() ObjectType { return d.typ }

// IsList reports whether d is a list.
func (d *Data) IsList() bool { return d.list }

// Raw returns the provider handle of a single object.
func (d *Data) Raw() any { return d.raw }

// Attrs returns the mapped attributes of a single object.
func (d *Data) Attrs() map[string]any { return d.attrs }

// Items returns the list items.
func (d *Data) Items() []*Data { return d.items }

// Len returns the number of items of a list, 1 for a single object.
func (d *Data) Len() int {
	if d.list {
		return len(d.items)
	}
	return 1
}

// Query returns the query of a list.
func (d *Data) Query() Query { return d.query }

// Get reads into the container. With no path it returns d itself. "object"
// returns the raw handle, "attrs" or any other key reads the attributes. On a
// list, "object" and "query" return those fields and an int selects an item.
func (d *Data) Get(path ...any) (any, bool) {
	if len(path) == 0 {
		return d, true
	}
	if d.list {
		switch path[0] {
		case "object":
			return d.raw, true
		case "query":
			return d.query, true
		}
		idx, ok := toIndex(path[0])
		if !ok || idx < 0 || idx >= len(d.items) {
			return nil, false
		}
		return d.items[idx].Get(path[1:]...)
	}
	switch path[0] {
	case "object":
		return d.raw, true
	case "attrs":
		path = path[1:]
		if len(path) == 0 {
			return d.attrs, true
		}
	}
	return lookup(d.attrs, path)
}

// GetString returns the attribute as a string, or "" when missing.
func (d *Data) GetString(path ...any) string {
	v, ok := d.Get(path...)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// SetAttr sets an attribute on a single object. path follows keypath rules.
func (d *Data) SetAttr(path string, value any) error {
	if d.list {
		return NewPermanentError("attributes cannot be set on a list", nil).WithObject(d.typ)
	}
	if path == "" {
		return NewPermanentError("empty attribute path", nil).WithObject(d.typ)
	}
	kp := keypath.Parse(path)
	if d.attrs == nil {
		d.attrs = map[string]any{}
	}
	setNested(d.attrs, kp.Names(), value)
	return nil
}

// Each visits the items of a list. Items for which fn returns Remove are
// dropped after the traversal.
func (d *Data) Each(fn func(*Data) Action) {
	if !d.list {
		fn(d)
		return
	}
	var drop []int
	for i, item := range d.items {
		if fn(item) == Remove {
			drop = append(drop, i)
		}
	}
	if len(drop) == 0 {
		return
	}
	kept := make([]*Data, 0, len(d.items)-len(drop))
	j := 0
	for i, item := range d.items {
		if j < len(drop) && drop[j] == i {
			j++
			continue
		}
		kept = append(kept, item)
	}
	d.items = kept
}

func toIndex(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case string:
		i, err := strconv.Atoi(t)
		return i, err == nil
	}
	return 0, false
}

func keyOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case keypath.Symbol:
		return string(t)
	case ObjectType:
		return string(t)
	default:
		return fmt.Sprint(v)
	}
}

// lookup walks nested maps.
func lookup(m map[string]any, path []any) (any, bool) {
	var cur any = m
	for _, p := range path {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[keyOf(p)]
			if !ok {
				return nil, false
			}
			cur = v
		case *Data:
			return node.Get(path...)
		case []any:
			idx, ok := toIndex(p)
			if !ok || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
		path = path[1:]
	}
	return cur, true
}

func setNested(m map[string]any, path []string, value any) {
	cur := m
	for _, p := range path[:len(path)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}

func cloneQuery(q Query) Query {
	if q == nil {
		return Query{}
	}
	out := make(Query, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}
