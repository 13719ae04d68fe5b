package lorj

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/forj-oss/forj/pkg/keypath"
)

// ObjectType names a kind of cloud object (network, server, forge...).
type ObjectType string

// Verb is a lifecycle operation.
type Verb string

const (
	VerbCreate Verb = "create"
	VerbDelete Verb = "delete"
	VerbGet    Verb = "get"
	VerbQuery  Verb = "query"
	VerbUpdate Verb = "update"
)

var allVerbs = []Verb{VerbCreate, VerbDelete, VerbGet, VerbQuery, VerbUpdate}

// Handler signatures. Every handler receives the dispatcher so it can reach
// the controller, the configuration and other objects.
type (
	CreateFunc func(ctx context.Context, d *Dispatcher, t ObjectType, params *ObjectData) (*Data, error)
	DeleteFunc func(ctx context.Context, d *Dispatcher, t ObjectType, params *ObjectData) (bool, error)
	GetFunc    func(ctx context.Context, d *Dispatcher, t ObjectType, id string, params *ObjectData) (*Data, error)
	QueryFunc  func(ctx context.Context, d *Dispatcher, t ObjectType, q Query, params *ObjectData) (*Data, error)
	UpdateFunc func(ctx context.Context, d *Dispatcher, t ObjectType, params *ObjectData) (*Data, error)
)

// Handlers groups the lifecycle handlers of a type. A nil slot means the verb
// is a no-op for that type.
type Handlers struct {
	Create CreateFunc
	Delete DeleteFunc
	Get    GetFunc
	Query  QueryFunc
	Update UpdateFunc
}

func (h Handlers) empty() bool {
	return h.Create == nil && h.Delete == nil && h.Get == nil && h.Query == nil && h.Update == nil
}

func (h Handlers) has(v Verb) bool {
	switch v {
	case VerbCreate:
		return h.Create != nil
	case VerbDelete:
		return h.Delete != nil
	case VerbGet:
		return h.Get != nil
	case VerbQuery:
		return h.Query != nil
	case VerbUpdate:
		return h.Update != nil
	}
	return false
}

// NeedKind distinguishes configuration data from object references.
type NeedKind int

const (
	NeedData NeedKind = iota
	NeedObject
)

func (k NeedKind) String() string {
	if k == NeedObject {
		return "object"
	}
	return "data"
}

// NeedSpec is one declared dependency of a type.
type NeedSpec struct {
	Key         string
	Kind        NeedKind
	Required    bool
	For         []Verb
	Mapping     string
	ExtractFrom string
	Default     any
}

func (n NeedSpec) appliesTo(v Verb) bool {
	for _, f := range n.For {
		if f == v {
			return true
		}
	}
	return false
}

// NeedOption adjusts a NeedSpec at declaration.
type NeedOption func(*NeedSpec)

// For restricts the need to the given verbs.
func For(verbs ...Verb) NeedOption {
	return func(n *NeedSpec) { n.For = append([]Verb(nil), verbs...) }
}

// Mapping names the controller-side parameter the data is sent as.
func Mapping(key string) NeedOption {
	return func(n *NeedSpec) { n.Mapping = key }
}

// ExtractFrom reads the value from another parameter path instead of the
// configuration.
func ExtractFrom(path string) NeedOption {
	return func(n *NeedSpec) { n.ExtractFrom = path }
}

// Default sets the value used when the configuration has none.
func Default(v any) NeedOption {
	return func(n *NeedSpec) { n.Default = v }
}

// IsRequired overrides the builder's optional/required mode for one need.
func IsRequired(required bool) NeedOption {
	return func(n *NeedSpec) { n.Required = required }
}

type valuePair struct {
	process    any
	controller any
}

type objectDef struct {
	handlers      Handlers
	needs         []*NeedSpec
	queryMapping  map[string]string
	returnKeys    []string
	returnMapping map[string]keypath.KeyPath
	valueMapping  map[string][]valuePair
}

// newObjectDef applies the default id/name query and return mappings.
func newObjectDef() *objectDef {
	return &objectDef{
		queryMapping:  map[string]string{"id": "id", "name": "name"},
		returnKeys:    []string{"id", "name"},
		returnMapping: map[string]keypath.KeyPath{"id": keypath.Parse("id"), "name": keypath.Parse("name")},
		valueMapping:  make(map[string][]valuePair),
	}
}

func (o *objectDef) need(key string) *NeedSpec {
	for _, n := range o.needs {
		if n.Key == key {
			return n
		}
	}
	return nil
}

// Registry holds the declared object model. It is populated once through
// TypeBuilders, then sealed and only read during dispatch.
type Registry struct {
	mu      sync.Mutex
	sealed  bool
	objects map[ObjectType]*objectDef
	order   []ObjectType
	data    map[string]*DataMeta
	late    []error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		objects: make(map[ObjectType]*objectDef),
		data:    make(map[string]*DataMeta),
	}
}

// Define opens the declaration of type t, or amends it when it exists. A new
// type needs at least one handler. Setting a handler slot twice fails.
func (r *Registry) Define(t ObjectType, h Handlers) (*TypeBuilder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil, declarationError("registry is sealed, '%s' cannot be declared", t)
	}
	if t == "" {
		return nil, declarationError("object type name is empty")
	}

	def, exists := r.objects[t]
	if !exists {
		if h.empty() {
			return nil, declarationError("new object '%s' requires at least one handler", t)
		}
		def = newObjectDef()
	} else {
		for _, v := range allVerbs {
			if h.has(v) && def.handlers.has(v) {
				return nil, declarationError("'%s' handler of '%s' is already declared", v, t).WithObject(t)
			}
		}
	}

	if h.Create != nil {
		def.handlers.Create = h.Create
	}
	if h.Delete != nil {
		def.handlers.Delete = h.Delete
	}
	if h.Get != nil {
		def.handlers.Get = h.Get
	}
	if h.Query != nil {
		def.handlers.Query = h.Query
	}
	if h.Update != nil {
		def.handlers.Update = h.Update
	}

	if !exists {
		r.objects[t] = def
		r.order = append(r.order, t)
	}
	return &TypeBuilder{reg: r, typ: t, def: def}, nil
}

// Stub declares t with no handler. The type only exists so other types can
// need it and so its attributes can be mapped from controller handles.
func (r *Registry) Stub(t ObjectType) (*TypeBuilder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return nil, declarationError("registry is sealed, '%s' cannot be declared", t)
	}
	if t == "" {
		return nil, declarationError("object type name is empty")
	}
	def, ok := r.objects[t]
	if !ok {
		def = newObjectDef()
		r.objects[t] = def
		r.order = append(r.order, t)
	}
	return &TypeBuilder{reg: r, typ: t, def: def}, nil
}

// DefineData registers or merges the metadata of a configuration key.
func (r *Registry) DefineData(key string, meta DataMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return declarationError("registry is sealed, data '%s' cannot be declared", key)
	}
	if meta.Validate != "" {
		if _, err := regexp.Compile(meta.Validate); err != nil {
			return declarationError("data '%s' has an invalid validation pattern '%s': %v", key, meta.Validate, err)
		}
	}
	if cur, ok := r.data[key]; ok {
		cur.merge(meta)
		return nil
	}
	m := meta
	m.Key = key
	r.data[key] = &m
	return nil
}

// Seal ends the declaration phase. It reports declarations attempted on
// closed builders.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	return errors.Join(r.late...)
}

// Sealed reports whether the declaration phase is over.
func (r *Registry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Has reports whether t is declared.
func (r *Registry) Has(t ObjectType) bool {
	_, ok := r.lookup(t)
	return ok
}

// Types returns the declared types in declaration order.
func (r *Registry) Types() []ObjectType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ObjectType(nil), r.order...)
}

// Needs returns a copy of the needs of t.
func (r *Registry) Needs(t ObjectType) []NeedSpec {
	def, ok := r.lookup(t)
	if !ok {
		return nil
	}
	out := make([]NeedSpec, 0, len(def.needs))
	for _, n := range def.needs {
		out = append(out, *n)
	}
	return out
}

// Meta returns the metadata of a data key.
func (r *Registry) Meta(key string) (DataMeta, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.data[key]
	if !ok {
		return DataMeta{}, false
	}
	return *m, true
}

// DataKeys returns the keys with registered metadata, sorted.
func (r *Registry) DataKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.data))
	for k := range r.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Walk returns the types reachable from root through object needs, breadth
// first, root included.
func (r *Registry) Walk(root ObjectType) []ObjectType {
	if !r.Has(root) {
		return nil
	}
	seen := map[ObjectType]bool{root: true}
	queue := []ObjectType{root}
	var out []ObjectType
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		out = append(out, t)
		for _, n := range r.Needs(t) {
			if n.Kind != NeedObject {
				continue
			}
			dep := ObjectType(n.Key)
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return out
}

func (r *Registry) lookup(t ObjectType) (*objectDef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.objects[t]
	return def, ok
}

// TypeBuilder declares needs and mappings of one type. Its optional/required
// mode starts as required and only lives as long as the builder.
type TypeBuilder struct {
	reg      *Registry
	typ      ObjectType
	def      *objectDef
	optional bool
	closed   bool
	err      error
}

// Type returns the type under declaration.
func (b *TypeBuilder) Type() ObjectType { return b.typ }

// Optional makes the following needs optional.
func (b *TypeBuilder) Optional() *TypeBuilder {
	if b.check("optional") {
		b.optional = true
	}
	return b
}

// Required makes the following needs required.
func (b *TypeBuilder) Required() *TypeBuilder {
	if b.check("required") {
		b.optional = false
	}
	return b
}

// NeedData declares a dependency on a configuration key.
func (b *TypeBuilder) NeedData(key string, opts ...NeedOption) *TypeBuilder {
	if !b.check("need data '" + key + "'") {
		return b
	}
	b.addNeed(key, NeedData, []Verb{VerbCreate}, opts)
	return b
}

// NeedObject declares a dependency on another declared type.
func (b *TypeBuilder) NeedObject(t ObjectType, opts ...NeedOption) *TypeBuilder {
	if !b.check("need object '" + string(t) + "'") {
		return b
	}
	if !b.reg.Has(t) {
		b.fail(declarationError("'%s' needs '%s' which is not declared", b.typ, t).WithObject(b.typ))
		return b
	}
	b.addNeed(string(t), NeedObject, allVerbs, opts)
	return b
}

func (b *TypeBuilder) addNeed(key string, kind NeedKind, defFor []Verb, opts []NeedOption) {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()

	n := b.def.need(key)
	if n == nil {
		n = &NeedSpec{Key: key, Kind: kind, For: append([]Verb(nil), defFor...)}
		b.def.needs = append(b.def.needs, n)
	}
	n.Kind = kind
	n.Required = !b.optional
	for _, o := range opts {
		o(n)
	}
}

// QueryMapping maps a query field to its controller name.
func (b *TypeBuilder) QueryMapping(key, mapped string) *TypeBuilder {
	if !b.check("query mapping '" + key + "'") {
		return b
	}
	b.reg.mu.Lock()
	b.def.queryMapping[key] = mapped
	b.reg.mu.Unlock()
	return b
}

// ReturnMapping maps an attribute to the controller attribute path it is read
// from.
func (b *TypeBuilder) ReturnMapping(key, mappedPath string) *TypeBuilder {
	if !b.check("return mapping '" + key + "'") {
		return b
	}
	b.reg.mu.Lock()
	if _, ok := b.def.returnMapping[key]; !ok {
		b.def.returnKeys = append(b.def.returnKeys, key)
	}
	b.def.returnMapping[key] = keypath.Parse(mappedPath)
	b.reg.mu.Unlock()
	return b
}

// Attribute declares an attribute read from the same controller path.
func (b *TypeBuilder) Attribute(key string) *TypeBuilder {
	return b.ReturnMapping(key, key)
}

// UndefineAttribute drops an attribute, including the default id and name,
// from the return and query mappings.
func (b *TypeBuilder) UndefineAttribute(key string) *TypeBuilder {
	if !b.check("undefine attribute '" + key + "'") {
		return b
	}
	b.reg.mu.Lock()
	delete(b.def.returnMapping, key)
	delete(b.def.queryMapping, key)
	keys := b.def.returnKeys[:0]
	for _, k := range b.def.returnKeys {
		if k != key {
			keys = append(keys, k)
		}
	}
	b.def.returnKeys = keys
	b.reg.mu.Unlock()
	return b
}

// ValueMapping maps a process value of key to its controller value.
func (b *TypeBuilder) ValueMapping(key string, process, controller any) *TypeBuilder {
	if !b.check("value mapping '" + key + "'") {
		return b
	}
	b.reg.mu.Lock()
	b.def.valueMapping[key] = append(b.def.valueMapping[key], valuePair{process: process, controller: controller})
	b.reg.mu.Unlock()
	return b
}

// Close ends the declaration and returns the first declaration error.
func (b *TypeBuilder) Close() error {
	if b.closed {
		return b.err
	}
	b.closed = true
	return b.err
}

// Err returns the first declaration error.
func (b *TypeBuilder) Err() error { return b.err }

func (b *TypeBuilder) check(what string) bool {
	if b.err != nil {
		return false
	}
	if b.closed {
		err := declarationError("%s: no object open for declaration (builder of '%s' is closed)", what, b.typ)
		b.reg.mu.Lock()
		b.reg.late = append(b.reg.late, err)
		b.reg.mu.Unlock()
		return false
	}
	if b.reg.Sealed() {
		b.fail(declarationError("%s: registry is sealed", what))
		return false
	}
	return true
}

func (b *TypeBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// String is used in logs.
func (b *TypeBuilder) String() string { return fmt.Sprintf("declaration(%s)", b.typ) }
