// Package lorj is the object/process/controller framework: a registry of
// declared cloud object types, a dispatcher resolving their dependencies and
// running their lifecycle handlers, and the controller contract providers
// implement.
package lorj

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/forj-oss/forj/pkg/keypath"
	"github.com/forj-oss/forj/pkg/telemetry"
)

// Dispatcher runs the Create/Delete/Get/Query/Update verbs over a sealed
// registry and keeps the resulting objects.
type Dispatcher struct {
	reg      *Registry
	cfg      Config
	ctrl     Controller
	store    *ObjectData
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	prompter Prompter
	retrier  *Retrier

	mu        sync.Mutex
	current   []ObjectType
	resolving map[ObjectType]bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records verb and controller metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer opens a span per verb and controller call.
func WithTracer(t *telemetry.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithPrompter sets the prompter used by Setup.
func WithPrompter(p Prompter) Option {
	return func(d *Dispatcher) { d.prompter = p }
}

// WithRetrier replaces the default transient retry policy.
func WithRetrier(r *Retrier) Option {
	return func(d *Dispatcher) { d.retrier = r }
}

// New seals reg and builds a dispatcher. A nil controller fails every call
// with NotImplemented.
func New(reg *Registry, cfg Config, ctrl Controller, opts ...Option) (*Dispatcher, error) {
	if reg == nil {
		return nil, NewPermanentError("registry is required", nil)
	}
	if cfg == nil {
		return nil, NewPermanentError("configuration is required", nil)
	}
	if err := reg.Seal(); err != nil {
		return nil, err
	}
	if ctrl == nil {
		ctrl = UnimplementedController{}
	}

	d := &Dispatcher{
		reg:       reg,
		cfg:       cfg,
		ctrl:      ctrl,
		store:     NewObjectData(),
		logger:    zerolog.Nop(),
		resolving: make(map[ObjectType]bool),
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.With().Str("component", "dispatcher").Logger()
	if d.retrier == nil {
		d.retrier = NewRetrier(d.logger)
	}
	if d.metrics != nil && d.retrier.OnRetry == nil {
		d.retrier.OnRetry = func(op string, _ int, _ error) { d.metrics.RecordRetry(op) }
	}
	return d, nil
}

// Registry returns the sealed registry.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// Config returns the configuration store.
func (d *Dispatcher) Config() Config { return d.cfg }

// Store returns the object store.
func (d *Dispatcher) Store() *ObjectData { return d.store }

// Logger returns the dispatcher logger.
func (d *Dispatcher) Logger() *zerolog.Logger { return &d.logger }

// Retrier returns the transient retry policy.
func (d *Dispatcher) Retrier() *Retrier { return d.retrier }

// Current returns the object type whose handler is running, or "".
func (d *Dispatcher) Current() ObjectType {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.current) == 0 {
		return ""
	}
	return d.current[len(d.current)-1]
}

// Object returns the live object of type t.
func (d *Dispatcher) Object(t ObjectType) (*Data, bool) { return d.store.Data(t) }

// Register stores obj as the live object of its type.
func (d *Dispatcher) Register(obj *Data) *Data {
	d.store.Add(obj)
	return obj
}

// RegisterAttrs wraps attrs as an object of type t and registers it.
func (d *Dispatcher) RegisterAttrs(t ObjectType, attrs map[string]any) *Data {
	return d.Register(NewAttrs(t, attrs))
}

// QueryCacheCleanup forgets the cached query of t.
func (d *Dispatcher) QueryCacheCleanup(t ObjectType) { d.store.DropQuery(t) }

// Create builds an object of type t, creating its missing required
// dependencies first.
func (d *Dispatcher) Create(ctx context.Context, t ObjectType) (*Data, error) {
	var out *Data
	err := d.dispatch(ctx, VerbCreate, t, func(ctx context.Context, def *objectDef, params *ObjectData) error {
		res, err := def.handlers.Create(ctx, d, t, params)
		if err != nil {
			return err
		}
		if res != nil {
			d.store.Add(res)
		}
		out = res
		return nil
	})
	return out, err
}

// Update runs the update handler of t.
func (d *Dispatcher) Update(ctx context.Context, t ObjectType) (*Data, error) {
	var out *Data
	err := d.dispatch(ctx, VerbUpdate, t, func(ctx context.Context, def *objectDef, params *ObjectData) error {
		res, err := def.handlers.Update(ctx, d, t, params)
		if err != nil {
			return err
		}
		if res != nil {
			d.store.Add(res)
		}
		out = res
		return nil
	})
	return out, err
}

// Get loads the object of type t identified by id. A nil result means not
// found.
func (d *Dispatcher) Get(ctx context.Context, t ObjectType, id string) (*Data, error) {
	var out *Data
	err := d.dispatch(ctx, VerbGet, t, func(ctx context.Context, def *objectDef, params *ObjectData) error {
		res, err := def.handlers.Get(ctx, d, t, id, params)
		if err != nil {
			return err
		}
		if res != nil {
			d.store.Add(res)
		}
		out = res
		return nil
	})
	return out, err
}

// Query lists objects of type t matching q. The last query per type is
// cached and reused when the same query is asked again.
func (d *Dispatcher) Query(ctx context.Context, t ObjectType, q Query) (*Data, error) {
	if !d.reg.Has(t) {
		return nil, unknownTypeError(t, string(VerbQuery))
	}
	want := cloneQuery(q)
	if cached, ok := d.store.CachedQuery(t); ok && reflect.DeepEqual(cached.query, want) {
		d.logger.Debug().Str("object", string(t)).Msg("Query cache hit")
		if d.metrics != nil {
			d.metrics.RecordQueryCache(string(t), true)
		}
		return cached, nil
	}
	if d.metrics != nil {
		d.metrics.RecordQueryCache(string(t), false)
	}

	var out *Data
	err := d.dispatch(ctx, VerbQuery, t, func(ctx context.Context, def *objectDef, params *ObjectData) error {
		res, err := def.handlers.Query(ctx, d, t, want, params)
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}
		if !res.IsList() {
			res = NewListOf(t, []*Data{res}, want)
		}
		res.query = cloneQuery(want)
		d.store.Add(res)
		out = res
		return nil
	})
	return out, err
}

// QuerySingle runs Query and expects at most one result. No match returns
// nil without error.
func (d *Dispatcher) QuerySingle(ctx context.Context, t ObjectType, q Query) (*Data, error) {
	list, err := d.Query(ctx, t, q)
	if err != nil || list == nil {
		return nil, err
	}
	switch list.Len() {
	case 0:
		d.logger.Debug().Str("object", string(t)).Interface("query", q).Msg("No object found")
		return nil, nil
	case 1:
		return list.Items()[0], nil
	default:
		return nil, NewPermanentError(fmt.Sprintf("found %d '%s' matching the query, expected one", list.Len(), t), nil).
			WithObject(t).WithOperation(string(VerbQuery)).WithDetail("query", q)
	}
}

// Delete runs the delete handler of t on the live object. The object is
// evicted only when the handler reports it was removed.
func (d *Dispatcher) Delete(ctx context.Context, t ObjectType) (bool, error) {
	var removed bool
	err := d.dispatch(ctx, VerbDelete, t, func(ctx context.Context, def *objectDef, params *ObjectData) error {
		ok, err := def.handlers.Delete(ctx, d, t, params)
		if err != nil {
			return err
		}
		if ok {
			d.store.Unregister(t)
			d.store.DropQuery(t)
		}
		removed = ok
		return nil
	})
	return removed, err
}

type runFunc func(ctx context.Context, def *objectDef, params *ObjectData) error

func (d *Dispatcher) dispatch(ctx context.Context, verb Verb, t ObjectType, run runFunc) error {
	def, ok := d.reg.lookup(t)
	if !ok {
		return unknownTypeError(t, string(verb))
	}
	if !def.handlers.has(verb) {
		d.logger.Debug().Str("object", string(t)).Str("verb", string(verb)).Msg("No handler, nothing to do")
		return nil
	}

	ctx, span := d.tracer.StartVerbSpan(ctx, string(verb), string(t))
	defer span.End()
	start := time.Now()

	err := d.resolve(ctx, verb, t, def)
	if err == nil {
		var params *ObjectData
		params, err = d.objectParams(t, verb, def, false)
		if err == nil {
			d.push(t)
			d.logger.Debug().Str("object", string(t)).Str("verb", string(verb)).Msg("Running handler")
			err = run(ctx, def, params)
			d.pop()
		}
	}

	status := "success"
	if err != nil {
		status = "error"
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	if d.metrics != nil {
		d.metrics.RecordDispatch(string(verb), string(t), status, time.Since(start))
	}
	return err
}

func (d *Dispatcher) push(t ObjectType) {
	d.mu.Lock()
	d.current = append(d.current, t)
	d.mu.Unlock()
}

func (d *Dispatcher) pop() {
	d.mu.Lock()
	if len(d.current) > 0 {
		d.current = d.current[:len(d.current)-1]
	}
	d.mu.Unlock()
}

// resolve creates the missing required objects of t for verb, one at a time,
// re-checking after each creation.
func (d *Dispatcher) resolve(ctx context.Context, verb Verb, t ObjectType, def *objectDef) error {
	missing, err := d.checkRequired(verb, t, def)
	if err != nil || len(missing) == 0 {
		return err
	}

	d.mu.Lock()
	d.resolving[t] = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.resolving, t)
		d.mu.Unlock()
	}()

	for len(missing) > 0 {
		dep := missing[0]

		d.mu.Lock()
		inProgress := d.resolving[dep]
		d.mu.Unlock()
		if inProgress {
			return DependencyLoopError(dep, t)
		}

		d.logger.Debug().Str("object", string(t)).Str("dependency", string(dep)).Msg("Creating missing dependency")
		if _, err := d.Create(ctx, dep); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		missing, err = d.checkRequired(verb, t, def)
		if err != nil {
			return err
		}
		for _, m := range missing {
			if m == dep {
				return DependencyLoopError(dep, t)
			}
		}
	}
	return nil
}

// checkRequired lists the required objects of t not loaded yet. A required
// data key without value fails.
func (d *Dispatcher) checkRequired(verb Verb, t ObjectType, def *objectDef) ([]ObjectType, error) {
	var missing []ObjectType

	if verb == VerbDelete {
		if _, ok := d.store.Data(t); !ok {
			return nil, NewPermanentError(fmt.Sprintf("'%s' is not loaded, nothing to delete", t), nil).
				WithCode(ErrCodeNotFound).WithObject(t).WithOperation(string(verb))
		}
	}

	var extracted []*NeedSpec
	for _, n := range def.needs {
		if !n.Required || !n.appliesTo(verb) {
			continue
		}
		switch n.Kind {
		case NeedData:
			if n.ExtractFrom != "" {
				extracted = append(extracted, n)
				continue
			}
			if v := d.dataValue(n); v == nil {
				section := "runtime"
				if m, ok := d.reg.Meta(n.Key); ok && m.Section != "" {
					section = m.Section
				}
				return nil, NewPermanentError(
					fmt.Sprintf("key '%s/%s' is not set. '%s' requirement failed", section, n.Key, t), nil).
					WithCode(ErrCodeMissingData).WithObject(t).WithOperation(string(verb)).WithDetail("key", n.Key)
			}
		case NeedObject:
			if _, ok := d.store.Data(ObjectType(n.Key)); !ok {
				missing = append(missing, ObjectType(n.Key))
			}
		}
	}

	// Extracted values come from objects, checked once those are loaded.
	if len(missing) > 0 {
		return missing, nil
	}
	for _, n := range extracted {
		if !d.store.Exists(pathArgs(n.ExtractFrom)...) {
			return nil, NewPermanentError(
				fmt.Sprintf("key '%s' was not extracted from '%s'. '%s' requirement failed", n.Key, n.ExtractFrom, t), nil).
				WithCode(ErrCodeMissingData).WithObject(t).WithOperation(string(verb))
		}
	}
	return nil, nil
}

func (d *Dispatcher) dataValue(n *NeedSpec) any {
	if v, ok := d.cfg.Get(n.Key); ok && v != nil {
		return v
	}
	if n.Default != nil {
		return n.Default
	}
	if m, ok := d.reg.Meta(n.Key); ok {
		return m.Default
	}
	return nil
}

// objectParams builds the parameter bundle of t for verb. For a controller
// bundle, data values go through value mapping and mapped keys fill HData.
func (d *Dispatcher) objectParams(t ObjectType, verb Verb, def *objectDef, controller bool) (*ObjectData, error) {
	p := NewObjectData()

	if verb == VerbDelete {
		if obj, ok := d.store.Data(t); ok {
			p.Add(obj)
		}
	}

	for _, n := range def.needs {
		if !n.appliesTo(verb) {
			continue
		}
		switch n.Kind {
		case NeedData:
			if err := d.buildData(t, def, p, n, controller); err != nil {
				return nil, err
			}
		case NeedObject:
			obj, ok := d.store.Data(ObjectType(n.Key))
			if !ok {
				if n.Required {
					return nil, NewPermanentError(fmt.Sprintf("object '%s' is not loaded. '%s' requirement failed", n.Key, t), nil).
						WithCode(ErrCodeMissingData).WithObject(t).WithOperation(string(verb))
				}
				d.logger.Debug().Str("object", string(t)).Str("optional", n.Key).Msg("Optional object not loaded")
				continue
			}
			p.Add(obj)
		}
	}
	return p, nil
}

func (d *Dispatcher) buildData(t ObjectType, def *objectDef, p *ObjectData, n *NeedSpec, controller bool) error {
	var value any
	if n.ExtractFrom != "" {
		args := pathArgs(n.ExtractFrom)
		if v, ok := p.Get(args...); ok {
			value = v
		} else if v, ok := d.store.Get(args...); ok {
			value = v
		}
	}
	if value == nil {
		value = d.dataValue(n)
	}

	if controller {
		if pairs := def.valueMapping[n.Key]; len(pairs) > 0 && value != nil {
			mapped, ok := mapValue(pairs, value, true)
			if !ok {
				return NewPermanentError(fmt.Sprintf("'%s.%s': no value mapping for '%v'", t, n.Key, value), nil).
					WithCode(ErrCodeAttributeMapping).WithObject(t)
			}
			value = mapped
		}
		if n.Mapping != "" {
			p.SetHData(n.Mapping, value)
		}
	}
	return p.Set(n.Key, value)
}

func mapValue(pairs []valuePair, value any, toController bool) (any, bool) {
	for _, pair := range pairs {
		if toController && reflect.DeepEqual(pair.process, value) {
			return pair.controller, true
		}
		if !toController && reflect.DeepEqual(pair.controller, value) {
			return pair.process, true
		}
	}
	return nil, false
}

func pathArgs(path string) []any {
	names := keypath.Parse(path).Names()
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// mapper turns a raw controller handle into attributes through the return
// mapping of t. A declared attribute the controller cannot provide fails.
func (d *Dispatcher) mapper(t ObjectType, raw any) (map[string]any, error) {
	def, ok := d.reg.lookup(t)
	if !ok {
		return nil, unknownTypeError(t, "map")
	}
	attrs := make(map[string]any, len(def.returnKeys))
	for _, key := range def.returnKeys {
		path := def.returnMapping[key]
		v, err := d.ctrl.GetAttr(raw, path)
		if err != nil || v == nil {
			return nil, NewPermanentError(
				fmt.Sprintf("attribute '%s' (mapped path '%s') was not returned by the controller", key, path.FullPath()), err).
				WithCode(ErrCodeAttributeMapping).WithObject(t).WithDetail("key", key).WithDetail("path", path.FullPath())
		}
		if pairs := def.valueMapping[key]; len(pairs) > 0 {
			mapped, ok := mapValue(pairs, v, false)
			if !ok {
				return nil, NewPermanentError(fmt.Sprintf("'%s.%s': no controller value mapping for '%v'", t, key, v), nil).
					WithCode(ErrCodeAttributeMapping).WithObject(t).WithDetail("key", key)
			}
			v = mapped
		}
		setNested(attrs, keypath.Parse(key).Names(), v)
	}
	return attrs, nil
}

// Wrap maps a raw controller handle of type t into a Data.
func (d *Dispatcher) Wrap(t ObjectType, raw any) (*Data, error) {
	if raw == nil {
		return nil, nil
	}
	return NewSingle(t, raw, d.mapper)
}
