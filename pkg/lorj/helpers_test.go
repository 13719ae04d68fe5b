package lorj

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/forj-oss/forj/pkg/keypath"
)

// memConfig is an in-memory Config with a runtime and an account layer.
type memConfig struct {
	mu      sync.Mutex
	runtime map[string]any
	account map[string]any
	saved   []string
}

func newMemConfig() *memConfig {
	return &memConfig{runtime: map[string]any{}, account: map[string]any{}}
}

func (c *memConfig) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.runtime[key]; ok {
		return v, true
	}
	v, ok := c.account[key]
	return v, ok
}

func (c *memConfig) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runtime[key] = value
}

func (c *memConfig) Exist(key string) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *memConfig) Where(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	if _, ok := c.runtime[key]; ok {
		out = append(out, "runtime")
	}
	if _, ok := c.account[key]; ok {
		out = append(out, "account")
	}
	return out
}

func (c *memConfig) SetAccount(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account[key] = value
	c.saved = append(c.saved, key)
	return nil
}

// mapController stores raw objects as maps and reads attributes by path.
type mapController struct {
	UnimplementedController

	mu      sync.Mutex
	created []ObjectType
	params  map[ObjectType]*ObjectData
	create  func(t ObjectType, p *ObjectData) (any, error)
	query   func(t ObjectType, q Query) ([]any, error)
}

func newMapController() *mapController {
	return &mapController{params: map[ObjectType]*ObjectData{}}
}

func (c *mapController) Create(_ context.Context, t ObjectType, p *ObjectData) (any, error) {
	c.mu.Lock()
	c.created = append(c.created, t)
	c.params[t] = p
	c.mu.Unlock()
	if c.create != nil {
		return c.create(t, p)
	}
	return map[string]any{"id": string(t) + "-1", "name": string(t)}, nil
}

func (c *mapController) Query(_ context.Context, t ObjectType, q Query, _ *ObjectData) ([]any, error) {
	if c.query != nil {
		return c.query(t, q)
	}
	return nil, nil
}

func (c *mapController) GetAttr(raw any, path keypath.KeyPath) (any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected raw %T", raw)
	}
	names := path.Names()
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	v, _ := lookup(m, args)
	return v, nil
}

// recorder records handler invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) count(s string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == s {
			n++
		}
	}
	return n
}

func recordingCreate(r *recorder) CreateFunc {
	return func(_ context.Context, _ *Dispatcher, t ObjectType, _ *ObjectData) (*Data, error) {
		r.add("create " + string(t))
		return NewAttrs(t, map[string]any{"id": string(t) + "-1", "name": string(t)}), nil
	}
}

func mustDefine(t *testing.T, r *Registry, typ ObjectType, h Handlers) *TypeBuilder {
	t.Helper()
	b, err := r.Define(typ, h)
	if err != nil {
		t.Fatalf("Define(%s) error = %v", typ, err)
	}
	return b
}

func mustClose(t *testing.T, b *TypeBuilder) {
	t.Helper()
	if err := b.Close(); err != nil {
		t.Fatalf("Close(%s) error = %v", b.Type(), err)
	}
}

func newTestDispatcher(t *testing.T, r *Registry, cfg Config, ctrl Controller, opts ...Option) *Dispatcher {
	t.Helper()
	if cfg == nil {
		cfg = newMemConfig()
	}
	d, err := New(r, cfg, ctrl, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
