// Package providers keeps the cloud providers forj can drive: their mapping
// manifest and the factory building their controller.
package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/forj-oss/forj/pkg/lorj"
	"github.com/forj-oss/forj/pkg/stores"
)

// Options are handed to a provider factory.
type Options struct {
	Account string
	Store   stores.Store
	Logger  zerolog.Logger
}

// Factory builds the controller of a provider.
type Factory func(ctx context.Context, opts Options) (lorj.Controller, error)

type entry struct {
	manifest *Manifest
	factory  Factory
}

// Registry maps provider names to their manifest and factory.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]entry
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]entry)}
}

// Register adds a provider.
func (r *Registry) Register(m *Manifest, f Factory) error {
	if m == nil || f == nil {
		return fmt.Errorf("provider manifest and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[m.Name]; exists {
		return fmt.Errorf("provider %s already registered", m.Name)
	}
	r.providers[m.Name] = entry{manifest: m, factory: f}
	return nil
}

// Manifest returns the manifest of a provider.
func (r *Registry) Manifest(name string) (*Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found (available: %v)", name, r.names())
	}
	return e.manifest, nil
}

// Open applies the provider mappings to reg and builds its controller.
func (r *Registry) Open(ctx context.Context, name string, reg *lorj.Registry, opts Options) (lorj.Controller, error) {
	r.mu.RLock()
	e, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %s not found (available: %v)", name, r.List())
	}
	if err := e.manifest.Apply(reg); err != nil {
		return nil, err
	}
	ctrl, err := e.factory(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", name, err)
	}
	return ctrl, nil
}

// List returns the registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
