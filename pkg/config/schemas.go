package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages the CUE schemas configuration documents are
// validated against.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry holding the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	// Built-in sources are constants; a failure here is a programming error.
	if err := sr.RegisterSchema("account", "#Account", builtinAccountSchema); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema("local", "#Local", builtinLocalSchema); err != nil {
		panic(err)
	}
}

// RegisterSchema compiles schema and keeps its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data any) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns the registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinAccountSchema = `
// Account file: values grouped by section.
#Account: {
	account: {
		name:     string & =~"^[a-zA-Z0-9_.-]+$"
		provider: "local" | "hpcloud" | "openstack"
		...
	}
	credentials?: {
		auth_uri?:    string & =~"^https?://"
		account_id?:  string
		account_key?: string
		tenant?:      string
		...
	}
	maestro?: {
		flavor_name?: "tiny" | "xsmall" | "small" | "medium" | "large" | "xlarge"
		bp_flavor?:   "tiny" | "xsmall" | "small" | "medium" | "large" | "xlarge"
		...
	}
	[string]: {[string]: _}
}
`

const builtinLocalSchema = `
// Local configuration file.
#Local: {
	default?: {
		ports?: [...(int & >0 & <65536)]
		...
	}
	[string]: {[string]: _}
}
`
