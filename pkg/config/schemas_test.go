package config

import (
	"context"
	"testing"
)

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, name := range []string{"account", "local"} {
		t.Run(name, func(t *testing.T) {
			schema, ok := sr.GetSchema(name)
			if !ok {
				t.Fatalf("built-in schema %s not found", name)
			}
			if schema.Err() != nil {
				t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
			}
		})
	}

	if got := sr.ListSchemas(); len(got) != 2 || got[0] != "account" {
		t.Errorf("ListSchemas() = %v", got)
	}
}

func TestSchemaRegistry_ValidateAccount(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		doc     map[string]map[string]any
		wantErr bool
	}{
		{
			name: "valid",
			doc: map[string]map[string]any{
				"account":     {"name": "hpcloud", "provider": "hpcloud"},
				"credentials": {"auth_uri": "https://region-a.identity.example.com/v2.0", "tenant": "10"},
				"maestro":     {"flavor_name": "small", "image_name": "ubuntu"},
			},
		},
		{
			name:    "missing account section",
			doc:     map[string]map[string]any{"credentials": {"tenant": "10"}},
			wantErr: true,
		},
		{
			name:    "unknown provider",
			doc:     map[string]map[string]any{"account": {"name": "a", "provider": "aws"}},
			wantErr: true,
		},
		{
			name:    "invalid account name",
			doc:     map[string]map[string]any{"account": {"name": "my account", "provider": "local"}},
			wantErr: true,
		},
		{
			name: "auth uri without scheme",
			doc: map[string]map[string]any{
				"account":     {"name": "a", "provider": "openstack"},
				"credentials": {"auth_uri": "identity.example.com"},
			},
			wantErr: true,
		},
		{
			name: "unknown flavor",
			doc: map[string]map[string]any{
				"account": {"name": "a", "provider": "local"},
				"maestro": {"flavor_name": "huge"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(ctx, "account", tt.doc)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAgainstSchema() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaRegistry_ValidateLocalPorts(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	ok := map[string]map[string]any{"default": {"ports": []any{22, 8080}}}
	if err := sr.ValidateAgainstSchema(ctx, "local", ok); err != nil {
		t.Errorf("valid ports rejected: %v", err)
	}
	bad := map[string]map[string]any{"default": {"ports": []any{22, 70000}}}
	if err := sr.ValidateAgainstSchema(ctx, "local", bad); err == nil {
		t.Error("out of range port accepted")
	}
}

func TestSchemaRegistry_RegisterErrors(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("broken", "#Broken", `#Broken: {`); err == nil {
		t.Error("expected a compile error")
	}
	if err := sr.RegisterSchema("nodef", "#Missing", `#Other: {a: string}`); err == nil {
		t.Error("expected a missing definition error")
	}
	if err := sr.ValidateAgainstSchema(context.Background(), "nope", map[string]any{}); err == nil {
		t.Error("expected an unknown schema error")
	}
}
