package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func validBoot() *BootInput {
	return &BootInput{
		Account:       "test",
		Provider:      "local",
		Forge:         "myforge",
		Image:         "Ubuntu",
		Flavor:        "small",
		Network:       "forj",
		SecurityGroup: "default",
		Ports:         []string{"22", "8080-8081"},
		Blueprint:     "redstone",
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
	}
	want := []string{"flavor-allowlist", "forge-naming", "ssh-port"}
	if len(names) != len(want) {
		t.Fatalf("ListPolicies() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("ListPolicies()[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestEvaluateBoot_ForgeNaming(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name          string
		forge         string
		expectAllowed bool
	}{
		{name: "valid name", forge: "myforge", expectAllowed: true},
		{name: "with hyphen", forge: "my-forge-1", expectAllowed: true},
		{name: "empty", forge: "", expectAllowed: false},
		{name: "uppercase", forge: "MyForge", expectAllowed: false},
		{name: "underscore", forge: "my_forge", expectAllowed: false},
		{name: "trailing hyphen", forge: "forge-", expectAllowed: false},
		{name: "too long", forge: "a123456789012345678901234567890123456789z", expectAllowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validBoot()
			in.Forge = tt.forge
			result, err := eng.EvaluateBoot(context.Background(), in)
			if err != nil {
				t.Fatalf("EvaluateBoot() error = %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("Allowed = %v, want %v (violations %+v)", result.Allowed, tt.expectAllowed, result.Violations)
			}
			if !tt.expectAllowed && result.Violations[0].Policy != "forge-naming" {
				t.Errorf("violation policy = %s, want forge-naming", result.Violations[0].Policy)
			}
		})
	}
}

func TestEvaluateBoot_FlavorAllowlist(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name          string
		flavor        string
		bpFlavor      string
		allowed       []string
		expectAllowed bool
	}{
		{name: "no allow-list", flavor: "huge", expectAllowed: true},
		{name: "allowed", flavor: "small", bpFlavor: "medium", allowed: []string{"small", "medium"}, expectAllowed: true},
		{name: "maestro flavor refused", flavor: "huge", allowed: []string{"small"}, expectAllowed: false},
		{name: "blueprint flavor refused", flavor: "small", bpFlavor: "xlarge", allowed: []string{"small"}, expectAllowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validBoot()
			in.Flavor = tt.flavor
			in.BlueprintFlavor = tt.bpFlavor
			in.AllowedFlavors = tt.allowed
			result, err := eng.EvaluateBoot(context.Background(), in)
			if err != nil {
				t.Fatalf("EvaluateBoot() error = %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("Allowed = %v, want %v (violations %+v)", result.Allowed, tt.expectAllowed, result.Violations)
			}
		})
	}
}

func TestEvaluateBoot_SSHPortIsAWarning(t *testing.T) {
	eng := newTestEngine(t)

	in := validBoot()
	in.Ports = []string{"8080"}
	result, err := eng.EvaluateBoot(context.Background(), in)
	if err != nil {
		t.Fatalf("EvaluateBoot() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("a missing ssh port should not block the boot: %+v", result.Violations)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Policy != "ssh-port" {
		t.Errorf("Warnings = %+v, want one ssh-port warning", result.Warnings)
	}
}

func TestEvaluateBoot_NilInput(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.EvaluateBoot(context.Background(), nil); err == nil {
		t.Error("EvaluateBoot(nil) should fail")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	in := validBoot()
	in.Forge = "Bad_Name"

	if err := eng.DisablePolicy("forge-naming"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	result, err := eng.EvaluateBoot(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy still blocks: %+v", result.Violations)
	}
	for _, name := range result.EvaluatedPolicies {
		if name == "forge-naming" {
			t.Error("disabled policy was evaluated")
		}
	}

	if err := eng.EnablePolicy("forge-naming"); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	result, err = eng.EvaluateBoot(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("enabled policy should block")
	}

	if err := eng.EnablePolicy("unknown"); err == nil {
		t.Error("EnablePolicy(unknown) should fail")
	}
}

func TestLoadCustomPolicy(t *testing.T) {
	eng := newTestEngine(t)

	custom := Policy{
		Name:     "region",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package forj.custom.region

import rego.v1

deny contains "only region-a is allowed" if {
	input.compute != "region-a"
}`,
	}
	if err := eng.Load(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	in := validBoot()
	in.Compute = "region-b"
	result, err := eng.EvaluateBoot(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Fatal("custom policy should block")
	}
	v := result.Violations[0]
	if v.Policy != "region" || v.Message != "only region-a is allowed" || v.Severity != SeverityError {
		t.Errorf("violation = %+v", v)
	}

	// Reload keeps the built-ins and drops the custom policy.
	if err := eng.Reload(context.Background(), nil); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if _, err := eng.GetPolicy("region"); err == nil {
		t.Error("region policy survived the reload")
	}
	if _, err := eng.GetPolicy("forge-naming"); err != nil {
		t.Errorf("built-in policy lost on reload: %v", err)
	}
}

func TestLoadInvalidPolicy(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name string
		rego string
	}{
		{name: "syntax error", rego: "package broken\n\ndeny contains if {"},
		{name: "no package", rego: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.Load(context.Background(), []Policy{{Name: "broken", Rego: tt.rego, Enabled: true}})
			if err == nil {
				t.Error("Load() should fail")
			}
		})
	}
}

func TestExtractPackageName(t *testing.T) {
	tests := []struct {
		module string
		want   string
	}{
		{module: "package forj.policies.naming\n", want: "forj.policies.naming"},
		{module: "# comment\n  package a.b\nimport rego.v1", want: "a.b"},
		{module: "deny := true", want: ""},
	}
	for _, tt := range tests {
		if got := extractPackageName(tt.module); got != tt.want {
			t.Errorf("extractPackageName(%q) = %q, want %q", tt.module, got, tt.want)
		}
	}
}
