package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const regionRego = `# Only region-a may host a forge.
# severity: critical
package forj.custom.region

import rego.v1

deny contains "only region-a is allowed" if {
	input.compute != "region-a"
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "region.rego")
	writeFile(t, path, regionRego)

	p, err := loader.loadFromFile(path)
	if err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}
	if p.Name != "region" {
		t.Errorf("Name = %q, want region", p.Name)
	}
	if p.Description != "Only region-a may host a forge." {
		t.Errorf("Description = %q", p.Description)
	}
	if p.Severity != SeverityCritical {
		t.Errorf("Severity = %q, want critical", p.Severity)
	}
	if !p.Enabled || p.Source != path {
		t.Errorf("Enabled = %v, Source = %q", p.Enabled, p.Source)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	writeFile(t, good, `{"name": "json-policy", "rego": "package j\n", "enabled": true}`)
	p, err := loader.loadFromFile(good)
	if err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}
	if p.Name != "json-policy" || p.Severity != SeverityWarning {
		t.Errorf("policy = %+v", p)
	}

	tests := map[string]string{
		"invalid.json": "{not json",
		"noname.json":  `{"rego": "package j\n"}`,
		"policy.txt":   "package j",
	}
	for name, content := range tests {
		path := filepath.Join(dir, name)
		writeFile(t, path, content)
		if _, err := loader.loadFromFile(path); err == nil {
			t.Errorf("loadFromFile(%s) should fail", name)
		}
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "region.rego"), regionRego)
	writeFile(t, filepath.Join(dir, "nested", "other.rego"), "package other\n")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")
	writeFile(t, filepath.Join(dir, "README.md"), "# policies")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir, filepath.Join(dir, "missing")})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("loaded %d policies, want 2: %+v", len(policies), policies)
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "region.rego")
	writeFile(t, path, regionRego)

	if _, err := loader.loadFromFile(path); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "# severity: info\npackage forj.custom.region\n")

	p, _ := loader.loadFromFile(path)
	if p.Severity != SeverityCritical {
		t.Errorf("cached policy not used, severity = %s", p.Severity)
	}

	loader.ClearCache()
	p, err := loader.loadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Severity != SeverityInfo {
		t.Errorf("Severity after ClearCache = %s, want info", p.Severity)
	}
}

func TestWatchPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader, err := eng.WatchPolicies(ctx, []string{dir})
	if err != nil {
		t.Fatalf("WatchPolicies() error = %v", err)
	}
	defer loader.StopWatching()

	writeFile(t, filepath.Join(dir, "region.rego"), regionRego)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := eng.GetPolicy("region"); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("region policy was not loaded by the watcher")
}
