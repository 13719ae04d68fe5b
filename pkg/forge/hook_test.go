package forge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMetadataHook_Apply(t *testing.T) {
	base := map[string]string{"gitbranch": "master", "flavor_name": "medium"}

	tests := []struct {
		name    string
		script  string
		want    map[string]string
		wantErr string
	}{
		{
			name: "add and override",
			script: `
def metadata(forge, meta):
    meta["site"] = "maestro." + forge
    meta["gitbranch"] = "stable"
    return meta
`,
			want: map[string]string{"gitbranch": "stable", "flavor_name": "medium", "site": "maestro.demo"},
		},
		{
			name: "non string values are formatted",
			script: `
def metadata(forge, meta):
    return {"count": 3, "debug": True, "dropped": None}
`,
			want: map[string]string{"count": "3", "debug": "true"},
		},
		{
			name: "loops over the metadata",
			script: `
def metadata(forge, meta):
    out = {}
    for k in sorted(meta.keys()):
        out["x_" + k] = meta[k].upper()
    return out
`,
			want: map[string]string{"x_gitbranch": "MASTER", "x_flavor_name": "MEDIUM"},
		},
		{
			name:    "missing function",
			script:  `x = 1`,
			wantErr: "does not define",
		},
		{
			name: "not a dict",
			script: `
def metadata(forge, meta):
    return [1]
`,
			wantErr: "must return a dict",
		},
		{
			name:    "syntax error",
			script:  `def metadata(forge meta):`,
			wantErr: "starlark execution failed",
		},
		{
			name: "runtime error",
			script: `
def metadata(forge, meta):
    return meta["unknown"]
`,
			wantErr: "starlark execution failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := NewMetadataHook("hook.star", tt.script, time.Second)
			got, err := hook.Apply(context.Background(), "demo", base)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Apply() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Apply() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("Apply()[%s] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestMetadataHook_DoesNotChangeInput(t *testing.T) {
	base := map[string]string{"a": "1"}
	hook := NewMetadataHook("hook.star", `
def metadata(forge, meta):
    meta["a"] = "2"
    return meta
`, time.Second)
	if _, err := hook.Apply(context.Background(), "demo", base); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if base["a"] != "1" {
		t.Errorf("input metadata changed: %v", base)
	}
}

func TestMetadataHook_Timeout(t *testing.T) {
	hook := NewMetadataHook("hook.star", `
def metadata(forge, meta):
    n = 0
    for i in range(100000000):
        n += i
    return meta
`, 50*time.Millisecond)

	start := time.Now()
	_, err := hook.Apply(context.Background(), "demo", map[string]string{})
	if err == nil {
		t.Fatal("Apply() expected a cancellation error")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Apply() took %v, expected the timeout to stop it", time.Since(start))
	}
}

func TestLoadMetadataHook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.star")
	if err := os.WriteFile(path, []byte("def metadata(forge, meta):\n    return meta\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	hook, err := LoadMetadataHook(path, 0)
	if err != nil {
		t.Fatalf("LoadMetadataHook() error = %v", err)
	}
	got, err := hook.Apply(context.Background(), "demo", map[string]string{"k": "v"})
	if err != nil || got["k"] != "v" {
		t.Fatalf("Apply() = %v, %v", got, err)
	}

	if _, err := LoadMetadataHook(filepath.Join(t.TempDir(), "missing.star"), 0); err == nil {
		t.Error("LoadMetadataHook() expected an error for a missing file")
	}
}
