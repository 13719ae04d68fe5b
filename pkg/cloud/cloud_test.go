package cloud

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/forj-oss/forj/pkg/lorj"
)

func TestParsePort(t *testing.T) {
	tests := []struct {
		in      any
		want    PortRange
		wantErr bool
	}{
		{in: 22, want: PortRange{Min: 22, Max: 22}},
		{in: "8080", want: PortRange{Min: 8080, Max: 8080}},
		{in: "8080-8090", want: PortRange{Min: 8080, Max: 8090}},
		{in: "90-80", wantErr: true},
		{in: "70000", wantErr: true},
		{in: "http", wantErr: true},
		{in: "22-", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePort(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePort(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParsePort(%v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestToList(t *testing.T) {
	if got := toList(nil); got != nil {
		t.Errorf("toList(nil) = %v", got)
	}
	if got := toList([]int{22, 80}); len(got) != 2 {
		t.Errorf("toList([]int) len = %d", len(got))
	}
	if got := toList("22"); len(got) != 1 || got[0] != "22" {
		t.Errorf("toList(scalar) = %v", got)
	}
}

func TestDetectKeypair(t *testing.T) {
	dir := t.TempDir()
	write := func(name string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte("key\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	k := DetectKeypair("forj", filepath.Join(dir, "id"))
	if k.PrivateKeyExists || k.PublicKeyExists {
		t.Errorf("no key should be detected: %+v", k)
	}

	write("id.pem")
	write("id.pub")
	k = DetectKeypair("forj", filepath.Join(dir, "id.pub"))
	if !k.PrivateKeyExists || k.PrivateKeyName != "id.pem" {
		t.Errorf("private key = %s (exists %v), want id.pem", k.PrivateKeyName, k.PrivateKeyExists)
	}
	if !k.PublicKeyExists || k.PublicKeyFile() != filepath.Join(dir, "id.pub") {
		t.Errorf("public key = %s (exists %v)", k.PublicKeyFile(), k.PublicKeyExists)
	}
	pub, err := k.PublicKey()
	if err != nil || pub != "key" {
		t.Errorf("PublicKey() = %q, %v", pub, err)
	}
	if got := k.Attrs()["key_basename"]; got != "id" {
		t.Errorf("key_basename = %v, want id", got)
	}
}

func TestProcessDeclares(t *testing.T) {
	r := lorj.NewRegistry()
	if err := (Process{}).Declare(r); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	for _, typ := range []lorj.ObjectType{Services, Network, Router, ExternalNetwork, Rule, Server, ServerLog, InternetServer} {
		if !r.Has(typ) {
			t.Errorf("%s is not declared", typ)
		}
	}

	// The server needs every object a boot depends on.
	needs := map[string]bool{}
	for _, n := range r.Needs(Server) {
		needs[n.Key] = true
	}
	for _, key := range []string{"flavor", "network", "security_groups", "keypairs", "image", "server_name"} {
		if !needs[key] {
			t.Errorf("server does not need %s", key)
		}
	}

	// Declaring twice sets handler slots twice.
	if err := (Process{}).Declare(r); err == nil {
		t.Error("a second Declare() should fail")
	}
}
