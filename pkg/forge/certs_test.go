package forge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/forj-oss/forj/pkg/providers/local"
)

const caRootLog = "boot\nforj-cli: ca-root-cert=/tmp/forj.crt\na\nb\nc\n"

const lorjLog = "boot\nforj-cli: lorj_tmp_file=/tmp/d lorj_tmp_key=/tmp/k flag_file=/tmp/f\na\nb\nc\n"

func TestCARootRemote(t *testing.T) {
	tests := []struct {
		spec, remote string
	}{
		{spec: "/etc/ssl/ca.crt#/usr/local/share/ca-certificates/forj.crt", remote: "/tmp/forj.crt"},
		{spec: "/etc/ssl/ca.crt", remote: "ca.crt"},
	}
	for _, tt := range tests {
		local, remote := caRootRemote(tt.spec)
		if local != "/etc/ssl/ca.crt" || remote != tt.remote {
			t.Errorf("caRootRemote(%q) = %q, %q, want /etc/ssl/ca.crt, %q", tt.spec, local, remote, tt.remote)
		}
	}
}

func TestCARootWatcher(t *testing.T) {
	server := &Server{Name: "maestro.forge1", PublicIP: "15.126.0.10"}
	ctx := context.Background()

	t.Run("uploads once", func(t *testing.T) {
		env := setupForge(t, local.Options{}, Options{})
		watch := caRootWatcher(env.d, &boxAccess{dial: env.box.dial, user: "ubuntu", keyFile: "/k"})

		watch(ctx, server, "boot\n")
		if len(env.box.dials) != 0 {
			t.Fatal("dialed a box not waiting for the certificate")
		}
		watch(ctx, server, caRootLog)
		watch(ctx, server, caRootLog)
		if len(env.box.dials) != 1 {
			t.Errorf("%d dials, want 1", len(env.box.dials))
		}
		if string(env.box.files["/tmp/forj.crt"]) != "CERT" || env.box.modes["/tmp/forj.crt"] != 0o644 {
			t.Errorf("certificate = %q", env.box.files["/tmp/forj.crt"])
		}
		if len(env.box.touched) != 1 || env.box.touched[0] != "/tmp/forj.crt.done" {
			t.Errorf("touched = %v", env.box.touched)
		}
		if env.d.Config().Exist("cert_error") {
			t.Error("cert_error set on success")
		}
	})

	for _, op := range []string{"upload", "touch"} {
		t.Run(op+" failure stops the pushes", func(t *testing.T) {
			env := setupForge(t, local.Options{}, Options{})
			env.box.failOn = op
			watch := caRootWatcher(env.d, &boxAccess{dial: env.box.dial, user: "ubuntu"})

			watch(ctx, server, caRootLog)
			watch(ctx, server, caRootLog)
			if len(env.box.dials) != 1 {
				t.Errorf("%d dials, want 1", len(env.box.dials))
			}
			if !env.d.Config().Exist("cert_error") {
				t.Error("cert_error not set")
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		env := setupForge(t, local.Options{}, Options{})
		env.d.Config().Set("ca_root_cert", filepath.Join(t.TempDir(), "none.crt"))
		watch := caRootWatcher(env.d, &boxAccess{dial: env.box.dial})

		watch(ctx, server, "boot\nforj-cli: ca-root-cert=/tmp/none.crt\na\nb\nc\n")
		if len(env.box.dials) != 0 || !env.d.Config().Exist("cert_error") {
			t.Errorf("dials = %d, cert_error = %v", len(env.box.dials), env.d.Config().Exist("cert_error"))
		}
	})
}

func TestLorjWatcher(t *testing.T) {
	server := &Server{Name: "maestro.forge1", PublicIP: "15.126.0.10"}
	ctx := context.Background()
	account := map[string]any{"enabled": true, "data": "sealed", "key": "secret"}

	tests := []struct {
		name     string
		attrs    map[string]any
		coherent bool
		failOn   string
		dials    int
		flagged  bool
	}{
		{name: "sent", attrs: account, coherent: true, dials: 1, flagged: true},
		{name: "incoherent keypair", attrs: account, coherent: false, dials: 0},
		{name: "copy failure", attrs: account, coherent: true, failOn: "write", dials: 1},
		{name: "disabled", attrs: map[string]any{"enabled": false}, coherent: true, dials: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupForge(t, local.Options{}, Options{})
			env.box.failOn = tt.failOn
			env.d.RegisterAttrs(LorjAccount, tt.attrs)
			watch := lorjWatcher(env.d, &boxAccess{dial: env.box.dial, user: "ubuntu"}, tt.coherent)

			watch(ctx, server, lorjLog)
			watch(ctx, server, lorjLog)
			if len(env.box.dials) != tt.dials {
				t.Errorf("%d dials, want %d", len(env.box.dials), tt.dials)
			}
			flagged := len(env.box.touched) == 1 && env.box.touched[0] == "/tmp/f"
			if flagged != tt.flagged {
				t.Errorf("touched = %v", env.box.touched)
			}
			if tt.flagged && string(env.box.files["/tmp/d"]) != "sealed\n" {
				t.Errorf("data = %q", env.box.files["/tmp/d"])
			}
		})
	}
}
