package lorj

import (
	"context"
	"errors"
	"testing"
)

func noopCreate(_ context.Context, _ *Dispatcher, t ObjectType, _ *ObjectData) (*Data, error) {
	return NewAttrs(t, nil), nil
}

func TestDefineErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *Registry) error
	}{
		{
			name: "new type without handler",
			setup: func(r *Registry) error {
				_, err := r.Define("network", Handlers{})
				return err
			},
		},
		{
			name: "empty name",
			setup: func(r *Registry) error {
				_, err := r.Define("", Handlers{Create: noopCreate})
				return err
			},
		},
		{
			name: "handler declared twice",
			setup: func(r *Registry) error {
				if _, err := r.Define("network", Handlers{Create: noopCreate}); err != nil {
					return nil
				}
				_, err := r.Define("network", Handlers{Create: noopCreate})
				return err
			},
		},
		{
			name: "need on undeclared type",
			setup: func(r *Registry) error {
				b, err := r.Define("server", Handlers{Create: noopCreate})
				if err != nil {
					return nil
				}
				return b.NeedObject("network").Close()
			},
		},
		{
			name: "define after seal",
			setup: func(r *Registry) error {
				_ = r.Seal()
				_, err := r.Define("network", Handlers{Create: noopCreate})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.setup(NewRegistry())
			if !errors.Is(err, ErrDeclaration) {
				t.Errorf("error = %v, want declaration error", err)
			}
		})
	}
}

func TestAmendAddsHandlers(t *testing.T) {
	r := NewRegistry()
	mustClose(t, mustDefine(t, r, "network", Handlers{Create: noopCreate}))
	mustClose(t, mustDefine(t, r, "network", Handlers{Delete: func(context.Context, *Dispatcher, ObjectType, *ObjectData) (bool, error) {
		return true, nil
	}}))

	def, _ := r.lookup("network")
	if !def.handlers.has(VerbCreate) || !def.handlers.has(VerbDelete) {
		t.Error("amended type lost a handler")
	}
	if got := r.Types(); len(got) != 1 {
		t.Errorf("Types() = %v, want one entry", got)
	}
}

func TestClosedBuilderReportsOnSeal(t *testing.T) {
	r := NewRegistry()
	b := mustDefine(t, r, "network", Handlers{Create: noopCreate})
	mustClose(t, b)

	b.NeedData("network_name")
	if len(r.Needs("network")) != 0 {
		t.Error("need recorded on a closed builder")
	}
	if err := r.Seal(); !errors.Is(err, ErrDeclaration) {
		t.Errorf("Seal() error = %v, want declaration error", err)
	}
}

func TestOptionalModeIsScopedToBuilder(t *testing.T) {
	r := NewRegistry()
	mustClose(t, mustDefine(t, r, "network", Handlers{Create: noopCreate}))

	b := mustDefine(t, r, "server", Handlers{Create: noopCreate})
	b.Optional().NeedData("public_ip").Required().NeedObject("network")
	mustClose(t, b)

	b2 := mustDefine(t, r, "router", Handlers{Create: noopCreate})
	b2.NeedData("router_name")
	mustClose(t, b2)

	needs := map[string]NeedSpec{}
	for _, n := range r.Needs("server") {
		needs[n.Key] = n
	}
	if needs["public_ip"].Required {
		t.Error("public_ip should be optional")
	}
	if !needs["network"].Required {
		t.Error("network should be required")
	}
	if n := r.Needs("router"); len(n) != 1 || !n[0].Required {
		t.Errorf("optional mode leaked into another builder: %+v", n)
	}
}

func TestNeedDefaults(t *testing.T) {
	r := NewRegistry()
	mustClose(t, mustDefine(t, r, "network", Handlers{Create: noopCreate}))
	b := mustDefine(t, r, "server", Handlers{Create: noopCreate})
	b.NeedData("flavor").NeedObject("network").NeedData("server_id", For(VerbGet, VerbDelete))
	mustClose(t, b)

	for _, n := range r.Needs("server") {
		switch n.Key {
		case "flavor":
			if !n.appliesTo(VerbCreate) || n.appliesTo(VerbQuery) {
				t.Errorf("flavor For = %v, want create only", n.For)
			}
		case "network":
			for _, v := range allVerbs {
				if !n.appliesTo(v) {
					t.Errorf("network does not apply to %s", v)
				}
			}
		case "server_id":
			if n.appliesTo(VerbCreate) || !n.appliesTo(VerbDelete) {
				t.Errorf("server_id For = %v", n.For)
			}
		}
	}
}

func TestWalkBreadthFirst(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []ObjectType{"network", "keypair", "image"} {
		mustClose(t, mustDefine(t, r, typ, Handlers{Create: noopCreate}))
	}
	mustClose(t, mustDefine(t, r, "subnet", Handlers{Create: noopCreate}).NeedObject("network"))
	mustClose(t, mustDefine(t, r, "server", Handlers{Create: noopCreate}).
		NeedObject("subnet").NeedObject("keypair").NeedObject("image"))

	got := r.Walk("server")
	want := []ObjectType{"server", "subnet", "keypair", "image", "network"}
	if len(got) != len(want) {
		t.Fatalf("Walk() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Walk()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if r.Walk("nope") != nil {
		t.Error("Walk() of an unknown type should be nil")
	}
}

func TestDefineDataMerges(t *testing.T) {
	r := NewRegistry()
	if err := r.DefineData("keypair_name", DataMeta{Section: "credentials", Desc: "Keypair"}); err != nil {
		t.Fatal(err)
	}
	if err := r.DefineData("keypair_name", DataMeta{Account: true, DependsOn: []string{"keypair_path"}}); err != nil {
		t.Fatal(err)
	}

	m, ok := r.Meta("keypair_name")
	if !ok {
		t.Fatal("Meta() not found")
	}
	if m.Section != "credentials" || m.Desc != "Keypair" || !m.Account || len(m.DependsOn) != 1 {
		t.Errorf("merged meta = %+v", m)
	}
	if m.SectionKey() != "credentials#keypair_name" {
		t.Errorf("SectionKey() = %s", m.SectionKey())
	}
}

func TestNewSealsRegistry(t *testing.T) {
	r := NewRegistry()
	mustClose(t, mustDefine(t, r, "network", Handlers{Create: noopCreate}))
	newTestDispatcher(t, r, nil, nil)

	if !r.Sealed() {
		t.Error("registry not sealed by New()")
	}
	if _, err := r.Define("server", Handlers{Create: noopCreate}); !errors.Is(err, ErrDeclaration) {
		t.Errorf("Define() after New() error = %v", err)
	}
}

func TestStubAndUndefineAttribute(t *testing.T) {
	r := NewRegistry()
	b, err := r.Stub("port")
	if err != nil {
		t.Fatalf("Stub() error = %v", err)
	}
	mustClose(t, b.UndefineAttribute("name").Attribute("device_id"))

	def, ok := r.lookup("port")
	if !ok {
		t.Fatal("stub not declared")
	}
	if !def.handlers.empty() {
		t.Error("stub has handlers")
	}
	want := []string{"id", "device_id"}
	if len(def.returnKeys) != len(want) {
		t.Fatalf("returnKeys = %v, want %v", def.returnKeys, want)
	}
	for i := range want {
		if def.returnKeys[i] != want[i] {
			t.Errorf("returnKeys[%d] = %s, want %s", i, def.returnKeys[i], want[i])
		}
	}
	if _, ok := def.queryMapping["name"]; ok {
		t.Error("name still in the query mapping")
	}

	// A stub can be needed, then amended with handlers.
	mustClose(t, mustDefine(t, r, "router", Handlers{Create: noopCreate}).NeedObject("port"))
	mustClose(t, mustDefine(t, r, "port", Handlers{Create: noopCreate}))
}
