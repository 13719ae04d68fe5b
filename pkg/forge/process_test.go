package forge

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/forj-oss/forj/pkg/cloud"
	"github.com/forj-oss/forj/pkg/config"
	"github.com/forj-oss/forj/pkg/lorj"
	"github.com/forj-oss/forj/pkg/policy"
	"github.com/forj-oss/forj/pkg/providers/local"
	"github.com/forj-oss/forj/pkg/stores"
)

type forgeEnv struct {
	d      *lorj.Dispatcher
	cfg    *config.Store
	store  stores.Store
	box    *fakeBox
	stdout *bytes.Buffer
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// setupForge wires the cloud and forge processes over the local provider.
// The maestro repository is a local directory and boxes are faked.
func setupForge(t *testing.T, lopts local.Options, popts Options) *forgeEnv {
	t.Helper()
	ctx := context.Background()

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(t.TempDir(), "forj.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg, err := config.Open(config.Options{Dir: t.TempDir(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("config.Open() error = %v", err)
	}
	if err := cfg.NewAccount("test", local.Name); err != nil {
		t.Fatalf("NewAccount() error = %v", err)
	}
	if err := cfg.SetAccount("account_id", "me"); err != nil {
		t.Fatalf("SetAccount() error = %v", err)
	}

	keyPath := filepath.Join(t.TempDir(), "forj-id_rsa")
	if _, _, err := GenerateKeypair(keyPath, "forj@test"); err != nil {
		t.Fatal(err)
	}
	maestro := t.TempDir()
	writeFile(t, filepath.Join(maestro, boothookPath), "#!/bin/bash\necho hook\n")
	writeFile(t, filepath.Join(maestro, "templates", "infra", "cloud-init", "maestro", "10-boot.sh"), "echo boot\n")
	cert := filepath.Join(t.TempDir(), "ca.crt")
	writeFile(t, cert, "CERT")

	for k, v := range map[string]any{
		"keypair_path": keyPath,
		"compute":      "region-a",
		"maestro_repo": maestro,
		"infra_repo":   filepath.Join(t.TempDir(), "infra"),
		"ca_root_cert": cert + "#/usr/local/share/ca-certificates/forj.crt",
	} {
		cfg.Set(k, v)
	}

	lopts.Store = store
	lopts.Account = "test"
	lopts.Logger = zerolog.Nop()
	if lopts.BootPolls == 0 {
		lopts.BootPolls = 2
	}
	ctrl, err := local.New(lopts)
	if err != nil {
		t.Fatalf("local.New() error = %v", err)
	}

	box := newFakeBox()
	stdout := &bytes.Buffer{}
	popts.DataDir = t.TempDir()
	if popts.Run == nil {
		popts.Run = (&recordRunner{}).run
	}
	popts.Dial = box.dial
	popts.Logger = zerolog.Nop()
	popts.Boot.Sleep = noSleep
	popts.Boot.Store = store
	popts.Stdin = strings.NewReader("uptime\n")
	popts.Stdout = stdout

	reg := lorj.NewRegistry()
	if err := (cloud.Process{}).Declare(reg); err != nil {
		t.Fatalf("cloud Declare() error = %v", err)
	}
	if err := local.Manifest().Apply(reg); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := NewProcess(popts).Declare(reg); err != nil {
		t.Fatalf("forge Declare() error = %v", err)
	}
	d, err := lorj.New(reg, cfg, ctrl)
	if err != nil {
		t.Fatalf("lorj.New() error = %v", err)
	}
	return &forgeEnv{d: d, cfg: cfg, store: store, box: box, stdout: stdout}
}

func countServers(t *testing.T, store stores.Store) int {
	t.Helper()
	servers, err := store.ListObjects(context.Background(), stores.ObjectFilter{Account: "test", Kind: "server"})
	if err != nil {
		t.Fatal(err)
	}
	return len(servers)
}

// waitingLog prints a ca root and a lorj request, each on the line the
// watchers read when five lines are shown.
var waitingLog = []string{
	"Cloud-init v. 0.7.5 running 'init'.",
	"forj-cli: ca-root-cert=/tmp/forj.crt",
	"waiting 1", "waiting 2", "waiting 3",
	"forj-cli: lorj_tmp_file=/tmp/lorj.data lorj_tmp_key=/tmp/lorj.key flag_file=/tmp/lorj.flag",
	"waiting 4", "waiting 5", "waiting 6",
	"cloud-init boot finished",
}

func TestForgeLifecycle(t *testing.T) {
	ctx := context.Background()
	env := setupForge(t, local.Options{
		Scenarios: map[string][]local.Scenario{"maestro.forge1": {{Log: waitingLog}}},
	}, Options{})

	forge, err := Boot(ctx, env.d, "forge1")
	if err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if got := forge.GetString("status"); got != string(StatusActive) {
		t.Errorf("status = %s, want active", got)
	}
	if len(env.box.dials) == 0 {
		t.Fatal("the watchers never reached the box")
	}
	ip := env.box.dials[0].Host
	if !strings.HasPrefix(ip, "15.126.0.") {
		t.Errorf("box reached at %q, want the maestro public address", ip)
	}

	t.Run("boot data reached the server", func(t *testing.T) {
		v, _ := env.d.Config().Get("meta_data")
		meta, _ := v.(map[string]string)
		if meta["erosite"] != "maestro.forge1" || meta["lorj_enabled"] != "true" {
			t.Errorf("meta_data = %v", meta)
		}
		if meta["CA_ROOT_CERT"] != "/usr/local/share/ca-certificates/forj.crt" {
			t.Errorf("CA_ROOT_CERT = %q", meta["CA_ROOT_CERT"])
		}
		userData := env.d.Config().(*config.Store).GetString("user_data")
		if !strings.Contains(userData, "echo hook") || !strings.Contains(userData, "echo boot") {
			t.Errorf("user_data misses the boot parts:\n%s", userData)
		}
	})

	t.Run("watchers served the box", func(t *testing.T) {
		if string(env.box.files["/tmp/forj.crt"]) != "CERT" {
			t.Errorf("certificate = %q", env.box.files["/tmp/forj.crt"])
		}
		if env.box.files["/tmp/lorj.data"] == nil || env.box.modes["/tmp/lorj.key"] != 0o600 {
			t.Errorf("lorj files = %v", env.box.modes)
		}
		touched := strings.Join(env.box.touched, ",")
		if touched != "/tmp/forj.crt.done,/tmp/lorj.flag" {
			t.Errorf("touched = %s", touched)
		}
		if env.box.dials[0].User != "ubuntu" {
			t.Errorf("box reached as %q, want ubuntu", env.box.dials[0].User)
		}
	})

	t.Run("boot history is recorded", func(t *testing.T) {
		events, err := env.store.ListBootEvents(ctx, "forge1", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) < 2 || events[len(events)-1].ToState != string(StatusActive) {
			t.Errorf("events = %d, last should reach active", len(events))
		}
	})

	t.Run("boot again follows the existing forge", func(t *testing.T) {
		again, err := Boot(ctx, env.d, "forge1")
		if err != nil {
			t.Fatalf("Boot() error = %v", err)
		}
		if polls, _ := again.Get("polls"); polls != 0 {
			t.Errorf("polls = %v, want 0 for a built forge", polls)
		}
		if n := countServers(t, env.store); n != 1 {
			t.Errorf("%d servers, want 1", n)
		}
	})

	t.Run("get", func(t *testing.T) {
		got, err := Get(ctx, env.d, "forge1")
		if err != nil || got == nil {
			t.Fatalf("Get() = %v, %v", got, err)
		}
		if got.GetString("servers", MaestroType, "name") != "maestro.forge1" {
			t.Errorf("servers = %v", got.Attrs()["servers"])
		}
		missing, err := Get(ctx, env.d, "other")
		if err != nil || missing != nil {
			t.Errorf("Get(other) = %v, %v, want nil", missing, err)
		}
	})

	t.Run("ssh", func(t *testing.T) {
		session, err := OpenSSH(ctx, env.d, "forge1", "")
		if err != nil {
			t.Fatalf("OpenSSH() error = %v", err)
		}
		if session.GetString("host") != ip || session.GetString("user") != "ubuntu" {
			t.Errorf("session = %v", session.Attrs())
		}
		if env.box.shells != 1 || env.stdout.String() != "uptime\n" {
			t.Errorf("shells = %d, stdout = %q", env.box.shells, env.stdout.String())
		}
		if _, err := OpenSSH(ctx, env.d, "forge1", "review"); !lorj.HasCode(err, lorj.ErrCodeNotFound) {
			t.Errorf("OpenSSH(review) error = %v, want not found", err)
		}
		env.d.Config().Set("box", nil)
	})

	t.Run("destroy", func(t *testing.T) {
		if _, err := Destroy(ctx, env.d, "forge1", "unknown-id"); !lorj.HasCode(err, lorj.ErrCodeNotFound) {
			t.Errorf("Destroy(unknown-id) error = %v, want not found", err)
		}
		env.d.Config().Set("forge_server", nil)

		deleted, err := Destroy(ctx, env.d, "forge1", "")
		if err != nil || !deleted {
			t.Fatalf("Destroy() = %v, %v", deleted, err)
		}
		if n := countServers(t, env.store); n != 0 {
			t.Errorf("%d servers left", n)
		}
		if _, err := Destroy(ctx, env.d, "forge1", ""); !lorj.HasCode(err, lorj.ErrCodeNotFound) {
			t.Errorf("Destroy() of a removed forge error = %v, want not found", err)
		}
	})
}

func TestForgeBootRebuildsFailedServer(t *testing.T) {
	env := setupForge(t, local.Options{
		Scenarios: map[string][]local.Scenario{"maestro.forge2": {{Error: true}, {}}},
	}, Options{})

	forge, err := Boot(context.Background(), env.d, "forge2")
	if err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if rebuilt, _ := forge.Get("rebuilt"); rebuilt != true {
		t.Error("rebuilt = false, want the failed server replaced")
	}
	if n := countServers(t, env.store); n != 1 {
		t.Errorf("%d servers, want 1", n)
	}
}

func TestForgeBootPolicyGate(t *testing.T) {
	engine, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	env := setupForge(t, local.Options{}, Options{Policy: engine})

	_, err = Boot(context.Background(), env.d, "Bad_Name")
	if err == nil {
		t.Fatal("Boot() of an invalid forge name should fail")
	}
	if !lorj.HasCode(err, lorj.ErrCodeValidation) || !strings.Contains(err.Error(), "refused") {
		t.Errorf("error = %v, want a validation refusal", err)
	}
	if n := countServers(t, env.store); n != 0 {
		t.Errorf("%d servers created by a refused boot", n)
	}

	t.Run("input", func(t *testing.T) {
		env.d.Config().Set("allowed_flavors", []any{"small", "medium"})
		input := BootInput(env.d, "forge3")
		if input.Account != "test" || input.Provider != local.Name || input.Flavor != "small" {
			t.Errorf("input = %+v", input)
		}
		if len(input.Ports) == 0 || input.Ports[0] != "22" {
			t.Errorf("ports = %v", input.Ports)
		}
		if len(input.AllowedFlavors) != 2 {
			t.Errorf("allowed flavors = %v", input.AllowedFlavors)
		}
	})
}

func TestForgeBootWithoutMaestroRepository(t *testing.T) {
	runner := &recordRunner{fail: errors.New("network unreachable")}
	env := setupForge(t, local.Options{}, Options{Run: runner.run})
	env.d.Config().Set("maestro_repo", nil)

	_, err := Boot(context.Background(), env.d, "forge4")
	if err == nil || !strings.Contains(err.Error(), "maestro repository doesn't exist") {
		t.Fatalf("Boot() error = %v, want a missing repository", err)
	}
	if n := countServers(t, env.store); n != 0 {
		t.Errorf("%d servers created", n)
	}
	if len(runner.calls) != 1 || !strings.Contains(runner.calls[0], "git clone") {
		t.Errorf("calls = %q, want one clone", runner.calls)
	}
}
