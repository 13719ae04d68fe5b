package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// setupTestStore creates a migrated SQLite store in a temporary directory.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "forj.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected an error without a path")
	}

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if store.cfg.MaxOpenConns != 1 {
		t.Errorf("in-memory MaxOpenConns = %d, want 1", store.cfg.MaxOpenConns)
	}
	if err := store.Migrate(context.Background()); err == nil {
		t.Error("Migrate() before Init() should fail")
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"cloud_objects", "boot_events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations again is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}

func TestCloudObjectCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	net := &CloudObject{
		ID:      "n1",
		Kind:    "network",
		Account: "dev",
		Name:    "forj",
		Attrs:   map[string]any{"external": false},
	}
	if err := store.PutObject(ctx, net); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	created := net.CreatedAt

	got, err := store.GetObject(ctx, "network", "n1")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if got.Name != "forj" || got.Attrs["external"] != false {
		t.Errorf("GetObject() = %+v", got)
	}

	net.Name = "forj-renamed"
	net.CreatedAt = created
	if err := store.PutObject(ctx, net); err != nil {
		t.Fatalf("PutObject() update error = %v", err)
	}
	got, _ = store.GetObject(ctx, "network", "n1")
	if got.Name != "forj-renamed" || !got.CreatedAt.Equal(created) {
		t.Errorf("updated object = %+v", got)
	}

	if err := store.PutObject(ctx, &CloudObject{ID: "s1", Kind: "server", Account: "dev", Name: "maestro.f1"}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutObject(ctx, &CloudObject{ID: "s2", Kind: "server", Account: "other", Name: "maestro.f1"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter ObjectFilter
		want   int
	}{
		{name: "all", filter: ObjectFilter{}, want: 3},
		{name: "by account", filter: ObjectFilter{Account: "dev"}, want: 2},
		{name: "by kind", filter: ObjectFilter{Kind: "server"}, want: 2},
		{name: "by name", filter: ObjectFilter{Kind: "server", Name: "maestro.f1", Account: "dev"}, want: 1},
		{name: "no match", filter: ObjectFilter{Kind: "router"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objs, err := store.ListObjects(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListObjects() error = %v", err)
			}
			if len(objs) != tt.want {
				t.Errorf("ListObjects() = %d objects, want %d", len(objs), tt.want)
			}
		})
	}

	deleted, err := store.DeleteObject(ctx, "network", "n1")
	if err != nil || !deleted {
		t.Fatalf("DeleteObject() = %v, %v", deleted, err)
	}
	deleted, err = store.DeleteObject(ctx, "network", "n1")
	if err != nil || deleted {
		t.Errorf("second DeleteObject() = %v, %v", deleted, err)
	}
	if _, err := store.GetObject(ctx, "network", "n1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetObject() after delete error = %v, want not found", err)
	}

	if err := store.PutObject(ctx, &CloudObject{Kind: "network"}); err == nil {
		t.Error("PutObject() without id should fail")
	}
}

func TestBootEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.LastBootEvent(ctx, "f1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LastBootEvent() on empty history error = %v", err)
	}

	transitions := [][2]string{
		{"", "checking"},
		{"checking", "starting"},
		{"starting", "assign_ip"},
		{"assign_ip", "cloud_init"},
		{"cloud_init", "active"},
	}
	for _, tr := range transitions {
		e := &BootEvent{RunID: "r1", Forge: "f1", ServerID: "s1", FromState: tr[0], ToState: tr[1]}
		if err := store.AppendBootEvent(ctx, e); err != nil {
			t.Fatalf("AppendBootEvent() error = %v", err)
		}
		if e.ID == 0 || e.Level != EventLevelInfo {
			t.Errorf("event = %+v", e)
		}
	}
	if err := store.AppendBootEvent(ctx, &BootEvent{RunID: "r2", Forge: "f2", ToState: "checking"}); err != nil {
		t.Fatal(err)
	}

	all, err := store.ListBootEvents(ctx, "f1", 0)
	if err != nil {
		t.Fatalf("ListBootEvents() error = %v", err)
	}
	if len(all) != len(transitions) {
		t.Fatalf("ListBootEvents() = %d events, want %d", len(all), len(transitions))
	}
	for i, e := range all {
		if e.ToState != transitions[i][1] {
			t.Errorf("event %d to_state = %s, want %s", i, e.ToState, transitions[i][1])
		}
	}

	recent, err := store.ListBootEvents(ctx, "f1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ToState != "cloud_init" || recent[1].ToState != "active" {
		t.Errorf("recent events = %+v", recent)
	}

	last, err := store.LastBootEvent(ctx, "f1")
	if err != nil || last.ToState != "active" {
		t.Errorf("LastBootEvent() = %+v, %v", last, err)
	}
}
