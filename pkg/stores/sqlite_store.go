package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	// Every connection to ":memory:" opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is usable
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// PutObject inserts or replaces a cloud object. CreatedAt is kept on update.
func (s *SQLiteStore) PutObject(ctx context.Context, obj *CloudObject) error {
	if obj.ID == "" || obj.Kind == "" {
		return fmt.Errorf("cloud object requires an id and a kind")
	}
	attrs, err := json.Marshal(obj.Attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}

	now := time.Now()
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = now
	}
	obj.UpdatedAt = now

	query := `
		INSERT INTO cloud_objects (id, kind, account, name, attrs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			account = excluded.account,
			name = excluded.name,
			attrs = excluded.attrs,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		obj.ID,
		obj.Kind,
		obj.Account,
		obj.Name,
		string(attrs),
		obj.CreatedAt.UnixNano(),
		obj.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store %s %s: %w", obj.Kind, obj.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (*CloudObject, error) {
	obj := &CloudObject{}
	var attrs string
	var created, updated int64
	if err := row.Scan(&obj.ID, &obj.Kind, &obj.Account, &obj.Name, &attrs, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrs), &obj.Attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes of %s %s: %w", obj.Kind, obj.ID, err)
	}
	obj.CreatedAt = time.Unix(0, created)
	obj.UpdatedAt = time.Unix(0, updated)
	return obj, nil
}

// GetObject retrieves a cloud object. A missing object yields ErrNotFound.
func (s *SQLiteStore) GetObject(ctx context.Context, kind, id string) (*CloudObject, error) {
	query := `
		SELECT id, kind, account, name, attrs, created_at, updated_at
		FROM cloud_objects
		WHERE kind = ? AND id = ?
	`
	obj, err := scanObject(s.db.QueryRowContext(ctx, query, kind, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}
	return obj, nil
}

// ListObjects lists the cloud objects matching filter, oldest first.
func (s *SQLiteStore) ListObjects(ctx context.Context, filter ObjectFilter) ([]*CloudObject, error) {
	query := `
		SELECT id, kind, account, name, attrs, created_at, updated_at
		FROM cloud_objects
		WHERE (? = '' OR account = ?)
		  AND (? = '' OR kind = ?)
		  AND (? = '' OR name = ?)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query,
		filter.Account, filter.Account,
		filter.Kind, filter.Kind,
		filter.Name, filter.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cloud objects: %w", err)
	}
	defer rows.Close()

	objs := []*CloudObject{}
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cloud object: %w", err)
		}
		objs = append(objs, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cloud objects: %w", err)
	}
	return objs, nil
}

// DeleteObject deletes a cloud object and reports whether it existed.
func (s *SQLiteStore) DeleteObject(ctx context.Context, kind, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cloud_objects WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// AppendBootEvent appends a boot event and sets its ID.
func (s *SQLiteStore) AppendBootEvent(ctx context.Context, event *BootEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	query := `
		INSERT INTO boot_events (run_id, account, forge, server_id, from_state, to_state, level, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Account,
		event.Forge,
		event.ServerID,
		event.FromState,
		event.ToState,
		event.Level,
		event.Message,
		event.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append boot event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id
	return nil
}

func scanBootEvent(row rowScanner) (*BootEvent, error) {
	e := &BootEvent{}
	var created int64
	err := row.Scan(&e.ID, &e.RunID, &e.Account, &e.Forge, &e.ServerID,
		&e.FromState, &e.ToState, &e.Level, &e.Message, &created)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = time.Unix(0, created)
	return e, nil
}

// ListBootEvents lists the boot events of forge in order. A positive limit
// keeps the most recent ones.
func (s *SQLiteStore) ListBootEvents(ctx context.Context, forge string, limit int) ([]*BootEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, run_id, account, forge, server_id, from_state, to_state, level, message, created_at
		FROM (
			SELECT * FROM boot_events WHERE forge = ? ORDER BY id DESC LIMIT ?
		)
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, forge, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list boot events: %w", err)
	}
	defer rows.Close()

	events := []*BootEvent{}
	for rows.Next() {
		e, err := scanBootEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan boot event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating boot events: %w", err)
	}
	return events, nil
}

// LastBootEvent returns the latest boot event of forge, or ErrNotFound.
func (s *SQLiteStore) LastBootEvent(ctx context.Context, forge string) (*BootEvent, error) {
	query := `
		SELECT id, run_id, account, forge, server_id, from_state, to_state, level, message, created_at
		FROM boot_events
		WHERE forge = ?
		ORDER BY id DESC
		LIMIT 1
	`
	e, err := scanBootEvent(s.db.QueryRowContext(ctx, query, forge))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("boot events of %s: %w", forge, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get boot event: %w", err)
	}
	return e, nil
}
