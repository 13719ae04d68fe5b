package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// EventLevel represents the severity level of a boot event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// CloudObject is a resource owned by the local provider.
type CloudObject struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"` // network, server, keypair...
	Account   string         `json:"account"`
	Name      string         `json:"name"`
	Attrs     map[string]any `json:"attrs"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// BootEvent is one state transition of a forge boot.
type BootEvent struct {
	ID        int64      `json:"id"`
	RunID     string     `json:"run_id"`
	Account   string     `json:"account"`
	Forge     string     `json:"forge"`
	ServerID  string     `json:"server_id"`
	FromState string     `json:"from_state"`
	ToState   string     `json:"to_state"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

// ObjectFilter selects cloud objects. Empty fields match everything.
type ObjectFilter struct {
	Account string
	Kind    string
	Name    string
}

// Store defines the persistence operations used by forj.
type Store interface {
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	PutObject(ctx context.Context, obj *CloudObject) error
	GetObject(ctx context.Context, kind, id string) (*CloudObject, error)
	ListObjects(ctx context.Context, filter ObjectFilter) ([]*CloudObject, error)
	DeleteObject(ctx context.Context, kind, id string) (bool, error)

	AppendBootEvent(ctx context.Context, event *BootEvent) error
	ListBootEvents(ctx context.Context, forge string, limit int) ([]*BootEvent, error)
	LastBootEvent(ctx context.Context, forge string) (*BootEvent, error)
}
