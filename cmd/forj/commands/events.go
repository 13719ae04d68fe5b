package commands

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/forj-oss/forj/pkg/telemetry"
)

// eventJournal appends the forge events of every command to a JSON lines
// file in the data directory.
type eventJournal struct {
	f      *os.File
	logger zerolog.Logger
}

func openEventJournal(path string) (*eventJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &eventJournal{f: f, logger: zerolog.New(f)}, nil
}

// attach subscribes the journal to every forge event but status changes,
// which the boot history already keeps.
func (j *eventJournal) attach(events *telemetry.EventPublisher) {
	events.Subscribe(j.record, telemetry.FilterByType(
		telemetry.EventTypeBootStarted,
		telemetry.EventTypeBootWarning,
		telemetry.EventTypeRebuild,
		telemetry.EventTypeBootCompleted,
		telemetry.EventTypeBootFailed,
		telemetry.EventTypePolicyDenied,
	))
}

func (j *eventJournal) record(e telemetry.Event) {
	level := zerolog.InfoLevel
	switch e.Level {
	case telemetry.EventLevelWarning:
		level = zerolog.WarnLevel
	case telemetry.EventLevelError:
		level = zerolog.ErrorLevel
	}
	ev := j.logger.WithLevel(level).
		Time("time", e.Timestamp).
		Str("id", e.ID).
		Str("type", e.Type).
		Str("source", e.Source).
		Str("account", e.Account).
		Str("forge", e.Forge)
	if e.ServerID != "" {
		ev = ev.Str("server_id", e.ServerID)
	}
	if len(e.Data) > 0 {
		ev = ev.Interface("data", e.Data)
	}
	ev.Msg(e.Message)
}

func (j *eventJournal) Close() error {
	return j.f.Close()
}
