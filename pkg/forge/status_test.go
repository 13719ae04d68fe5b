package forge

import (
	"strings"
	"testing"
)

func TestForgeStatusChanged(t *testing.T) {
	s := NewForgeStatus(StatusChecking)
	if s.Changed() {
		t.Error("a new status reports a change")
	}
	s.Is(StatusStarting)
	if !s.Changed() {
		t.Error("Changed() = false after a move")
	}
	if s.Changed() {
		t.Error("Changed() reports the same move twice")
	}
}

func TestForgeStatusRunning(t *testing.T) {
	for _, st := range []Status{StatusChecking, StatusStarting, StatusAssignIP, StatusCloudInit, StatusNoNet,
		StatusRestart, StatusInError, StatusRestarted, StatusDisappeared} {
		if !NewForgeStatus(st).Running() {
			t.Errorf("%s is not running", st)
		}
	}
	if NewForgeStatus(StatusActive).Running() {
		t.Error("active is running")
	}
}

func TestForgeStatusPending(t *testing.T) {
	s := NewForgeStatus(StatusCloudInit)
	s.Progress()
	if s.Tick() != 1 {
		t.Fatalf("Tick() = %d, want 1", s.Tick())
	}

	warned := 0
	for i := 0; i < PendingWarning+5; i++ {
		if s.Pending(true) {
			warned++
		}
		s.Progress()
		if s.Tick() != pendingTick {
			t.Fatalf("Tick() = %d while pending, want %d", s.Tick(), pendingTick)
		}
	}
	if warned != 1 {
		t.Errorf("warned %d times, want 1", warned)
	}
	if s.PendingCount() != PendingWarning+5 {
		t.Errorf("PendingCount() = %d, want %d", s.PendingCount(), PendingWarning+5)
	}
	if !strings.Contains(s.Display(), "PENDING") {
		t.Errorf("Display() = %q, want a pending line", s.Display())
	}

	// New output resumes the activity ticks.
	s.Pending(false)
	s.Progress()
	if s.Tick() != 1 || s.PendingCount() != 0 {
		t.Errorf("Tick() = %d, PendingCount() = %d after new output, want 1, 0", s.Tick(), s.PendingCount())
	}
}

func TestForgeStatusDisplay(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusChecking, "Checking server status"},
		{StatusStarting, "STARTING"},
		{StatusAssignIP, "/ - ACTIVE - Assigning Public IP"},
		{StatusCloudInit, "Currently running cloud-init"},
		{StatusNoNet, "Currently running cloud-init"},
		{StatusRestart, "RESTARTING"},
		{StatusRestarted, "RESTARTING"},
		{StatusInError, "in error"},
		{StatusDisappeared, "disappeared"},
		{StatusActive, "Server is active"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := NewForgeStatus(tt.status).Display(); !strings.Contains(got, tt.want) {
				t.Errorf("Display() = %q, want %q", got, tt.want)
			}
		})
	}
}
