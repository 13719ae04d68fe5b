package forge

import "fmt"

// Status is the state of a forge boot.
type Status string

const (
	StatusChecking    Status = "checking"
	StatusStarting    Status = "starting"
	StatusAssignIP    Status = "assign_ip"
	StatusCloudInit   Status = "cloud_init"
	StatusNoNet       Status = "nonet"
	StatusRestart     Status = "restart"
	StatusInError     Status = "in_error"
	StatusRestarted   Status = "restarted"
	StatusDisappeared Status = "disappeared"
	StatusActive      Status = "active"
)

// pendingTick is the tick value shown while the console log does not move.
const pendingTick = 4

// PendingWarning is the number of pending polls after which the operator is
// told the server looks stuck. Polling goes on.
const PendingWarning = 60

const activity = `/-\|?`

// ForgeStatus follows a forge boot. It is owned by one boot loop.
type ForgeStatus struct {
	status Status
	old    Status

	tick    int
	pending int

	// PrevLog is the last console output analyzed.
	PrevLog string
	// Critical holds the critical cloud-init lines already reported.
	Critical []string
}

// NewForgeStatus starts a boot in status s.
func NewForgeStatus(s Status) *ForgeStatus {
	return &ForgeStatus{status: s, old: s}
}

// Status returns the current status.
func (f *ForgeStatus) Status() Status { return f.status }

// Is moves the boot to status s.
func (f *ForgeStatus) Is(s Status) { f.status = s }

// Changed reports whether the status moved since the previous call.
func (f *ForgeStatus) Changed() bool {
	changed := f.old != f.status
	f.old = f.status
	return changed
}

// Running reports whether the boot is still in progress.
func (f *ForgeStatus) Running() bool { return f.status != StatusActive }

// Tick returns the activity tick, 0 to 3, or 4 while pending.
func (f *ForgeStatus) Tick() int { return f.tick }

// PendingCount returns the number of consecutive polls without new output.
func (f *ForgeStatus) PendingCount() int { return f.pending }

// Progress moves the activity tick. A pending boot keeps its tick and count.
func (f *ForgeStatus) Progress() {
	if f.tick == pendingTick {
		return
	}
	f.pending = 0
	f.tick = (f.tick + 1) % pendingTick
}

// Pending records whether the last poll saw the same console output. It
// returns true exactly when the pending count reaches PendingWarning.
func (f *ForgeStatus) Pending(still bool) bool {
	if !still {
		if f.tick == pendingTick {
			f.tick = 0
		}
		return false
	}
	f.pending++
	f.tick = pendingTick
	return f.pending == PendingWarning
}

// Display returns the line shown to the operator for the current status.
func (f *ForgeStatus) Display() string {
	act := "ACTIVE"
	if f.tick == pendingTick {
		act = fmt.Sprintf("PENDING - %d s", (f.pending+1)*5)
	}
	mark := string(activity[f.tick])

	switch f.status {
	case StatusChecking:
		return "Checking server status"
	case StatusStarting:
		return "STARTING"
	case StatusAssignIP:
		return fmt.Sprintf("%s - %s - Assigning Public IP", mark, act)
	case StatusCloudInit, StatusNoNet:
		return fmt.Sprintf("%s - %s - Currently running cloud-init. Be patient.", mark, act)
	case StatusRestart, StatusRestarted:
		return "RESTARTING - Currently restarting maestro box. Be patient."
	case StatusInError:
		return "The server creation is in error."
	case StatusDisappeared:
		return "The server has disappeared. Trying to get it back."
	case StatusActive:
		return "Server is active"
	}
	return string(f.status)
}
