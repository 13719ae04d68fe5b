package forge

import (
	"regexp"
	"strings"
)

// LogEvent is what the analysis of a console log found.
type LogEvent int

const (
	LogNothing LogEvent = iota
	// LogDone means cloud-init finished the maestro build.
	LogDone
	// LogCritical means cloud-init reported critical errors.
	LogCritical
	// LogNoNet means cloud-init gave up waiting for the network.
	LogNoNet
	// LogNoNetBoot means the box booted without network and cannot recover.
	LogNoNetBoot
)

func (e LogEvent) String() string {
	switch e {
	case LogDone:
		return "done"
	case LogCritical:
		return "critical"
	case LogNoNet:
		return "nonet"
	case LogNoNetBoot:
		return "nonet_boot"
	}
	return "nothing"
}

var (
	bootFinished = regexp.MustCompile(`cloud-init boot finished`)
	criticalLine = regexp.MustCompile(`(?m)^.*\[CRITICAL\].*$`)
	// Ubuntu 12.04 images lose their network on some hypervisors.
	noNetwork     = regexp.MustCompile(`cloud-init-nonet gave up waiting for a network device`)
	noNetworkBoot = regexp.MustCompile(`Booting system without full network configuration`)

	caRootRequest = regexp.MustCompile(`forj-cli: ca-root-cert=(.*)`)
	lorjRequest   = regexp.MustCompile(`forj-cli: lorj_tmp_file=(.*) lorj_tmp_key=(.*) flag_file=(.*)`)
)

// Classify returns the first event found in log for a boot in status s,
// and the critical lines when the event is LogCritical. Detectors run in
// order: done, critical, nonet (cloud_init only), nonet boot (nonet only).
func Classify(s Status, log string) (LogEvent, []string) {
	if bootFinished.MatchString(log) {
		return LogDone, nil
	}
	if lines := criticalLine.FindAllString(log, -1); len(lines) > 0 {
		return LogCritical, lines
	}
	if s == StatusCloudInit && noNetwork.MatchString(log) {
		return LogNoNet, nil
	}
	if s == StatusNoNet && noNetworkBoot.MatchString(log) {
		return LogNoNetBoot, nil
	}
	return LogNothing, nil
}

// BootFinished reports whether log shows the end of the maestro build.
func BootFinished(log string) bool {
	return bootFinished.MatchString(log)
}

// waitingLine returns the line a waiting box prints its request on: the
// fourth from the end of the log.
func waitingLine(log string) string {
	lines := strings.Split(strings.TrimRight(log, "\n"), "\n")
	if len(lines) < 4 {
		return ""
	}
	return lines[len(lines)-4]
}

// CARootRequested reports whether the box waits for the CA root
// certificate.
func CARootRequested(log string) bool {
	return caRootRequest.MatchString(waitingLine(log))
}

// LorjRequest is where a waiting box expects the lorj account data.
type LorjRequest struct {
	DataFile string
	KeyFile  string
	FlagFile string
}

// LorjRequested returns the lorj data request of a waiting box.
func LorjRequested(log string) (LorjRequest, bool) {
	m := lorjRequest.FindStringSubmatch(waitingLine(log))
	if m == nil {
		return LorjRequest{}, false
	}
	return LorjRequest{DataFile: m[1], KeyFile: m[2], FlagFile: m[3]}, true
}
