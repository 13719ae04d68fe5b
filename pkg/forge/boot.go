package forge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/forj-oss/forj/pkg/lorj"
	"github.com/forj-oss/forj/pkg/stores"
	"github.com/forj-oss/forj/pkg/telemetry"
)

// DefaultInterval is the pause between two polls of a booting server.
const DefaultInterval = 5 * time.Second

// Cloud is what the boot loop needs from the provider.
type Cloud interface {
	// GetServer returns nil, nil when the server does not exist.
	GetServer(ctx context.Context, id string) (*Server, error)
	FindServers(ctx context.Context, name string) ([]*Server, error)
	// ServerLog returns the tail of the server console.
	ServerLog(ctx context.Context, server *Server) (string, error)
	// AssignPublicIP returns the public address of server, assigning one
	// when it has none.
	AssignPublicIP(ctx context.Context, server *Server) (string, error)
	// RebuildServer deletes server and creates a new one with the same
	// name.
	RebuildServer(ctx context.Context, server *Server) (*Server, error)
}

// LogWatcher is called with the console output on every analyzed poll. It
// serves the requests a box prints while it waits for the workstation.
type LogWatcher func(ctx context.Context, server *Server, log string)

// BootOptions configures a Booter.
type BootOptions struct {
	Account string
	Forge   string

	// Interval between polls, DefaultInterval when zero.
	Interval time.Duration
	// Sleep waits between polls. It must return early when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error

	// SSHUser and KeyFile are shown in the stuck server hint.
	SSHUser string
	KeyFile string

	// Display receives the status line of every poll.
	Display func(line string)

	Watchers []LogWatcher

	Logger  zerolog.Logger
	Store   stores.Store
	Events  *telemetry.EventPublisher
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Booter follows a maestro server until cloud-init finished its build.
type Booter struct {
	cloud Cloud
	opts  BootOptions
}

// NewBooter creates a Booter over c.
func NewBooter(c Cloud, opts BootOptions) *Booter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	opts.Logger = opts.Logger.With().Str("forge", opts.Forge).Logger()
	return &Booter{cloud: c, opts: opts}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BootResult describes a finished boot loop.
type BootResult struct {
	RunID  string
	Server *Server
	Status Status
	// Transitions lists the distinct statuses in order, starting with the
	// initial one.
	Transitions []Status
	// Trace is the status after every poll.
	Trace    []Status
	Polls    int
	Rebuilt  bool
	Duration time.Duration
}

// InitialStatus infers where the boot of an existing server stands.
func (b *Booter) InitialStatus(ctx context.Context, server *Server) (Status, error) {
	if !server.Active() {
		return StatusChecking, nil
	}
	log, err := b.cloud.ServerLog(ctx, server)
	if err != nil {
		return "", err
	}
	switch {
	case log == "":
		return StatusChecking, nil
	case BootFinished(log):
		return StatusActive, nil
	case server.PublicIP == "":
		return StatusAssignIP, nil
	}
	return StatusCloudInit, nil
}

// bootRun is the state of one boot loop.
type bootRun struct {
	runID  string
	server *Server
	status *ForgeStatus
	last   Status
	result *BootResult
	span   trace.Span
}

type bootTask func(ctx context.Context, run *bootRun) (bool, error)

// TillServerActive polls server until its build is over. The loop has no
// timeout: it ends when cloud-init finished, on a fatal error or when ctx
// is done.
func (b *Booter) TillServerActive(ctx context.Context, server *Server) (*BootResult, error) {
	if server == nil {
		return nil, lorj.NewPermanentError("no maestro server to follow", nil).WithObject(Forge)
	}
	start := time.Now()

	initial, err := b.InitialStatus(ctx, server)
	if err != nil {
		return nil, err
	}

	ctx, span := b.opts.Tracer.StartBootSpan(ctx, b.opts.Forge, server.ID)
	defer span.End()

	run := &bootRun{
		runID:  uuid.NewString(),
		server: server,
		status: NewForgeStatus(initial),
		last:   initial,
		span:   span,
	}
	run.result = &BootResult{RunID: run.runID, Transitions: []Status{initial}}

	b.opts.Logger.Info().Str("server", server.Name).Str("id", server.ID).Str("status", string(initial)).
		Msg("Following the maestro boot")
	_ = b.opts.Events.PublishBootStarted(b.opts.Account, b.opts.Forge, server.ID)
	b.record(ctx, run, "", initial, stores.EventLevelInfo, "boot started")

	err = b.loop(ctx, run)

	run.result.Server = run.server
	run.result.Status = run.status.Status()
	run.result.Duration = time.Since(start)

	outcome := "active"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	case err != nil:
		outcome = "failed"
	}
	b.opts.Metrics.RecordBootDone(outcome, run.result.Duration)
	_ = b.opts.Events.PublishBootDone(b.opts.Account, b.opts.Forge, run.server.ID, string(run.result.Status), run.result.Duration, err)

	if err != nil {
		telemetry.RecordError(span, err)
		b.record(ctx, run, run.result.Status, run.result.Status, stores.EventLevelError, err.Error())
		return run.result, err
	}
	telemetry.RecordSuccess(span)
	b.opts.Logger.Info().Dur("duration", run.result.Duration).Msg("The Forge build is over!")
	return run.result, nil
}

func (b *Booter) loop(ctx context.Context, run *bootRun) error {
	tasks := []bootTask{
		b.runDisappeared,
		b.runError,
		b.runRestart,
		b.runRestarted,
		b.runChecking,
		b.runStarting,
		b.runAssign,
		b.runAnalyzeLog,
	}

	status := run.status
	for status.Running() {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.display(status)

		if !status.Changed() {
			if err := b.opts.Sleep(ctx, b.opts.Interval); err != nil {
				return err
			}
		}
		status.Progress()
		run.result.Polls++
		b.opts.Metrics.RecordBootPoll()

		refreshed, err := b.cloud.GetServer(ctx, run.server.ID)
		if err != nil {
			return err
		}
		if refreshed == nil {
			status.Is(StatusDisappeared)
			b.transition(ctx, run, run.last, StatusDisappeared)
			run.last = StatusDisappeared
		} else {
			// The provider record may not carry the address assigned by runAssign.
			if refreshed.PublicIP == "" {
				refreshed.PublicIP = run.server.PublicIP
			}
			run.server = refreshed
		}

		for _, task := range tasks {
			done, err := task(ctx, run)
			if err != nil {
				return err
			}
			if done {
				break
			}
		}

		run.result.Trace = append(run.result.Trace, status.Status())
		if s := status.Status(); s != run.last {
			b.transition(ctx, run, run.last, s)
			run.last = s
		}
	}
	b.display(status)
	return nil
}

func (b *Booter) display(status *ForgeStatus) {
	line := status.Display()
	if b.opts.Display != nil {
		b.opts.Display(line)
		return
	}
	b.opts.Logger.Debug().Str("status", string(status.Status())).Msg(line)
}

func (b *Booter) transition(ctx context.Context, run *bootRun, from, to Status) {
	run.result.Transitions = append(run.result.Transitions, to)
	b.opts.Metrics.RecordBootTransition(string(from), string(to))
	telemetry.AddStatusEvent(run.span, string(from), string(to))
	_ = b.opts.Events.PublishStatusChanged(b.opts.Account, b.opts.Forge, run.server.ID, string(from), string(to))

	level := stores.EventLevelInfo
	switch to {
	case StatusInError, StatusRestart, StatusNoNet, StatusDisappeared:
		level = stores.EventLevelWarning
	}
	b.record(ctx, run, from, to, level, run.status.Display())
	b.opts.Logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Forge status changed")
}

// record appends a boot event to the history. History is best effort.
func (b *Booter) record(ctx context.Context, run *bootRun, from, to Status, level stores.EventLevel, msg string) {
	if b.opts.Store == nil {
		return
	}
	event := &stores.BootEvent{
		RunID:     run.runID,
		Account:   b.opts.Account,
		Forge:     b.opts.Forge,
		ServerID:  run.server.ID,
		FromState: string(from),
		ToState:   string(to),
		Level:     level,
		Message:   msg,
	}
	if err := b.opts.Store.AppendBootEvent(context.WithoutCancel(ctx), event); err != nil {
		b.opts.Logger.Warn().Err(err).Msg("Unable to record the boot event")
	}
}

// runDisappeared finds the server back by name when its id is gone.
func (b *Booter) runDisappeared(ctx context.Context, run *bootRun) (bool, error) {
	if run.status.Status() != StatusDisappeared {
		return false, nil
	}
	name := run.server.Name
	b.opts.Logger.Warn().Str("server", name).Str("id", run.server.ID).
		Msg("Server not found by id. Trying to get the server from its name")

	list, err := b.cloud.FindServers(ctx, name)
	if err != nil {
		return false, err
	}
	switch len(list) {
	case 0:
		return false, lorj.NewPermanentError(
			fmt.Sprintf("no more maestro server '%s' has been found. Did you remove it? Boot aborted", name), nil).
			WithCode(lorj.ErrCodeNotFound).WithObject(Forge)
	case 1:
	default:
		ids := make([]string, 0, len(list))
		for _, s := range list {
			ids = append(ids, s.ID)
		}
		return false, lorj.NewPermanentError(
			fmt.Sprintf("too many servers with name '%s'. You have to connect to your cloud and fix those duplicated servers: %s",
				name, strings.Join(ids, ", ")), nil).WithObject(Forge)
	}
	run.server = list[0]
	run.status.Is(StatusStarting)
	return true, nil
}

// runError puts the boot in error when the server failed. A server failing
// again after its rebuild ends the boot.
func (b *Booter) runError(_ context.Context, run *bootRun) (bool, error) {
	if !run.server.Failed() {
		return false, nil
	}
	if run.result.Rebuilt {
		return false, lorj.NewPermanentError(
			fmt.Sprintf("server '%s' tried to be rebuilt but failed again", run.server.Name), nil).WithObject(Forge)
	}
	if run.status.Status() == StatusInError {
		return false, nil
	}
	b.opts.Logger.Warn().Str("server", run.server.Name).
		Msg("The creation of the server has failed. Trying to rebuild it, once before giving up")
	run.status.Is(StatusInError)
	return true, nil
}

// runRestart replaces a failed server, or one that booted without network.
func (b *Booter) runRestart(ctx context.Context, run *bootRun) (bool, error) {
	s := run.status.Status()
	if s != StatusInError && s != StatusRestart {
		return false, nil
	}
	reason := "server in error"
	if s == StatusRestart {
		reason = "server booted without network"
	}
	b.opts.Logger.Warn().Str("server", run.server.Name).Str("reason", reason).
		Msg("Removing the bad server and creating a new one")
	_ = b.opts.Events.PublishRebuild(b.opts.Account, b.opts.Forge, run.server.ID, reason)
	b.opts.Metrics.RecordBootRebuild()

	server, err := b.cloud.RebuildServer(ctx, run.server)
	if err != nil {
		return false, fmt.Errorf("unable to rebuild server '%s': %w", run.server.Name, err)
	}
	b.opts.Logger.Info().Str("server", server.Name).Str("id", server.ID).Msg("New maestro server created")
	run.server = server
	run.status.PrevLog = ""
	run.status.Critical = nil

	if s == StatusInError {
		run.result.Rebuilt = true
		run.status.Is(StatusRestarted)
	} else {
		run.status.Is(StatusStarting)
	}
	return true, nil
}

// runRestarted waits for the rebuilt server to run.
func (b *Booter) runRestarted(_ context.Context, run *bootRun) (bool, error) {
	if run.status.Status() != StatusRestarted {
		return false, nil
	}
	if run.server.Active() {
		run.status.Is(StatusAssignIP)
	}
	return true, nil
}

func (b *Booter) runChecking(_ context.Context, run *bootRun) (bool, error) {
	if run.status.Status() != StatusChecking || run.server.Active() {
		return false, nil
	}
	run.status.Is(StatusStarting)
	return true, nil
}

func (b *Booter) runStarting(_ context.Context, run *bootRun) (bool, error) {
	s := run.status.Status()
	if (s != StatusStarting && s != StatusChecking) || !run.server.Active() {
		return false, nil
	}
	run.status.Is(StatusAssignIP)
	return true, nil
}

func (b *Booter) runAssign(ctx context.Context, run *bootRun) (bool, error) {
	if run.status.Status() != StatusAssignIP {
		return false, nil
	}
	ip, err := b.cloud.AssignPublicIP(ctx, run.server)
	if err != nil {
		return false, err
	}
	b.opts.Logger.Info().Str("server", run.server.Name).Str("public_ip", ip).Msg("Public IP for server is assigned")
	run.server.PublicIP = ip
	run.status.Is(StatusCloudInit)
	return true, nil
}

// runAnalyzeLog classifies the console output and serves the box requests.
func (b *Booter) runAnalyzeLog(ctx context.Context, run *bootRun) (bool, error) {
	log, err := b.cloud.ServerLog(ctx, run.server)
	if err != nil {
		return false, err
	}
	if log == "" {
		return false, nil
	}

	status := run.status
	still := log == status.PrevLog
	if status.Pending(still) {
		b.warnPending(run)
	}
	if !still {
		status.PrevLog = log
	}

	event, lines := Classify(status.Status(), log)
	switch event {
	case LogDone:
		if len(status.Critical) > 0 {
			b.opts.Logger.Info().Msg("Critical error cleared. Cloud-init seems moving...")
			status.Critical = nil
		}
		status.Is(StatusActive)
	case LogCritical:
		if !slices.Equal(lines, status.Critical) {
			b.opts.Logger.Error().Str("server", run.server.Name).Strs("lines", lines).
				Msg("cloud-init error detected. Please connect to the box to decide what you need to do")
			status.Critical = lines
		}
	case LogNoNet:
		b.opts.Logger.Warn().Msg("Cloud-init gave up configuring the network. Waiting...")
		status.Is(StatusNoNet)
	case LogNoNetBoot:
		b.opts.Logger.Warn().Msg("The maestro server cannot come up. Removing it and creating a new one, please be patient...")
		status.Is(StatusRestart)
	}

	for _, watch := range b.opts.Watchers {
		watch(ctx, run.server, log)
	}
	return true, nil
}

func (b *Booter) warnPending(run *bootRun) {
	hint := fmt.Sprintf("ssh %s@%s -o StrictHostKeyChecking=no -i %s", b.opts.SSHUser, run.server.PublicIP, b.opts.KeyFile)
	b.opts.Logger.Warn().
		Str("server", run.server.Name).
		Str("output", run.status.PrevLog).
		Str("connect", hint).
		Msg("No more server activity detected for more than 5 minutes. Review the output to decide if this is normal")
	_ = b.opts.Events.PublishBootWarning(b.opts.Account, b.opts.Forge, run.server.ID, string(run.status.Status()), run.status.PendingCount())
}
