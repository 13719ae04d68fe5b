package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/forj-oss/forj/pkg/cloud"
	"github.com/forj-oss/forj/pkg/config"
	"github.com/forj-oss/forj/pkg/forge"
	"github.com/forj-oss/forj/pkg/lorj"
	"github.com/forj-oss/forj/pkg/policy"
	"github.com/forj-oss/forj/pkg/providers"
	"github.com/forj-oss/forj/pkg/providers/local"
	"github.com/forj-oss/forj/pkg/stores"
	"github.com/forj-oss/forj/pkg/telemetry"
)

const hookTimeout = 10 * time.Second

// app is what a cloud command works with: the account configuration, the
// local database and a dispatcher bound to the account provider.
type app struct {
	cfg      *config.Store
	store    *stores.SQLiteStore
	tel      *telemetry.Telemetry
	d        *lorj.Dispatcher
	policies *policy.Loader
	journal  *eventJournal
	logger   zerolog.Logger
}

// appOptions tune the forge process for one command.
type appOptions struct {
	// watchPolicies keeps the policy engine in sync with the policy files
	// while the command runs.
	watchPolicies bool
	stdin         io.Reader
	stdout        io.Writer
	stderr        io.Writer
	prompter      lorj.Prompter
}

func resolveDataDir() (string, error) {
	if dataDir != "" {
		return config.ExpandPath(dataDir), nil
	}
	return config.DefaultDir()
}

// openConfig opens the configuration and loads the account given with
// --account, else the default account. A missing account is not an error
// when required is false.
func openConfig(required bool) (*config.Store, error) {
	dir, err := resolveDataDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Open(config.Options{Dir: dir, Logger: log.Logger})
	if err != nil {
		return nil, err
	}

	name := accountName
	if name == "" {
		name = cfg.GetString("account_name")
	}
	if name == "" {
		if required {
			return nil, errors.New("no account given and no default account set. Use 'forj setup' to create one")
		}
		return cfg, nil
	}
	if err := cfg.LoadAccount(name); err != nil {
		if required {
			return nil, err
		}
		log.Debug().Err(err).Msg("No account loaded")
	}
	return cfg, nil
}

func newTelemetry(account string) (*telemetry.Telemetry, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.Environment = account
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	tcfg.Metrics.ListenAddress = metricsAddr
	switch traceExport {
	case "", "none":
	case "stdout":
		tcfg.Tracing.Enabled = true
		tcfg.Tracing.Exporter = "stdout"
	case "otlp":
		tcfg.Tracing.Enabled = true
		tcfg.Tracing.Exporter = "otlp"
		tcfg.Tracing.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	default:
		return nil, fmt.Errorf("unknown trace exporter '%s'", traceExport)
	}
	return telemetry.NewTelemetry(tcfg)
}

func openStore(ctx context.Context, dir string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(dir, "forj.db")})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func providerRegistry() (*providers.Registry, error) {
	reg := providers.NewRegistry()
	if err := reg.Register(local.Manifest(), local.Factory); err != nil {
		return nil, err
	}
	return reg, nil
}

// openApp wires the dispatcher of the loaded account: cloud and forge
// processes, the provider controller, telemetry, policies and the metadata
// hook.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := openConfig(true)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, opts)
}

func newApp(ctx context.Context, cfg *config.Store, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.tel, err = newTelemetry(cfg.AccountName()); err != nil {
		return nil, err
	}
	a.logger = a.tel.Logger.WithAccount(cfg.AccountName()).Zerolog()
	if err := a.tel.StartMetricsServer(); err != nil {
		return nil, err
	}
	if a.journal, err = openEventJournal(filepath.Join(cfg.Dir(), "log", "events.log")); err != nil {
		return nil, err
	}
	a.journal.attach(a.tel.Events)

	if a.store, err = openStore(ctx, cfg.Dir()); err != nil {
		return nil, err
	}

	engine, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	policyDir := filepath.Join(cfg.Dir(), "policies")
	if opts.watchPolicies && isDir(policyDir) {
		if a.policies, err = engine.WatchPolicies(ctx, []string{policyDir}); err != nil {
			return nil, err
		}
	} else if err := engine.LoadPolicies(ctx, []string{policyDir}); err != nil {
		return nil, err
	}

	var hook *forge.MetadataHook
	if hookFile := filepath.Join(cfg.Dir(), "metadata.star"); fileExists(hookFile) {
		if hook, err = forge.LoadMetadataHook(hookFile, hookTimeout); err != nil {
			return nil, err
		}
	}

	provider := cfg.GetString("provider")
	if provider == "" {
		provider = providerName
	}
	pvd, err := providerRegistry()
	if err != nil {
		return nil, err
	}

	reg := lorj.NewRegistry()
	if err := cfg.Defaults().Register(reg); err != nil {
		return nil, err
	}
	if err := (cloud.Process{}).Declare(reg); err != nil {
		return nil, err
	}
	ctrl, err := pvd.Open(ctx, provider, reg, providers.Options{
		Account: cfg.AccountName(),
		Store:   a.store,
		Logger:  a.tel.Logger.WithProvider(provider).Zerolog(),
	})
	if err != nil {
		return nil, err
	}

	stderr := opts.stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	process := forge.NewProcess(forge.Options{
		DataDir: cfg.Dir(),
		Policy:  engine,
		Hook:    hook,
		Boot: forge.BootOptions{
			Store:   a.store,
			Events:  a.tel.Events,
			Metrics: a.tel.Metrics,
			Tracer:  a.tel.Tracer,
			Display: func(line string) { fmt.Fprintf(stderr, "\r%s", line) },
		},
		Stdin:  opts.stdin,
		Stdout: opts.stdout,
		Stderr: stderr,
		Logger: a.logger,
	})
	if err := process.Declare(reg); err != nil {
		return nil, err
	}

	prompter := opts.prompter
	if prompter == nil {
		prompter = newTerminalPrompter(os.Stdin, stderr)
	}
	a.d, err = lorj.New(reg, cfg, ctrl,
		lorj.WithLogger(a.logger),
		lorj.WithMetrics(a.tel.Metrics),
		lorj.WithTracer(a.tel.Tracer),
		lorj.WithPrompter(prompter),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases the database and flushes the telemetry.
func (a *app) Close() {
	if a.policies != nil {
		if err := a.policies.StopWatching(); err != nil {
			log.Debug().Err(err).Msg("Failed to stop the policy watcher")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close the database")
		}
	}
	if a.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tel.Shutdown(ctx); err != nil {
			log.Debug().Err(err).Msg("Failed to flush telemetry")
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close the event journal")
		}
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
