// Package telemetry provides the observability stack of the forj CLI.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and a forge event publisher.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
//	logger := tel.Logger.NewComponentLogger("forge").WithAccount("hpcloud").WithForge("myforge")
//	logger.Info("Forge is ready")
//
// # Tracing
//
// The dispatcher opens one span per verb and per controller call. The boot
// loop opens one span for the whole wait and adds an event per status change.
//
//	ctx, span := tel.Tracer.StartVerbSpan(ctx, "create", "server")
//	defer span.End()
//
// # Metrics
//
// Metrics live in a private registry. They are served over HTTP only when
// Metrics.ListenAddress is set.
//
//	tel.Metrics.RecordDispatch("create", "server", "success", d)
//	tel.Metrics.RecordBootTransition("starting", "active")
//
// # Events
//
// Forge boot progress is published as events. The boot history store
// subscribes to persist them.
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByForge("myforge"))
package telemetry
