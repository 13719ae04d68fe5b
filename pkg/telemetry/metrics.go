package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the dispatcher, the provider
// controllers and the forge boot loop. A nil or disabled *Metrics records
// nothing.
type Metrics struct {
	config MetricsConfig

	// Dispatcher metrics
	dispatchCalls    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	queryCache       *prometheus.CounterVec

	// Controller metrics
	controllerCalls    *prometheus.CounterVec
	controllerDuration *prometheus.HistogramVec
	retries            *prometheus.CounterVec

	// Boot metrics
	bootTransitions *prometheus.CounterVec
	bootPolls       prometheus.Counter
	bootDuration    *prometheus.HistogramVec
	bootRebuilds    prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		dispatchCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_calls_total",
				Help:      "Total number of dispatcher verb calls",
			},
			[]string{"verb", "object", "status"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of dispatcher verb calls in seconds",
				Buckets:   buckets,
			},
			[]string{"verb", "object"},
		),
		queryCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_cache_lookups_total",
				Help:      "Query cache lookups by result",
			},
			[]string{"object", "result"},
		),

		controllerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "controller_calls_total",
				Help:      "Total number of provider controller calls",
			},
			[]string{"operation", "object", "status"},
		),
		controllerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "controller_duration_seconds",
				Help:      "Duration of provider controller calls in seconds, retries included",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "controller_retries_total",
				Help:      "Retries after a transient provider error",
			},
			[]string{"operation"},
		),

		bootTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forge_boot_transitions_total",
				Help:      "Forge boot status transitions",
			},
			[]string{"from", "to"},
		),
		bootPolls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forge_boot_polls_total",
				Help:      "Forge boot polling iterations",
			},
		),
		bootDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "forge_boot_duration_seconds",
				Help:      "Time from boot start to a terminal status",
				Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
			[]string{"result"},
		),
		bootRebuilds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forge_boot_rebuilds_total",
				Help:      "Server rebuilds triggered by a boot error",
			},
		),
	}

	registry.MustRegister(
		m.dispatchCalls,
		m.dispatchDuration,
		m.queryCache,
		m.controllerCalls,
		m.controllerDuration,
		m.retries,
		m.bootTransitions,
		m.bootPolls,
		m.bootDuration,
		m.bootRebuilds,
	)

	return m, nil
}

// Dispatcher Metrics

// RecordDispatch records a dispatcher verb call.
func (m *Metrics) RecordDispatch(verb, object, status string, duration time.Duration) {
	if m == nil || m.dispatchCalls == nil {
		return
	}
	m.dispatchCalls.WithLabelValues(verb, object, status).Inc()
	m.dispatchDuration.WithLabelValues(verb, object).Observe(duration.Seconds())
}

// RecordQueryCache records a query cache lookup.
func (m *Metrics) RecordQueryCache(object string, hit bool) {
	if m == nil || m.queryCache == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.queryCache.WithLabelValues(object, result).Inc()
}

// Controller Metrics

// RecordControllerCall records a controller call with its duration.
func (m *Metrics) RecordControllerCall(operation, object, status string, duration time.Duration) {
	if m == nil || m.controllerCalls == nil {
		return
	}
	m.controllerCalls.WithLabelValues(operation, object, status).Inc()
	m.controllerDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRetry records a retry of a controller call.
func (m *Metrics) RecordRetry(operation string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// Boot Metrics

// RecordBootTransition records a forge status change.
func (m *Metrics) RecordBootTransition(from, to string) {
	if m == nil || m.bootTransitions == nil {
		return
	}
	m.bootTransitions.WithLabelValues(from, to).Inc()
}

// RecordBootPoll records one boot loop iteration.
func (m *Metrics) RecordBootPoll() {
	if m == nil || m.bootPolls == nil {
		return
	}
	m.bootPolls.Inc()
}

// RecordBootDone records the total boot wait.
func (m *Metrics) RecordBootDone(result string, duration time.Duration) {
	if m == nil || m.bootDuration == nil {
		return
	}
	m.bootDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordBootRebuild records a server rebuild.
func (m *Metrics) RecordBootRebuild() {
	if m == nil || m.bootRebuilds == nil {
		return
	}
	m.bootRebuilds.Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint when a listen address is
// configured.
func (m *Metrics) StartMetricsServer() error {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	return nil
}
