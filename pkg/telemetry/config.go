package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the telemetry settings of one forj invocation.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`

	// Environment is the account the CLI runs against.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string

	EnableCaller bool
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled  bool
	Exporter string `validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector address.
	Endpoint string

	SamplingRate float64 `validate:"gte=0,lte=1"`

	MaxExportBatchSize int
	ExportTimeout      time.Duration
	Headers            map[string]string
	Insecure           bool
}

// MetricsConfig configures the prometheus registry.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress serves Path when set. Empty keeps the registry in-process.
	ListenAddress string

	Path      string
	Namespace string

	// DefaultHistogramBuckets are latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the forge event publisher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int `validate:"gte=0,required_if=Enabled true"`

	// EnableAsync delivers events from a background goroutine.
	EnableAsync bool
}

// DefaultConfig returns the CLI defaults: console logs, no trace export,
// in-process metrics and synchronous events.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "forj",
		ServiceVersion: "dev",
		Environment:    "default",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "forj",
			DefaultHistogramBuckets: []float64{
				0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0,
			},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
