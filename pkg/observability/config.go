// Package observability wires Prometheus metrics and OpenTelemetry
// tracing behind one Manager with a unified lifecycle.
package observability

import (
	"fmt"
	"time"
)

// Config configures the observability system.
type Config struct {
	Tracing TracingConfig
	Metrics MetricsConfig
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool

	// Exporter is "otlp" (gRPC collector) or "stdout" (local dev).
	Exporter string

	// Endpoint is the OTLP collector endpoint, e.g. "localhost:4317".
	Endpoint string

	// SamplingRate is the fraction of traces sampled, 0.0..1.0.
	SamplingRate float64

	ServiceName    string
	ServiceVersion string
}

// MetricsConfig configures Prometheus metrics collection.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// SetDefaults fills zero fields.
func (c *Config) SetDefaults() {
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "otlp"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "agent-gateway"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "gateway"
	}
}

// Validate rejects unusable settings.
func (c *Config) Validate() error {
	switch c.Tracing.Exporter {
	case "otlp", "stdout":
	default:
		return fmt.Errorf("tracing.exporter %q not supported", c.Tracing.Exporter)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate %f out of range", c.Tracing.SamplingRate)
	}
	return nil
}

// shutdownTimeout bounds exporter flushes on Shutdown.
const shutdownTimeout = 5 * time.Second
