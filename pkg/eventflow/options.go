package eventflow

import (
	"log/slog"

	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
)

// pipelineConfig holds observability settings shared by every pipeline a
// registry builds.
type pipelineConfig struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// defaultPipelineConfig returns a configuration with observability off.
func defaultPipelineConfig() pipelineConfig {
	return pipelineConfig{
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
}

// PipelineOption configures pipelines.
type PipelineOption func(*pipelineConfig)

// WithLogger sets the logger for pipeline start, completion,
// short-circuit, and failure records. Default: no logging.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(c *pipelineConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics via the global meter provider.
// Default: disabled
func WithMetrics(enabled bool) PipelineOption {
	return func(c *pipelineConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry spans via the global tracer provider.
// Default: disabled
func WithTracing(enabled bool) PipelineOption {
	return func(c *pipelineConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithMetricsRecorder sets a specific recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) PipelineOption {
	return func(c *pipelineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager sets a specific span manager.
func WithSpanManager(s observability.SpanManager) PipelineOption {
	return func(c *pipelineConfig) {
		if s != nil {
			c.spans = s
		}
	}
}
