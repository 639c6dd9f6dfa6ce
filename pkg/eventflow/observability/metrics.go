package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records eventflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPipeline records one pipeline invocation.
	RecordPipeline(ctx context.Context, eventName string, duration time.Duration, err error, shortCircuited bool)

	// RecordBatch records one consumer iteration that read size events.
	RecordBatch(ctx context.Context, consumer string, size int, duration time.Duration, err error)

	// RecordWrite records events written to a queue or store.
	RecordWrite(ctx context.Context, transport string, count int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	pipelineRuns          metric.Int64Counter
	pipelineLatency       metric.Float64Histogram
	pipelineErrors        metric.Int64Counter
	pipelineShortCircuits metric.Int64Counter
	batches               metric.Int64Counter
	batchSize             metric.Int64Histogram
	batchErrors           metric.Int64Counter
	writes                metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventflow")

	pipelineRuns, err := meter.Int64Counter("eventflow.pipeline.processed",
		metric.WithDescription("Number of events run through a pipeline"),
	)
	if err != nil {
		return nil, err
	}

	pipelineLatency, err := meter.Float64Histogram("eventflow.pipeline.latency_ms",
		metric.WithDescription("Pipeline latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	pipelineErrors, err := meter.Int64Counter("eventflow.pipeline.errors",
		metric.WithDescription("Number of failed pipeline invocations"),
	)
	if err != nil {
		return nil, err
	}

	pipelineShortCircuits, err := meter.Int64Counter("eventflow.pipeline.short_circuits",
		metric.WithDescription("Number of pipelines ended by a behavior before the handlers"),
	)
	if err != nil {
		return nil, err
	}

	batches, err := meter.Int64Counter("eventflow.consumer.batches",
		metric.WithDescription("Number of consumer iterations"),
	)
	if err != nil {
		return nil, err
	}

	batchSize, err := meter.Int64Histogram("eventflow.consumer.batch_size",
		metric.WithDescription("Events per consumer batch"),
	)
	if err != nil {
		return nil, err
	}

	batchErrors, err := meter.Int64Counter("eventflow.consumer.errors",
		metric.WithDescription("Number of failed consumer iterations"),
	)
	if err != nil {
		return nil, err
	}

	writes, err := meter.Int64Counter("eventflow.transport.writes",
		metric.WithDescription("Number of events written to a queue or store"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		pipelineRuns:          pipelineRuns,
		pipelineLatency:       pipelineLatency,
		pipelineErrors:        pipelineErrors,
		pipelineShortCircuits: pipelineShortCircuits,
		batches:               batches,
		batchSize:             batchSize,
		batchErrors:           batchErrors,
		writes:                writes,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPipeline records a pipeline invocation.
func (m *otelMetrics) RecordPipeline(ctx context.Context, eventName string, duration time.Duration, err error, shortCircuited bool) {
	attrs := metric.WithAttributes(attribute.String("event", eventName))

	m.pipelineRuns.Add(ctx, 1, attrs)
	m.pipelineLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)

	if err != nil {
		m.pipelineErrors.Add(ctx, 1, attrs)
	}
	if shortCircuited {
		m.pipelineShortCircuits.Add(ctx, 1, attrs)
	}
}

// RecordBatch records a consumer iteration.
func (m *otelMetrics) RecordBatch(ctx context.Context, consumer string, size int, _ time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("consumer", consumer))

	m.batches.Add(ctx, 1, attrs)
	m.batchSize.Record(ctx, int64(size), attrs)
	if err != nil {
		m.batchErrors.Add(ctx, 1, attrs)
	}
}

// RecordWrite records transport writes.
func (m *otelMetrics) RecordWrite(ctx context.Context, transport string, count int) {
	m.writes.Add(ctx, int64(count), metric.WithAttributes(attribute.String("transport", transport)))
}
