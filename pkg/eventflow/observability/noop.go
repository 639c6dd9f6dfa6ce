package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordPipeline does nothing.
func (NoopMetrics) RecordPipeline(_ context.Context, _ string, _ time.Duration, _ error, _ bool) {}

// RecordBatch does nothing.
func (NoopMetrics) RecordBatch(_ context.Context, _ string, _ int, _ time.Duration, _ error) {}

// RecordWrite does nothing.
func (NoopMetrics) RecordWrite(_ context.Context, _ string, _ int) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartPipelineSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartPipelineSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartBatchSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartBatchSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
