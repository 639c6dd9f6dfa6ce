package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the eventflow tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("eventflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartPipelineSpan starts a span covering one pipeline invocation.
	StartPipelineSpan(ctx context.Context, eventName, eventID string) (context.Context, trace.Span)

	// StartBatchSpan starts a span covering one consumer iteration.
	// Pipeline spans for the batch's events become its children.
	StartBatchSpan(ctx context.Context, consumer string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartPipelineSpan starts a span for a pipeline invocation.
func (m *otelSpanManager) StartPipelineSpan(ctx context.Context, eventName, eventID string) (context.Context, trace.Span) {
	return StartPipelineSpan(ctx, eventName, eventID)
}

// StartBatchSpan starts a span for a consumer iteration.
func (m *otelSpanManager) StartBatchSpan(ctx context.Context, consumer string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventflow.consumer.batch",
		trace.WithAttributes(
			attribute.String("consumer.name", consumer),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// StartPipelineSpan starts a span for a pipeline invocation.
// Uses the global OTel tracer.
func StartPipelineSpan(ctx context.Context, eventName, eventID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventflow.pipeline",
		trace.WithAttributes(
			attribute.String("event.name", eventName),
			attribute.String("event.id", eventID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
