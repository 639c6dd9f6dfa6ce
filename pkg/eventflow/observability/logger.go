// Package observability provides structured logging, metrics, and tracing
// for event pipelines and background consumers.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every log helper accepts a nil logger and does nothing in that case.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds event identity to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "order.placed", ec.ID())
//	enriched.Info("charging card") // includes event and event_id
func EnrichLogger(logger *slog.Logger, eventName, eventID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event", eventName),
		slog.String("event_id", eventID),
	)
}

// LogPipelineStart logs the start of pipeline processing for one event.
func LogPipelineStart(logger *slog.Logger, eventName, eventID string) {
	if logger == nil {
		return
	}
	logger.Debug("event pipeline starting",
		slog.String("event", eventName),
		slog.String("event_id", eventID),
	)
}

// LogPipelineComplete logs an event that reached every handler.
func LogPipelineComplete(logger *slog.Logger, eventName, eventID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event pipeline completed",
		slog.String("event", eventName),
		slog.String("event_id", eventID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogPipelineShortCircuit logs a behavior that returned without calling next.
func LogPipelineShortCircuit(logger *slog.Logger, eventName, eventID, behavior string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("event pipeline short-circuited",
		slog.String("event", eventName),
		slog.String("event_id", eventID),
		slog.String("behavior", behavior),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogPipelineError logs a pipeline failure. The error is still returned to
// the caller; this only records it.
func LogPipelineError(logger *slog.Logger, eventName, eventID string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("event pipeline failed",
		slog.String("event", eventName),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogPipelineCanceled logs cancellation, which is not treated as a failure.
func LogPipelineCanceled(logger *slog.Logger, eventName, eventID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("event pipeline canceled",
		slog.String("event", eventName),
		slog.String("event_id", eventID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogConsumerStart logs a background consumer entering its loop.
func LogConsumerStart(logger *slog.Logger, consumer string) {
	if logger == nil {
		return
	}
	logger.Info("event consumer starting",
		slog.String("consumer", consumer),
	)
}

// LogConsumerStop logs a background consumer leaving its loop.
func LogConsumerStop(logger *slog.Logger, consumer string) {
	if logger == nil {
		return
	}
	logger.Info("event consumer stopped",
		slog.String("consumer", consumer),
	)
}

// LogBatchCommitted logs a processed and acknowledged batch.
func LogBatchCommitted(logger *slog.Logger, consumer string, size int, offset int64, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event batch committed",
		slog.String("consumer", consumer),
		slog.Int("batch_size", size),
		slog.Int64("offset", offset),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogConsumerRetry logs a failed iteration and the delay before the next one.
func LogConsumerRetry(logger *slog.Logger, consumer string, err error, delay time.Duration) {
	if logger == nil {
		return
	}
	logger.Error("event consumer iteration failed",
		slog.String("consumer", consumer),
		slog.String("error", err.Error()),
		slog.Duration("retry_in", delay),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
