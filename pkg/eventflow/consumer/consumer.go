// Package consumer runs the background loops that drain queues and
// streams into a pipeline registry.
//
// A QueueConsumer reads batches from an eventflow.Queue, dispatches each
// event and commits the batch once every event succeeded. A StoreConsumer
// follows one stream of an eventflow.Store and saves its position in a
// checkpoint.Store. Both abort the batch on failure, log, wait with backoff
// and try again; events of a failed batch are delivered again.
//
//	q := queue.NewMemoryQueue()
//	pub := eventflow.NewPublisher(factory, pipelines, eventflow.WithQueue(q))
//	c := consumer.NewQueueConsumer(q, pipelines, consumer.WithLogger(logger))
//	go c.Run(ctx)
package consumer

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
)

// DefaultBatchSize is the number of events read per iteration.
const DefaultBatchSize = 64

// Runner is a background service that runs until ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// RunAll runs every runner until ctx is done. The first runner to return a
// non-nil error cancels the others, and that error is returned.
func RunAll(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}
	return g.Wait()
}

type options struct {
	name          string
	batchSize     int
	retry         eferrors.RetryConfig
	retrySet      bool
	logger        *slog.Logger
	metrics       observability.MetricsRecorder
	spans         observability.SpanManager
	initialOffset eventflow.Offset
	commit        bool
}

func defaultOptions(name string) options {
	return options{
		name:          name,
		batchSize:     DefaultBatchSize,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
		initialOffset: eventflow.OffsetStart,
	}
}

// Option configures a consumer.
type Option func(*options)

// WithName sets the consumer name used in logs, metrics and checkpoints.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithBatchSize sets how many events one iteration reads.
// Default: DefaultBatchSize
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithRetry sets the delay policy applied after a failed iteration.
// Default: errors.DefaultRetry for queues, errors.StoreRetry for streams.
func WithRetry(cfg eferrors.RetryConfig) Option {
	return func(o *options) {
		o.retry = cfg
		o.retrySet = true
	}
}

// WithLogger sets the logger. Default: no logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the recorder for batch metrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpanManager sets the span manager that opens one span per iteration.
func WithSpanManager(s observability.SpanManager) Option {
	return func(o *options) {
		if s != nil {
			o.spans = s
		}
	}
}

// WithInitialOffset sets where a StoreConsumer starts when no checkpoint
// exists. Default: eventflow.OffsetStart
func WithInitialOffset(offset eventflow.Offset) Option {
	return func(o *options) {
		o.initialOffset = offset
	}
}

// WithStoreCommit makes a StoreConsumer advance the store's low-water mark
// after saving its checkpoint. Ignored unless the store implements
// eventflow.CommittableStore.
func WithStoreCommit() Option {
	return func(o *options) {
		o.commit = true
	}
}

// loop calls iterate until ctx is done, backing off after failures.
// Cancellation ends the loop without an error.
func loop(ctx context.Context, o *options, iterate func(ctx context.Context) error) error {
	observability.LogConsumerStart(o.logger, o.name)
	defer observability.LogConsumerStop(o.logger, o.name)

	backoff := eferrors.NewBackoff(o.retry)
	for ctx.Err() == nil {
		err := iterate(ctx)
		if err == nil {
			backoff.Reset()
			continue
		}
		if ctx.Err() != nil {
			break
		}

		delay := backoff.Next()
		observability.LogConsumerRetry(o.logger, o.name, err, delay)
		if eferrors.Sleep(ctx, delay) != nil {
			break
		}
	}
	return nil
}
