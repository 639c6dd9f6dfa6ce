package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
)

// QueueConsumer drains a Queue into a Dispatcher.
type QueueConsumer struct {
	queue      eventflow.Queue
	dispatcher eventflow.Dispatcher
	opts       options
}

// NewQueueConsumer creates a consumer that dispatches every event read from
// q through dispatcher, usually an *eventflow.PipelineRegistry.
func NewQueueConsumer(q eventflow.Queue, dispatcher eventflow.Dispatcher, opts ...Option) *QueueConsumer {
	o := defaultOptions("queue")
	for _, opt := range opts {
		opt(&o)
	}
	if !o.retrySet {
		o.retry = eferrors.DefaultRetry
	}
	return &QueueConsumer{queue: q, dispatcher: dispatcher, opts: o}
}

// Run processes batches until ctx is done. It returns nil on cancellation;
// processing failures are logged and retried, never returned.
func (c *QueueConsumer) Run(ctx context.Context) error {
	return loop(ctx, &c.opts, c.iterate)
}

// iterate reads one batch, processes it in order and commits it. On any
// failure the read is aborted so the whole batch is delivered again.
func (c *QueueConsumer) iterate(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, span := c.opts.spans.StartBatchSpan(ctx, c.opts.name)
	start := time.Now()
	elapsed := observability.TimedOperation()
	size := 0
	defer func() {
		c.opts.spans.EndSpanWithError(span, err)
		c.opts.metrics.RecordBatch(ctx, c.opts.name, size, time.Since(start), err)
	}()

	batch, err := c.queue.Read(ctx, c.opts.batchSize)
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}
	size = len(batch)
	if size == 0 {
		return nil
	}

	for _, ec := range batch {
		if err := c.dispatcher.Process(ctx, ec); err != nil {
			return c.abort(ctx, err)
		}
	}

	// The batch is fully processed; acknowledge it even if shutdown began.
	last := batch[len(batch)-1]
	if err := c.queue.CommitRead(context.WithoutCancel(ctx), last); err != nil {
		return c.abort(ctx, fmt.Errorf("commit read: %w", err))
	}

	offset, _ := last.Offset()
	observability.LogBatchCommitted(c.opts.logger, c.opts.name, size, int64(offset), elapsed())
	return nil
}

func (c *QueueConsumer) abort(ctx context.Context, cause error) error {
	if err := c.queue.AbortRead(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(cause, fmt.Errorf("abort read: %w", err))
	}
	return cause
}
