package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
)

// StoreConsumer follows one stream of a Store, dispatching its events
// through a Dispatcher and saving its position after every batch.
type StoreConsumer struct {
	store       eventflow.Store
	checkpoints checkpoint.Store
	stream      string
	dispatcher  eventflow.Dispatcher
	opts        options

	// next is the offset of the next read once resolved is set.
	next     eventflow.Offset
	resolved bool
}

// NewStoreConsumer creates a consumer of stream. Its position is kept in
// checkpoints under the consumer name (WithName, default "store").
func NewStoreConsumer(store eventflow.Store, checkpoints checkpoint.Store, stream string, dispatcher eventflow.Dispatcher, opts ...Option) *StoreConsumer {
	o := defaultOptions("store")
	for _, opt := range opts {
		opt(&o)
	}
	if !o.retrySet {
		o.retry = eferrors.StoreRetry
	}
	return &StoreConsumer{
		store:       store,
		checkpoints: checkpoints,
		stream:      stream,
		dispatcher:  dispatcher,
		opts:        o,
	}
}

// Run follows the stream until ctx is done. It returns nil on cancellation.
// Run must not be called concurrently on the same StoreConsumer.
func (c *StoreConsumer) Run(ctx context.Context) error {
	return loop(ctx, &c.opts, c.iterate)
}

// position returns the next offset to read, loading the checkpoint on the
// first call.
func (c *StoreConsumer) position(ctx context.Context) (eventflow.Offset, error) {
	if c.resolved {
		return c.next, nil
	}

	saved, err := c.checkpoints.Load(ctx, c.opts.name, c.stream)
	switch {
	case err == nil:
		c.next = saved + 1
	case errors.Is(err, checkpoint.ErrNotFound):
		c.next = c.opts.initialOffset
	default:
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	c.resolved = true
	return c.next, nil
}

func (c *StoreConsumer) iterate(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	offset, err := c.position(ctx)
	if err != nil {
		return err
	}

	// Waits for events without opening a span for the idle time.
	batch, err := c.store.Read(ctx, c.stream, offset, c.opts.batchSize, -1)
	if err != nil {
		return fmt.Errorf("read stream %s: %w", c.stream, err)
	}
	if len(batch) == 0 {
		return nil
	}
	if first, ok := batch[0].Offset(); ok && c.next.IsSentinel() {
		// Pin the sentinel so a failed batch is read again from here.
		c.next = first
	}

	ctx, span := c.opts.spans.StartBatchSpan(ctx, c.opts.name)
	start := time.Now()
	elapsed := observability.TimedOperation()
	defer func() {
		c.opts.spans.EndSpanWithError(span, err)
		c.opts.metrics.RecordBatch(ctx, c.opts.name, len(batch), time.Since(start), err)
	}()

	for _, ec := range batch {
		if err := c.dispatcher.Process(ctx, ec); err != nil {
			return err
		}
	}

	last, ok := batch[len(batch)-1].Offset()
	if !ok {
		return fmt.Errorf("stream %s returned an event without an offset", c.stream)
	}

	saveCtx := context.WithoutCancel(ctx)
	if err := c.checkpoints.Save(saveCtx, c.opts.name, c.stream, last); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	c.next = last + 1

	if cs, ok := c.store.(eventflow.CommittableStore); ok && c.opts.commit {
		if err := cs.Commit(saveCtx, c.stream, last); err != nil {
			return fmt.Errorf("commit stream %s: %w", c.stream, err)
		}
	}

	observability.LogBatchCommitted(c.opts.logger, c.opts.name, len(batch), int64(last), elapsed())
	return nil
}
