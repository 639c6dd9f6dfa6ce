// Package queue provides Queue transports: an in-memory channel for a
// single process and a relational queue that survives restarts.
package queue

import (
	"context"
	"errors"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
)

// DefaultCapacity is the MemoryQueue buffer size.
const DefaultCapacity = 1024

// Sentinel errors.
var (
	// ErrReadPending is returned by Read while an earlier read is
	// neither committed nor aborted.
	ErrReadPending = errors.New("read already pending")

	// ErrNoPendingRead is returned by CommitRead without a pending read.
	ErrNoPendingRead = errors.New("no pending read")

	// ErrMissingOffset is returned when a committed context carries no offset.
	ErrMissingOffset = errors.New("event context has no offset")

	// ErrNotInBatch is returned by CommitRead for a context that was not
	// delivered by the pending read.
	ErrNotInBatch = errors.New("event context is not part of the pending read")

	// ErrTopicTooLong is returned when a topic exceeds MaxTopicLength.
	ErrTopicTooLong = errors.New("topic too long")
)

// MemoryQueue is a bounded FIFO channel. Writes block while it is full.
// It supports a single reader; concurrent readers see an undefined
// interleaving. Commit and abort are no-ops, so events read and then lost
// to a crash are gone.
type MemoryQueue struct {
	ch chan *eventflow.EventContext
}

// Compile-time interface check.
var _ eventflow.Queue = (*MemoryQueue)(nil)

// MemoryOption configures a MemoryQueue.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	capacity int
}

// WithCapacity sets the buffer size. Values below 1 are ignored.
func WithCapacity(n int) MemoryOption {
	return func(c *memoryConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// NewMemoryQueue creates a MemoryQueue.
func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	cfg := memoryConfig{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryQueue{ch: make(chan *eventflow.EventContext, cfg.capacity)}
}

// Write enqueues events in order, waiting for space when the buffer is full.
// On cancellation the events already enqueued stay queued.
func (q *MemoryQueue) Write(ctx context.Context, events []*eventflow.EventContext) error {
	for _, ec := range events {
		select {
		case q.ch <- ec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Read waits for the first event, then takes up to limit-1 more without
// waiting. It never returns an empty batch without an error.
func (q *MemoryQueue) Read(ctx context.Context, limit int) ([]*eventflow.EventContext, error) {
	if limit < 1 {
		limit = 1
	}

	var first *eventflow.EventContext
	select {
	case first = <-q.ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	batch := make([]*eventflow.EventContext, 1, min(limit, len(q.ch)+1))
	batch[0] = first
	for len(batch) < limit {
		select {
		case ec := <-q.ch:
			batch = append(batch, ec)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// CommitRead is a no-op.
func (q *MemoryQueue) CommitRead(context.Context, *eventflow.EventContext) error { return nil }

// AbortRead is a no-op.
func (q *MemoryQueue) AbortRead(context.Context) error { return nil }

// Len returns the number of buffered events.
func (q *MemoryQueue) Len() int { return len(q.ch) }
