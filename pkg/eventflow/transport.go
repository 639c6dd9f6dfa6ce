package eventflow

import (
	"context"
	"time"
)

// Queue holds events awaiting background processing.
//
// A queue has a single reader. Every successful Read must be followed by
// exactly one CommitRead or AbortRead before the next Read.
type Queue interface {
	// Write enqueues events in order.
	Write(ctx context.Context, events []*EventContext) error

	// Read blocks until at least one event is available, then returns up
	// to limit events. It fails only on ctx cancellation or transport error,
	// never with an empty batch.
	Read(ctx context.Context, limit int) ([]*EventContext, error)

	// CommitRead acknowledges ec and every event read before it.
	CommitRead(ctx context.Context, ec *EventContext) error

	// AbortRead releases the pending read so its events are delivered again.
	AbortRead(ctx context.Context) error
}

// Store is an append-only log partitioned into named streams.
type Store interface {
	// Write appends events to the streams named by their metadata.
	Write(ctx context.Context, events []*EventContext) error

	// Read returns up to limit events of stream at or after offset. When none
	// exist yet it waits up to timeout for new ones and returns an empty
	// slice if none arrive. A negative timeout waits until ctx is done; zero
	// does not wait. Returned contexts carry the Stored feature.
	Read(ctx context.Context, stream string, offset Offset, limit int, timeout time.Duration) ([]*EventContext, error)
}

// CommittableStore is a Store with a low-water mark per stream.
type CommittableStore interface {
	Store

	// Commit marks every entry of stream at or below offset as processed.
	// Committed entries may be purged. The mark never moves backwards and
	// never passes the newest written entry.
	Commit(ctx context.Context, stream string, offset Offset) error

	// Committed returns the current mark, or OffsetStart if nothing has
	// been committed.
	Committed(ctx context.Context, stream string) (Offset, error)
}
