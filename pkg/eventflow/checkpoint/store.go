// Package checkpoint persists consumer positions, so a consumer that
// restarts resumes reading a stream after the last event it processed.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
)

// Store persists the last processed offset per consumer and stream.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save records offset for (consumer, stream), replacing any earlier
	// value.
	Save(ctx context.Context, consumer, stream string, offset eventflow.Offset) error

	// Load returns the saved offset.
	// Returns ErrNotFound if nothing was saved.
	Load(ctx context.Context, consumer, stream string) (eventflow.Offset, error)

	// List returns all positions of a consumer, least recently saved first.
	// Returns empty slice (not error) for an unknown consumer.
	List(ctx context.Context, consumer string) ([]Info, error)

	// Delete removes one position.
	// Returns nil if it doesn't exist.
	Delete(ctx context.Context, consumer, stream string) error

	// DeleteConsumer removes every position of a consumer.
	DeleteConsumer(ctx context.Context, consumer string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info describes one saved position.
type Info struct {
	Consumer string
	Stream   string
	Offset   eventflow.Offset
	// Sequence orders saves within a consumer; the latest save is highest.
	Sequence  int
	UpdatedAt time.Time
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates no position was saved.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
