// Package store provides committable event stores: an in-memory log for
// tests and single processes, and a Redis-backed log shared between
// processes.
//
// Streams are independent append-only sequences keyed by name; the empty
// name is the default stream. Offsets start at 0 in every stream.
package store

import (
	"errors"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
)

// ErrInvalidOffset is returned when Commit is given a sentinel offset or
// one that was never written.
var ErrInvalidOffset = errors.New("commit needs a concrete offset")

// streamBatch is the part of one Write destined for one stream.
type streamBatch struct {
	stream string
	events []*eventflow.EventContext
}

// groupByStream splits events by target stream, keeping write order inside
// each stream and first-seen order across streams.
func groupByStream(events []*eventflow.EventContext) []streamBatch {
	var batches []streamBatch
	index := make(map[string]int)
	for _, ec := range events {
		name := ec.Stream()
		i, ok := index[name]
		if !ok {
			i = len(batches)
			index[name] = i
			batches = append(batches, streamBatch{stream: name})
		}
		batches[i].events = append(batches[i].events, ec)
	}
	return batches
}

// deadline returns a channel closed after timeout, or nil for a negative
// timeout, and a func releasing the timer.
func deadline(timeout time.Duration) (<-chan time.Time, func()) {
	if timeout < 0 {
		return nil, func() {}
	}
	t := time.NewTimer(timeout)
	return t.C, func() { t.Stop() }
}
