package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
)

// MemoryStore keeps streams in process memory. Committed entries are
// dropped; everything is lost when the process exits.
type MemoryStore struct {
	mu      sync.Mutex
	streams map[string]*memoryStream
}

// Compile-time interface check.
var _ eventflow.CommittableStore = (*MemoryStore)(nil)

type memoryStream struct {
	base      eventflow.Offset // offset of entries[0]
	entries   []memoryEntry
	committed eventflow.Offset

	// notify is closed and replaced on every append.
	notify chan struct{}
}

type memoryEntry struct {
	descriptor *eventflow.Descriptor
	event      eventflow.Event
	items      map[string]any
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string]*memoryStream)}
}

// stream returns the named stream, creating it. Caller must hold s.mu.
func (s *MemoryStore) stream(name string) *memoryStream {
	st, ok := s.streams[name]
	if !ok {
		st = &memoryStream{
			committed: eventflow.OffsetStart,
			notify:    make(chan struct{}),
		}
		s.streams[name] = st
	}
	return st
}

func (st *memoryStream) tail() eventflow.Offset {
	return st.base + eventflow.Offset(len(st.entries))
}

// Write appends events to their streams, records each offset on its
// context, and wakes readers waiting on those streams.
func (s *MemoryStore) Write(ctx context.Context, events []*eventflow.EventContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, batch := range groupByStream(events) {
		st := s.stream(batch.stream)
		for _, ec := range batch.events {
			ec.SetOffset(st.tail())
			st.entries = append(st.entries, memoryEntry{
				descriptor: ec.Descriptor(),
				event:      ec.Event(),
				items:      ec.PublicItems(),
			})
		}
		close(st.notify)
		st.notify = make(chan struct{})
	}
	return nil
}

// Read implements eventflow.Store. OffsetNext is resolved to the stream's
// tail once, when Read is called.
func (s *MemoryStore) Read(ctx context.Context, stream string, offset eventflow.Offset, limit int, timeout time.Duration) ([]*eventflow.EventContext, error) {
	if limit < 1 {
		limit = 1
	}

	s.mu.Lock()
	st := s.stream(stream)
	from := offset
	switch offset {
	case eventflow.OffsetStart:
		from = st.base
	case eventflow.OffsetNext:
		from = st.tail()
	}
	s.mu.Unlock()

	expired, stop := deadline(timeout)
	defer stop()

	for {
		s.mu.Lock()
		if from < st.base {
			from = st.base
		}
		if from < st.tail() {
			batch, err := s.collect(st, stream, from, limit)
			s.mu.Unlock()
			return batch, err
		}
		notify := st.notify
		s.mu.Unlock()

		if timeout == 0 {
			return nil, nil
		}
		select {
		case <-notify:
		case <-expired:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// collect builds fresh contexts for entries from from. Caller must hold s.mu.
func (s *MemoryStore) collect(st *memoryStream, stream string, from eventflow.Offset, limit int) ([]*eventflow.EventContext, error) {
	start := int(from - st.base)
	end := min(start+limit, len(st.entries))

	batch := make([]*eventflow.EventContext, 0, end-start)
	for i := start; i < end; i++ {
		e := st.entries[i]
		ec, err := eventflow.NewEventContext(e.descriptor, e.event)
		if err != nil {
			return nil, err
		}
		for k, v := range e.items {
			ec.SetItem(k, v)
		}
		if err := eventflow.MarkStored(ec, stream, st.base+eventflow.Offset(i)); err != nil {
			return nil, err
		}
		batch = append(batch, ec)
	}
	return batch, nil
}

// Commit drops every entry of stream at or below offset. Offsets at or
// below the current mark are ignored; offsets past the newest entry fail
// with ErrInvalidOffset.
func (s *MemoryStore) Commit(ctx context.Context, stream string, offset eventflow.Offset) error {
	if offset < 0 {
		return eferrors.Protocol(fmt.Errorf("%v: %w", offset, ErrInvalidOffset), "store commit")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(stream)
	if offset <= st.committed {
		return nil
	}
	if offset >= st.tail() {
		return eferrors.Protocol(fmt.Errorf("%v: %w", offset, ErrInvalidOffset), "store commit")
	}
	if n := int(offset - st.base + 1); n > 0 {
		clear(st.entries[:n])
		st.entries = st.entries[n:]
		st.base += eventflow.Offset(n)
	}
	st.committed = offset
	return nil
}

// Committed implements eventflow.CommittableStore.
func (s *MemoryStore) Committed(_ context.Context, stream string) (eventflow.Offset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.streams[stream]; ok {
		return st.committed, nil
	}
	return eventflow.OffsetStart, nil
}

// Len returns the number of retained entries in stream.
func (s *MemoryStore) Len(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.streams[stream]; ok {
		return len(st.entries)
	}
	return 0
}

// Streams returns the names of all streams, sorted.
func (s *MemoryStore) Streams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.streams))
}
