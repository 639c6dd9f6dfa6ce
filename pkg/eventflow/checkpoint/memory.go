package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
)

// MemoryStore keeps positions in memory. They are lost when the process
// exits, so a restarted consumer starts from its initial offset.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string]position // consumer -> stream -> position
	closed bool
}

type position struct {
	offset    eventflow.Offset
	sequence  int
	updatedAt time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]position),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, consumer, stream string, offset eventflow.Offset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if m.data[consumer] == nil {
		m.data[consumer] = make(map[string]position)
	}

	seq := 1
	for _, p := range m.data[consumer] {
		if p.sequence >= seq {
			seq = p.sequence + 1
		}
	}

	m.data[consumer][stream] = position{
		offset:    offset,
		sequence:  seq,
		updatedAt: time.Now().UTC(),
	}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, consumer, stream string) (eventflow.Offset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	p, ok := m.data[consumer][stream]
	if !ok {
		return 0, ErrNotFound
	}
	return p.offset, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, consumer string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	streams := m.data[consumer]
	infos := make([]Info, 0, len(streams))
	for stream, p := range streams {
		infos = append(infos, Info{
			Consumer:  consumer,
			Stream:    stream,
			Offset:    p.offset,
			Sequence:  p.sequence,
			UpdatedAt: p.updatedAt,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Sequence < infos[j].Sequence
	})
	return infos, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, consumer, stream string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data[consumer], stream)
	return nil
}

// DeleteConsumer implements Store.
func (m *MemoryStore) DeleteConsumer(_ context.Context, consumer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data, consumer)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the number of positions across all consumers.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, streams := range m.data {
		count += len(streams)
	}
	return count
}
