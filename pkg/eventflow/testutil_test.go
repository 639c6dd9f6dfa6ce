package eventflow_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
)

// Test events.

type orderPlaced struct {
	OrderID string `json:"order_id"`
}

func (orderPlaced) EventName() string { return "order.placed" }

type orderShipped struct {
	OrderID string `json:"order_id"`
}

func (orderShipped) EventName() string { return "order.shipped" }

type auditRecorded struct {
	Note string `json:"note"`
}

func (*auditRecorded) EventName() string { return "audit.recorded" }

type notAnEvent struct{}

// newTestFactory declares the test events: orderShipped is persistent,
// auditRecorded is cancelable.
func newTestFactory(t *testing.T) (*eventflow.Catalog, *eventflow.DescriptorFactory) {
	t.Helper()
	catalog := eventflow.NewCatalog()
	require.NoError(t, eventflow.Declare[orderPlaced](catalog))
	require.NoError(t, eventflow.Declare[orderShipped](catalog, eventflow.Persistent(), eventflow.InStream("orders")))
	require.NoError(t, eventflow.Declare[*auditRecorded](catalog, eventflow.CancelableEvent(), eventflow.WithTopic("audit")))
	return catalog, eventflow.NewDescriptorFactory(catalog)
}

func newContext(t *testing.T, f *eventflow.DescriptorFactory, evt eventflow.Event) *eventflow.EventContext {
	t.Helper()
	d, err := f.DescriptorFor(evt)
	require.NoError(t, err)
	ec, err := eventflow.NewEventContext(d, evt)
	require.NoError(t, err)
	return ec
}

// recorder collects the order in which behaviors and handlers ran.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// namedBehavior records entry and exit around next.
type namedBehavior struct {
	name string
	rec  *recorder
}

func (b namedBehavior) Name() string { return b.name }

func (b namedBehavior) Handle(ctx context.Context, ec *eventflow.EventContext, next eventflow.NextFunc) error {
	b.rec.add(b.name + ":in")
	err := next(ctx, ec)
	b.rec.add(b.name + ":out")
	return err
}

// stopBehavior never calls next.
type stopBehavior struct{}

func (stopBehavior) Name() string { return "stopper" }

func (stopBehavior) Handle(context.Context, *eventflow.EventContext, eventflow.NextFunc) error {
	return nil
}

// memStore is a minimal Store recording writes.
type memStore struct {
	mu     sync.Mutex
	writes []*eventflow.EventContext
}

func (s *memStore) Write(_ context.Context, events []*eventflow.EventContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, events...)
	return nil
}

func (s *memStore) Read(context.Context, string, eventflow.Offset, int, time.Duration) ([]*eventflow.EventContext, error) {
	return nil, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// fakeQueue records writes.
type fakeQueue struct {
	mu      sync.Mutex
	written []*eventflow.EventContext
	err     error
}

func (q *fakeQueue) Write(_ context.Context, events []*eventflow.EventContext) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.written = append(q.written, events...)
	return nil
}

func (q *fakeQueue) Read(ctx context.Context, _ int) ([]*eventflow.EventContext, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *fakeQueue) CommitRead(context.Context, *eventflow.EventContext) error { return nil }
func (q *fakeQueue) AbortRead(context.Context) error                           { return nil }

// logCapture is a slog.Handler keeping records in memory.
type logCapture struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *logCapture) Enabled(context.Context, slog.Level) bool { return true }

func (h *logCapture) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *logCapture) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *logCapture) WithGroup(string) slog.Handler      { return h }

// find returns the attributes of the first record with msg.
func (h *logCapture) find(msg string) (map[string]any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Message != msg {
			continue
		}
		attrs := make(map[string]any)
		r.Attrs(func(a slog.Attr) bool {
			attrs[a.Key] = a.Value.Any()
			return true
		})
		return attrs, true
	}
	return nil, false
}
