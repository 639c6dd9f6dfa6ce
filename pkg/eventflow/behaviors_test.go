package eventflow_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
)

func TestCancelBehavior(t *testing.T) {
	_, f := newTestFactory(t)

	t.Run("handler cancels its own event", func(t *testing.T) {
		laterCalled := false
		p := eventflow.NewPipeline(
			[]eventflow.Behavior{eventflow.CancelBehavior{}},
			[]eventflow.Handler[*auditRecorded]{
				eventflow.HandlerFunc[*auditRecorded](func(_ context.Context, _ *auditRecorded, ec *eventflow.EventContext) error {
					c, ok := eventflow.Feature[eventflow.Cancelable](ec)
					require.True(t, ok)
					c.Cancel()
					return nil
				}),
				eventflow.HandlerFunc[*auditRecorded](func(context.Context, *auditRecorded, *eventflow.EventContext) error {
					laterCalled = true
					return nil
				}),
			},
		)

		ec := newContext(t, f, &auditRecorded{})
		err := p.Process(context.Background(), ec)
		assert.ErrorIs(t, err, eventflow.ErrEventCanceled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, laterCalled)

		_, ok := eventflow.Feature[eventflow.Cancelable](ec)
		assert.False(t, ok, "feature is removed once the chain returns")
	})

	t.Run("caller cancellation is not an event cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := eventflow.NewPipeline(
			[]eventflow.Behavior{eventflow.CancelBehavior{}},
			[]eventflow.Handler[*auditRecorded]{
				eventflow.HandlerFunc[*auditRecorded](func(context.Context, *auditRecorded, *eventflow.EventContext) error {
					cancel()
					return nil
				}),
			},
		)

		err := p.Process(ctx, newContext(t, f, &auditRecorded{}))
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, eventflow.ErrEventCanceled)
	})

	t.Run("non-cancelable events get no feature", func(t *testing.T) {
		var found bool
		p := eventflow.NewPipeline(
			[]eventflow.Behavior{eventflow.CancelBehavior{}},
			[]eventflow.Handler[orderPlaced]{
				eventflow.HandlerFunc[orderPlaced](func(_ context.Context, _ orderPlaced, ec *eventflow.EventContext) error {
					_, found = eventflow.Feature[eventflow.Cancelable](ec)
					return nil
				}),
			},
		)

		require.NoError(t, p.Process(context.Background(), newContext(t, f, orderPlaced{})))
		assert.False(t, found)
	})
}

func TestStoreBehavior(t *testing.T) {
	_, f := newTestFactory(t)

	newRegistry := func(store eventflow.Store, handled *int) *eventflow.PipelineRegistry {
		r := eventflow.NewPipelineRegistry()
		r.Use(eventflow.NewStoreBehavior(store))
		eventflow.HandleWith[orderShipped](r, eventflow.HandlerFunc[orderShipped](func(context.Context, orderShipped, *eventflow.EventContext) error {
			*handled++
			return nil
		}))
		eventflow.HandleWith[orderPlaced](r, eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
			*handled++
			return nil
		}))
		return r
	}

	t.Run("persistent event is stored instead of handled", func(t *testing.T) {
		store := &memStore{}
		handled := 0
		r := newRegistry(store, &handled)

		require.NoError(t, r.Process(context.Background(), newContext(t, f, orderShipped{OrderID: "o-1"})))
		assert.Equal(t, 1, store.count())
		assert.Equal(t, 0, handled)
	})

	t.Run("stored event is handled, not stored again", func(t *testing.T) {
		store := &memStore{}
		handled := 0
		r := newRegistry(store, &handled)

		ec := newContext(t, f, orderShipped{OrderID: "o-1"})
		require.NoError(t, eventflow.MarkStored(ec, "orders", 0))
		require.NoError(t, r.Process(context.Background(), ec))
		assert.Equal(t, 0, store.count())
		assert.Equal(t, 1, handled)
	})

	t.Run("non-persistent event passes through", func(t *testing.T) {
		store := &memStore{}
		handled := 0
		r := newRegistry(store, &handled)

		require.NoError(t, r.Process(context.Background(), newContext(t, f, orderPlaced{})))
		assert.Equal(t, 0, store.count())
		assert.Equal(t, 1, handled)
	})

	t.Run("missing store", func(t *testing.T) {
		handled := 0
		r := newRegistry(nil, &handled)

		err := r.Process(context.Background(), newContext(t, f, orderShipped{}))
		assert.ErrorIs(t, err, eventflow.ErrNoStore)
	})
}

func TestHandlerPhases(t *testing.T) {
	_, f := newTestFactory(t)
	rec := &recorder{}

	step := func(name string) eventflow.Handler[orderPlaced] {
		return eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
			rec.add(name)
			return nil
		})
	}

	r := eventflow.NewPipelineRegistry()
	r.Use(
		eventflow.PreHandlers(step("validate")),
		eventflow.PostHandlers(step("notify")),
	)
	eventflow.HandleWith(r, step("handle"))

	require.NoError(t, r.Process(context.Background(), newContext(t, f, orderPlaced{})))
	assert.Equal(t, []string{"validate", "handle", "notify"}, rec.get())

	t.Run("post handlers skipped on failure", func(t *testing.T) {
		rec.calls = nil
		boom := errors.New("boom")
		p := eventflow.NewPipeline(
			[]eventflow.Behavior{eventflow.PostHandlers(step("notify"))},
			[]eventflow.Handler[orderPlaced]{
				eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
					return boom
				}),
			},
		)
		assert.ErrorIs(t, p.Process(context.Background(), newContext(t, f, orderPlaced{})), boom)
		assert.Empty(t, rec.get())
	})

	t.Run("other event types pass through", func(t *testing.T) {
		rec.calls = nil
		require.NoError(t, r.Process(context.Background(), newContext(t, f, orderShipped{})))
		assert.Empty(t, rec.get())
	})
}

func TestRecoverBehavior(t *testing.T) {
	_, f := newTestFactory(t)
	p := eventflow.NewPipeline(
		[]eventflow.Behavior{eventflow.RecoverBehavior{}},
		[]eventflow.Handler[orderPlaced]{
			eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
				panic("kaboom")
			}),
		},
	)

	err := p.Process(context.Background(), newContext(t, f, orderPlaced{}))
	var panicErr *eferrors.PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.False(t, eferrors.IsRetryable(err))
}

func TestTimeoutBehavior(t *testing.T) {
	_, f := newTestFactory(t)
	p := eventflow.NewPipeline(
		[]eventflow.Behavior{eventflow.NewTimeoutBehavior(10 * time.Millisecond)},
		[]eventflow.Handler[orderPlaced]{
			eventflow.HandlerFunc[orderPlaced](func(ctx context.Context, _ orderPlaced, _ *eventflow.EventContext) error {
				<-ctx.Done()
				return ctx.Err()
			}),
		},
	)

	err := p.Process(context.Background(), newContext(t, f, orderPlaced{}))
	var timeoutErr *eferrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 10*time.Millisecond, timeoutErr.Duration)
	assert.True(t, eferrors.IsRetryable(err))
}

func TestLoggingBehavior(t *testing.T) {
	_, f := newTestFactory(t)
	logs := &logCapture{}
	boom := errors.New("boom")

	p := eventflow.NewPipeline(
		[]eventflow.Behavior{eventflow.NewLoggingBehavior(slog.New(logs))},
		[]eventflow.Handler[orderPlaced]{
			eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
				return boom
			}),
		},
	)

	require.ErrorIs(t, p.Process(context.Background(), newContext(t, f, orderPlaced{})), boom)

	_, ok := logs.find("event processing started")
	assert.True(t, ok)
	attrs, ok := logs.find("event handling failed")
	require.True(t, ok)
	assert.Contains(t, attrs["error"], "boom")
}
