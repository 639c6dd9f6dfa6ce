package eventflow_test

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
)

func TestPipeline_BehaviorOrder(t *testing.T) {
	_, f := newTestFactory(t)
	rec := &recorder{}

	p := eventflow.NewPipeline(
		[]eventflow.Behavior{
			namedBehavior{name: "first", rec: rec},
			namedBehavior{name: "second", rec: rec},
		},
		[]eventflow.Handler[orderPlaced]{
			eventflow.HandlerFunc[orderPlaced](func(_ context.Context, evt orderPlaced, _ *eventflow.EventContext) error {
				rec.add("handler-a:" + evt.OrderID)
				return nil
			}),
			eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
				rec.add("handler-b")
				return nil
			}),
		},
	)

	require.NoError(t, p.Process(context.Background(), newContext(t, f, orderPlaced{OrderID: "o-1"})))

	assert.Equal(t, []string{
		"first:in", "second:in",
		"handler-a:o-1", "handler-b",
		"second:out", "first:out",
	}, rec.get())
}

func TestPipeline_ShortCircuitIsLogged(t *testing.T) {
	_, f := newTestFactory(t)
	rec := &recorder{}
	logs := &logCapture{}

	handled := false
	p := eventflow.NewPipeline(
		[]eventflow.Behavior{namedBehavior{name: "outer", rec: rec}, stopBehavior{}, namedBehavior{name: "never", rec: rec}},
		[]eventflow.Handler[orderPlaced]{
			eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
				handled = true
				return nil
			}),
		},
		eventflow.WithLogger(slog.New(logs)),
	)

	require.NoError(t, p.Process(context.Background(), newContext(t, f, orderPlaced{})))

	assert.False(t, handled)
	assert.Equal(t, []string{"outer:in", "outer:out"}, rec.get())

	attrs, ok := logs.find("event pipeline short-circuited")
	require.True(t, ok, "short-circuit must be logged")
	assert.Equal(t, "stopper", attrs["behavior"])
	_, ok = logs.find("event pipeline completed")
	assert.False(t, ok)
}

func TestPipeline_ErrorPropagatesAfterLogging(t *testing.T) {
	_, f := newTestFactory(t)
	logs := &logCapture{}
	boom := errors.New("boom")

	secondCalled := false
	p := eventflow.NewPipeline(nil,
		[]eventflow.Handler[orderPlaced]{
			eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
				return boom
			}),
			eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
				secondCalled = true
				return nil
			}),
		},
		eventflow.WithLogger(slog.New(logs)),
	)

	err := p.Process(context.Background(), newContext(t, f, orderPlaced{}))
	require.ErrorIs(t, err, boom)
	assert.False(t, secondCalled)

	var handlerErr *eferrors.HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, "order.placed", handlerErr.Event)

	attrs, ok := logs.find("event pipeline failed")
	require.True(t, ok)
	assert.Equal(t, "order.placed", attrs["event"])
	assert.Contains(t, attrs["error"], "boom")
	assert.Contains(t, attrs, "duration_ms")
}

func TestPipeline_StopsAfterCancellation(t *testing.T) {
	_, f := newTestFactory(t)
	logs := &logCapture{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secondCalled := false
	p := eventflow.NewPipeline(nil,
		[]eventflow.Handler[orderPlaced]{
			eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
				cancel()
				return nil
			}),
			eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
				secondCalled = true
				return nil
			}),
		},
		eventflow.WithLogger(slog.New(logs)),
	)

	err := p.Process(ctx, newContext(t, f, orderPlaced{}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, secondCalled)

	_, ok := logs.find("event pipeline canceled")
	assert.True(t, ok)
	_, ok = logs.find("event pipeline failed")
	assert.False(t, ok, "cancellation is not logged as a failure")
}

func TestPipeline_AmbientContext(t *testing.T) {
	_, f := newTestFactory(t)
	ec := newContext(t, f, orderPlaced{})

	var seen *eventflow.EventContext
	p := eventflow.NewPipeline(nil, []eventflow.Handler[orderPlaced]{
		eventflow.HandlerFunc[orderPlaced](func(ctx context.Context, _ orderPlaced, _ *eventflow.EventContext) error {
			seen, _ = eventflow.FromContext(ctx)
			return nil
		}),
	})

	ctx := context.Background()
	require.NoError(t, p.Process(ctx, ec))
	assert.Same(t, ec, seen)

	_, ok := eventflow.FromContext(ctx)
	assert.False(t, ok, "the caller's context is never modified")
}

func TestPipeline_RejectsOtherType(t *testing.T) {
	_, f := newTestFactory(t)
	p := eventflow.NewPipeline[orderPlaced](nil, nil)

	err := p.Process(context.Background(), newContext(t, f, orderShipped{}))
	assert.ErrorIs(t, err, eventflow.ErrTypeMismatch)
}

func TestPipelineRegistry_Resolve(t *testing.T) {
	_, f := newTestFactory(t)
	rec := &recorder{}

	r := eventflow.NewPipelineRegistry()
	r.Use(namedBehavior{name: "global", rec: rec})
	eventflow.UseFor[orderPlaced](r, namedBehavior{name: "placed-only", rec: rec})
	eventflow.HandleWith[orderPlaced](r, eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
		rec.add("placed-handler")
		return nil
	}))

	t.Run("cached per type", func(t *testing.T) {
		a := r.Resolve(reflect.TypeFor[orderPlaced]())
		b := r.Resolve(reflect.TypeFor[orderPlaced]())
		assert.Same(t, a, b)
		assert.Equal(t, reflect.TypeFor[orderPlaced](), a.EventType())
	})

	t.Run("global before specific", func(t *testing.T) {
		rec.calls = nil
		require.NoError(t, r.Process(context.Background(), newContext(t, f, orderPlaced{})))
		assert.Equal(t, []string{
			"global:in", "placed-only:in", "placed-handler", "placed-only:out", "global:out",
		}, rec.get())
	})

	t.Run("unregistered type gets behaviors only", func(t *testing.T) {
		rec.calls = nil
		require.NoError(t, r.Process(context.Background(), newContext(t, f, orderShipped{})))
		assert.Equal(t, []string{"global:in", "global:out"}, rec.get())
	})

	t.Run("registration invalidates cache", func(t *testing.T) {
		before := r.Resolve(reflect.TypeFor[orderPlaced]())
		eventflow.HandleWith[orderPlaced](r, eventflow.HandlerFunc[orderPlaced](func(context.Context, orderPlaced, *eventflow.EventContext) error {
			return nil
		}))
		after := r.Resolve(reflect.TypeFor[orderPlaced]())
		assert.NotSame(t, before, after)
	})
}

func TestPipelineRegistry_ConcurrentResolve(t *testing.T) {
	r := eventflow.NewPipelineRegistry()
	eventflow.HandleWith[orderPlaced](r)

	const goroutines = 32
	results := make([]eventflow.Processor, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(reflect.TypeFor[orderPlaced]())
		}(i)
	}
	wg.Wait()

	for _, p := range results {
		assert.Same(t, results[0], p)
	}
}
