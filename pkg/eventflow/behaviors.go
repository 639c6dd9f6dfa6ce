package eventflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
)

// CancelBehavior equips events declared Cancelable with the Cancelable
// feature. When a handler calls Cancel, the rest of the chain sees a
// canceled context and the pipeline fails with an error matching both
// ErrEventCanceled and context.Canceled.
type CancelBehavior struct{}

// Name implements Named.
func (CancelBehavior) Name() string { return "cancel" }

// Handle implements Behavior.
func (CancelBehavior) Handle(ctx context.Context, ec *EventContext, next NextFunc) error {
	if !ec.Descriptor().Cancelable() {
		return next(ctx, ec)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	feature := &cancelFeature{cancel: cancel}
	if err := AddFeature[Cancelable](ec, feature); err != nil {
		return err
	}
	defer RemoveFeature[Cancelable](ec)

	err := next(ctx, ec)
	if feature.Canceled() && context.Cause(ctx) == errSelfCanceled {
		return fmt.Errorf("%s: %w: %w", ec.Name(), ErrEventCanceled, context.Canceled)
	}
	return err
}

var errSelfCanceled = fmt.Errorf("canceled by handler: %w", context.Canceled)

type cancelFeature struct {
	cancel   context.CancelCauseFunc
	canceled atomic.Bool
}

func (f *cancelFeature) Cancel() {
	f.canceled.Store(true)
	f.cancel(errSelfCanceled)
}

func (f *cancelFeature) Canceled() bool {
	return f.canceled.Load()
}

// LoggingBehavior logs each event as it enters and leaves the chain.
type LoggingBehavior struct {
	logger *slog.Logger
}

// NewLoggingBehavior creates a LoggingBehavior. A nil logger uses slog.Default().
func NewLoggingBehavior(logger *slog.Logger) *LoggingBehavior {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingBehavior{logger: logger}
}

// Name implements Named.
func (*LoggingBehavior) Name() string { return "logging" }

// Handle implements Behavior.
func (b *LoggingBehavior) Handle(ctx context.Context, ec *EventContext, next NextFunc) error {
	logger := observability.EnrichLogger(b.logger, ec.Name(), ec.ID())
	logger.DebugContext(ctx, "event processing started")

	if err := next(ctx, ec); err != nil {
		if eferrors.IsCanceled(err) {
			logger.InfoContext(ctx, "event processing canceled")
		} else {
			logger.ErrorContext(ctx, "event handling failed", slog.String("error", err.Error()))
		}
		return err
	}

	logger.DebugContext(ctx, "event handled")
	return nil
}

// StoreBehavior replaces dispatch with a store write for persistent events.
// Contexts already read from a store pass through, so redelivered events are
// handled rather than stored again.
type StoreBehavior struct {
	store Store
}

// NewStoreBehavior creates a StoreBehavior writing to store.
func NewStoreBehavior(store Store) *StoreBehavior {
	return &StoreBehavior{store: store}
}

// Name implements Named.
func (*StoreBehavior) Name() string { return "store" }

// Handle implements Behavior.
func (b *StoreBehavior) Handle(ctx context.Context, ec *EventContext, next NextFunc) error {
	if !ec.Descriptor().Persistent() || IsStored(ec) {
		return next(ctx, ec)
	}
	if b.store == nil {
		return fmt.Errorf("store %s: %w", ec.Name(), ErrNoStore)
	}
	if err := b.store.Write(ctx, []*EventContext{ec}); err != nil {
		return fmt.Errorf("store %s: %w", ec.Name(), err)
	}
	return nil
}

// HandlerPhase runs handlers around next: before it for pre-handlers, after
// it succeeds for post-handlers. The first failing handler stops the phase.
type HandlerPhase[T Event] struct {
	name     string
	post     bool
	handlers []Handler[T]
}

// PreHandlers returns a behavior running handlers before the rest of the chain.
func PreHandlers[T Event](handlers ...Handler[T]) *HandlerPhase[T] {
	return &HandlerPhase[T]{name: "pre-handlers", handlers: handlers}
}

// PostHandlers returns a behavior running handlers after the rest of the
// chain succeeds.
func PostHandlers[T Event](handlers ...Handler[T]) *HandlerPhase[T] {
	return &HandlerPhase[T]{name: "post-handlers", post: true, handlers: handlers}
}

// Name implements Named.
func (b *HandlerPhase[T]) Name() string { return b.name }

// Handle implements Behavior. Events that are not T pass through.
func (b *HandlerPhase[T]) Handle(ctx context.Context, ec *EventContext, next NextFunc) error {
	evt, ok := ec.Event().(T)
	if !ok {
		return next(ctx, ec)
	}
	if !b.post {
		if err := b.run(ctx, evt, ec); err != nil {
			return err
		}
		return next(ctx, ec)
	}
	if err := next(ctx, ec); err != nil {
		return err
	}
	return b.run(ctx, evt, ec)
}

func (b *HandlerPhase[T]) run(ctx context.Context, evt T, ec *EventContext) error {
	for _, h := range b.handlers {
		if err := h.Handle(ctx, evt, ec); err != nil {
			return &eferrors.HandlerError{Handler: handlerName(h), Event: ec.Name(), Err: err}
		}
	}
	return nil
}

// RecoverBehavior turns panics further down the chain into *errors.PanicError.
type RecoverBehavior struct{}

// Name implements Named.
func (RecoverBehavior) Name() string { return "recover" }

// Handle implements Behavior.
func (RecoverBehavior) Handle(ctx context.Context, ec *EventContext, next NextFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &eferrors.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return next(ctx, ec)
}

// TimeoutBehavior bounds the rest of the chain to a fixed duration.
type TimeoutBehavior struct {
	timeout time.Duration
}

// NewTimeoutBehavior creates a TimeoutBehavior. A non-positive timeout
// disables it.
func NewTimeoutBehavior(timeout time.Duration) *TimeoutBehavior {
	return &TimeoutBehavior{timeout: timeout}
}

// Name implements Named.
func (*TimeoutBehavior) Name() string { return "timeout" }

// Handle implements Behavior.
func (b *TimeoutBehavior) Handle(ctx context.Context, ec *EventContext, next NextFunc) error {
	if b.timeout <= 0 {
		return next(ctx, ec)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	err := next(ctx, ec)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return &eferrors.TimeoutError{Operation: "process " + ec.Name(), Duration: b.timeout}
	}
	return err
}
