package eventflow

import (
	"context"
	"fmt"
	"reflect"
	"time"

	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
)

// NextFunc invokes the remainder of a pipeline.
type NextFunc func(ctx context.Context, ec *EventContext) error

// Behavior is one stage of a pipeline. It may act before and after calling
// next, or return without calling it to end processing early.
type Behavior interface {
	Handle(ctx context.Context, ec *EventContext, next NextFunc) error
}

// BehaviorFunc adapts a function to Behavior.
type BehaviorFunc func(ctx context.Context, ec *EventContext, next NextFunc) error

// Handle calls f.
func (f BehaviorFunc) Handle(ctx context.Context, ec *EventContext, next NextFunc) error {
	return f(ctx, ec, next)
}

// Handler processes events of type T.
type Handler[T Event] interface {
	Handle(ctx context.Context, evt T, ec *EventContext) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T Event] func(ctx context.Context, evt T, ec *EventContext) error

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, evt T, ec *EventContext) error {
	return f(ctx, evt, ec)
}

// Dispatcher runs an event context through whatever pipeline serves it.
// Both *PipelineRegistry and *Pipeline[T] satisfy it.
type Dispatcher interface {
	Process(ctx context.Context, ec *EventContext) error
}

// Processor is the type-erased handle to a Pipeline.
type Processor interface {
	Dispatcher
	EventType() reflect.Type
}

// Pipeline runs behaviors and then handlers for one event type.
// It is immutable after construction and safe for concurrent use.
type Pipeline[T Event] struct {
	eventType reflect.Type
	behaviors []Behavior
	handlers  []Handler[T]
	cfg       pipelineConfig
}

// Compile-time interface checks.
var (
	_ Processor  = (*Pipeline[Event])(nil)
	_ Dispatcher = (*PipelineRegistry)(nil)
)

// NewPipeline creates a pipeline for T. The first behavior is outermost.
func NewPipeline[T Event](behaviors []Behavior, handlers []Handler[T], opts ...PipelineOption) *Pipeline[T] {
	cfg := defaultPipelineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newPipeline(reflect.TypeFor[T](), behaviors, handlers, cfg)
}

func newPipeline[T Event](eventType reflect.Type, behaviors []Behavior, handlers []Handler[T], cfg pipelineConfig) *Pipeline[T] {
	return &Pipeline[T]{
		eventType: eventType,
		behaviors: append([]Behavior(nil), behaviors...),
		handlers:  append([]Handler[T](nil), handlers...),
		cfg:       cfg,
	}
}

// EventType returns the type this pipeline serves.
func (p *Pipeline[T]) EventType() reflect.Type {
	return p.eventType
}

// Process runs ec through every behavior and then every handler.
// Failures are logged and returned. While it runs, FromContext on the
// context handed to behaviors and handlers returns ec.
func (p *Pipeline[T]) Process(ctx context.Context, ec *EventContext) (err error) {
	if ec.EventType() != p.eventType {
		return eferrors.Protocol(fmt.Errorf("pipeline for %v got %v: %w", p.eventType, ec.EventType(), ErrTypeMismatch), "process")
	}

	name, id := ec.Name(), ec.ID()
	start := time.Now()

	ctx = WithEventContext(ctx, ec)
	ctx, span := p.cfg.spans.StartPipelineSpan(ctx, name, id)
	defer func() {
		p.cfg.spans.EndSpanWithError(span, err)
	}()

	observability.LogPipelineStart(p.cfg.logger, name, id)

	var shortCircuit string
	err = p.compose(&shortCircuit)(ctx, ec)

	elapsed := time.Since(start)
	durationMs := float64(elapsed.Microseconds()) / 1000
	switch {
	case eferrors.IsCanceled(err):
		observability.LogPipelineCanceled(p.cfg.logger, name, id, durationMs)
	case err != nil:
		observability.LogPipelineError(p.cfg.logger, name, id, err, durationMs)
	case shortCircuit != "":
		observability.LogPipelineShortCircuit(p.cfg.logger, name, id, shortCircuit, durationMs)
		p.cfg.spans.AddSpanEvent(ctx, "eventflow.short_circuit")
	default:
		observability.LogPipelineComplete(p.cfg.logger, name, id, durationMs)
	}
	p.cfg.metrics.RecordPipeline(ctx, name, elapsed, err, shortCircuit != "")

	return err
}

// compose folds the behaviors around the handler loop, last behavior
// innermost. The innermost behavior that returns without calling next
// records its name in shortCircuit.
func (p *Pipeline[T]) compose(shortCircuit *string) NextFunc {
	next := p.dispatch
	for i := len(p.behaviors) - 1; i >= 0; i-- {
		b, inner := p.behaviors[i], next
		next = func(ctx context.Context, ec *EventContext) error {
			called := false
			err := b.Handle(ctx, ec, func(ctx context.Context, ec *EventContext) error {
				called = true
				return inner(ctx, ec)
			})
			if err == nil && !called && *shortCircuit == "" {
				*shortCircuit = behaviorName(b)
			}
			return err
		}
	}
	return next
}

// dispatch runs every handler in order, stopping at the first failure or
// once ctx is done.
func (p *Pipeline[T]) dispatch(ctx context.Context, ec *EventContext) error {
	if len(p.handlers) == 0 {
		return nil
	}
	evt, ok := ec.Event().(T)
	if !ok {
		return fmt.Errorf("dispatch %v: %w", ec.EventType(), ErrTypeMismatch)
	}
	for _, h := range p.handlers {
		if err := h.Handle(ctx, evt, ec); err != nil {
			return &eferrors.HandlerError{Handler: handlerName(h), Event: ec.Name(), Err: err}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Named is implemented by behaviors and handlers that want a readable name
// in logs instead of their Go type.
type Named interface {
	Name() string
}

func behaviorName(b Behavior) string {
	if n, ok := b.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", b)
}

func handlerName(h any) string {
	if n, ok := h.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}
