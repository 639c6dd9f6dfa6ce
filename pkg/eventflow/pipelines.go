package eventflow

import (
	"context"
	"reflect"
	"sync"

	"github.com/randalmurphal/eventflow/pkg/eventflow/registry"
)

// PipelineRegistry maps event types to their pipelines. Behaviors and
// handlers are registered explicitly at startup; Resolve builds each
// type's pipeline once and caches it.
//
// Global behaviors run before type-specific behaviors, each group in
// registration order. Registration is meant for startup: a pipeline
// resolved while registration is still in progress may miss entries.
type PipelineRegistry struct {
	mu        sync.RWMutex
	global    []Behavior
	specific  map[reflect.Type][]Behavior
	handlers  map[reflect.Type][]any
	factories map[reflect.Type]pipelineFactory
	cfg       pipelineConfig

	cache *registry.Registry[reflect.Type, Processor]
}

// pipelineFactory builds a typed pipeline from untyped handler values.
type pipelineFactory func(behaviors []Behavior, handlers []any, cfg pipelineConfig) Processor

// NewPipelineRegistry creates an empty registry.
func NewPipelineRegistry(opts ...PipelineOption) *PipelineRegistry {
	cfg := defaultPipelineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &PipelineRegistry{
		specific:  make(map[reflect.Type][]Behavior),
		handlers:  make(map[reflect.Type][]any),
		factories: make(map[reflect.Type]pipelineFactory),
		cfg:       cfg,
		cache:     registry.New[reflect.Type, Processor](),
	}
}

// Use appends behaviors that apply to every event type.
func (r *PipelineRegistry) Use(behaviors ...Behavior) {
	r.mu.Lock()
	r.global = append(r.global, behaviors...)
	r.mu.Unlock()
	r.cache.Clear()
}

// UseFor appends behaviors that apply only to T.
func UseFor[T Event](r *PipelineRegistry, behaviors ...Behavior) {
	t := reflect.TypeFor[T]()

	r.mu.Lock()
	r.specific[t] = append(r.specific[t], behaviors...)
	r.mu.Unlock()
	r.cache.Delete(t)
}

// HandleWith appends handlers for T.
func HandleWith[T Event](r *PipelineRegistry, handlers ...Handler[T]) {
	t := reflect.TypeFor[T]()

	r.mu.Lock()
	for _, h := range handlers {
		r.handlers[t] = append(r.handlers[t], h)
	}
	r.factories[t] = func(behaviors []Behavior, hs []any, cfg pipelineConfig) Processor {
		typed := make([]Handler[T], len(hs))
		for i, h := range hs {
			typed[i] = h.(Handler[T])
		}
		return newPipeline(t, behaviors, typed, cfg)
	}
	r.mu.Unlock()
	r.cache.Delete(t)
}

// Resolve returns the pipeline for eventType. Types without handlers get a
// behaviors-only pipeline, so persistence and logging still apply.
func (r *PipelineRegistry) Resolve(eventType reflect.Type) Processor {
	return r.cache.GetOrCreate(eventType, func() Processor {
		return r.build(eventType)
	})
}

// Process resolves the pipeline for ec's type and runs it.
func (r *PipelineRegistry) Process(ctx context.Context, ec *EventContext) error {
	return r.Resolve(ec.EventType()).Process(ctx, ec)
}

func (r *PipelineRegistry) build(eventType reflect.Type) Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	behaviors := make([]Behavior, 0, len(r.global)+len(r.specific[eventType]))
	behaviors = append(behaviors, r.global...)
	behaviors = append(behaviors, r.specific[eventType]...)

	if factory, ok := r.factories[eventType]; ok {
		return factory(behaviors, r.handlers[eventType], r.cfg)
	}
	return newPipeline[Event](eventType, behaviors, nil, r.cfg)
}
