package eventflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
)

// Publisher is the entry point for raising events. With a queue configured
// it only enqueues; otherwise it runs the event's pipeline synchronously.
type Publisher struct {
	factory   *DescriptorFactory
	pipelines *PipelineRegistry
	queue     Queue
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithQueue routes every published event to q instead of dispatching it.
func WithQueue(q Queue) PublisherOption {
	return func(p *Publisher) {
		p.queue = q
	}
}

// WithPublisherLogger sets the logger used for queue writes.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithPublisherMetrics sets the recorder for queue writes.
func WithPublisherMetrics(m observability.MetricsRecorder) PublisherOption {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

// NewPublisher creates a Publisher.
func NewPublisher(factory *DescriptorFactory, pipelines *PipelineRegistry, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		factory:   factory,
		pipelines: pipelines,
		metrics:   observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishOption adjusts the context built for one publish call.
type PublishOption func(*EventContext)

// WithItem seeds an ambient item. Reserved keys are ignored.
func WithItem(key string, value any) PublishOption {
	return func(ec *EventContext) {
		if !IsReservedItem(key) {
			ec.SetItem(key, value)
		}
	}
}

// NewContext builds the descriptor and context for evt.
func (p *Publisher) NewContext(evt Event, opts ...PublishOption) (*EventContext, error) {
	d, err := p.factory.DescriptorFor(evt)
	if err != nil {
		return nil, err
	}
	ec, err := NewEventContext(d, evt)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec, nil
}

// Publish enqueues evt, or processes it when no queue is configured.
// Exactly one of the two happens.
func (p *Publisher) Publish(ctx context.Context, evt Event, opts ...PublishOption) error {
	ec, err := p.NewContext(evt, opts...)
	if err != nil {
		return err
	}
	if p.queue != nil {
		return p.enqueue(ctx, []*EventContext{ec})
	}
	return p.pipelines.Process(ctx, ec)
}

// PublishAll publishes events in order. Queued events go out in a single
// write; dispatched events stop at the first failure.
func (p *Publisher) PublishAll(ctx context.Context, events ...Event) error {
	batch := make([]*EventContext, 0, len(events))
	for _, evt := range events {
		ec, err := p.NewContext(evt)
		if err != nil {
			return err
		}
		batch = append(batch, ec)
	}

	if p.queue != nil {
		return p.enqueue(ctx, batch)
	}
	for _, ec := range batch {
		if err := p.pipelines.Process(ctx, ec); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) enqueue(ctx context.Context, batch []*EventContext) error {
	if err := p.queue.Write(ctx, batch); err != nil {
		return fmt.Errorf("enqueue %d events: %w", len(batch), err)
	}
	p.metrics.RecordWrite(ctx, fmt.Sprintf("%T", p.queue), len(batch))
	if p.logger != nil {
		p.logger.DebugContext(ctx, "events enqueued", slog.Int("count", len(batch)))
	}
	return nil
}
