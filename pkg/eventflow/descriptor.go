package eventflow

import (
	"fmt"
	"reflect"

	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
	"github.com/randalmurphal/eventflow/pkg/eventflow/registry"
)

// Descriptor is the cached static description of an event type.
type Descriptor struct {
	eventType reflect.Type
	name      string
	metadata  Metadata
}

// EventType returns the described Go type.
func (d *Descriptor) EventType() reflect.Type { return d.eventType }

// Name returns the event's wire name.
func (d *Descriptor) Name() string { return d.name }

// Metadata returns the merged provider metadata.
func (d *Descriptor) Metadata() Metadata { return d.metadata }

// Topic returns the queue topic.
func (d *Descriptor) Topic() string { return d.metadata.String(MetaTopic, d.name) }

// Stream returns the store stream; "" is the default stream.
func (d *Descriptor) Stream() string { return d.metadata.String(MetaStream, "") }

// Persistent reports whether StoreBehavior should store the event.
func (d *Descriptor) Persistent() bool { return d.metadata.Bool(MetaPersistent) }

// Cancelable reports whether CancelBehavior should equip the event.
func (d *Descriptor) Cancelable() bool { return d.metadata.Bool(MetaCancelable) }

// DescriptorFactory builds and caches one Descriptor per event type.
// It is safe for concurrent use; concurrent first requests for a type build
// its descriptor once.
type DescriptorFactory struct {
	providers []MetadataProvider
	cache     *registry.Registry[reflect.Type, *Descriptor]
}

// NewDescriptorFactory creates a factory that consults providers in order.
// Providers must be registered up front; the cache never recomputes.
func NewDescriptorFactory(providers ...MetadataProvider) *DescriptorFactory {
	return &DescriptorFactory{
		providers: providers,
		cache:     registry.New[reflect.Type, *Descriptor](),
	}
}

// Descriptor returns the cached descriptor for eventType, building it on
// first use.
func (f *DescriptorFactory) Descriptor(eventType reflect.Type) (*Descriptor, error) {
	if !isEventType(eventType) {
		return nil, eferrors.Protocol(fmt.Errorf("%v: %w", eventType, ErrNotAnEvent), "descriptor")
	}
	return f.cache.GetOrCreate(eventType, func() *Descriptor {
		return f.build(eventType)
	}), nil
}

// DescriptorFor returns the descriptor for evt's runtime type.
func (f *DescriptorFactory) DescriptorFor(evt Event) (*Descriptor, error) {
	if evt == nil {
		return nil, eferrors.Protocol(fmt.Errorf("nil event: %w", ErrNotAnEvent), "descriptor")
	}
	return f.Descriptor(reflect.TypeOf(evt))
}

// DescriptorOf returns the descriptor for T.
func DescriptorOf[T Event](f *DescriptorFactory) (*Descriptor, error) {
	return f.Descriptor(reflect.TypeFor[T]())
}

func (f *DescriptorFactory) build(eventType reflect.Type) *Descriptor {
	md := make(map[string]any)
	for _, p := range f.providers {
		p.ProvideMetadata(eventType, md)
	}
	return &Descriptor{
		eventType: eventType,
		name:      eventNameOf(eventType),
		metadata:  Metadata{values: md},
	}
}
