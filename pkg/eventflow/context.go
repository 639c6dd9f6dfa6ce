package eventflow

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"strings"

	"github.com/google/uuid"

	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
)

// Reserved item keys. Items under the "eventflow." prefix are owned by
// transports and are never serialized.
const (
	reservedPrefix = "eventflow."

	// ItemOffset holds the Offset assigned by a queue or store.
	ItemOffset = reservedPrefix + "offset"

	// ItemStream holds the stream an entry was read from.
	ItemStream = reservedPrefix + "stream"
)

// IsReservedItem reports whether key belongs to eventflow.
func IsReservedItem(key string) bool {
	return strings.HasPrefix(key, reservedPrefix)
}

// EventContext is the envelope around one event instance while it travels
// through a pipeline. It is owned by a single invocation and is not safe
// for concurrent use.
type EventContext struct {
	id         string
	descriptor *Descriptor
	event      Event
	items      map[string]any
	features   map[reflect.Type]any
}

// NewEventContext wraps evt. The event's runtime type must be exactly the
// descriptor's type.
func NewEventContext(d *Descriptor, evt Event) (*EventContext, error) {
	if d == nil || evt == nil {
		return nil, eferrors.Protocol(ErrTypeMismatch, "new event context")
	}
	if t := reflect.TypeOf(evt); t != d.eventType {
		return nil, eferrors.Protocol(fmt.Errorf("%v is not %v: %w", t, d.eventType, ErrTypeMismatch), "new event context")
	}
	return &EventContext{
		id:         uuid.NewString(),
		descriptor: d,
		event:      evt,
		items:      make(map[string]any),
		features:   make(map[reflect.Type]any),
	}, nil
}

// ID returns a random identifier unique to this context.
func (ec *EventContext) ID() string { return ec.id }

// Descriptor returns the event type's descriptor.
func (ec *EventContext) Descriptor() *Descriptor { return ec.descriptor }

// Event returns the payload.
func (ec *EventContext) Event() Event { return ec.event }

// EventType returns the payload's Go type.
func (ec *EventContext) EventType() reflect.Type { return ec.descriptor.eventType }

// Name returns the event's wire name.
func (ec *EventContext) Name() string { return ec.descriptor.name }

// Item returns an ambient item.
func (ec *EventContext) Item(key string) (any, bool) {
	v, ok := ec.items[key]
	return v, ok
}

// SetItem stores an ambient item.
func (ec *EventContext) SetItem(key string, value any) {
	ec.items[key] = value
}

// DeleteItem removes an ambient item.
func (ec *EventContext) DeleteItem(key string) {
	delete(ec.items, key)
}

// Items returns a copy of all items, reserved ones included.
func (ec *EventContext) Items() map[string]any {
	return maps.Clone(ec.items)
}

// PublicItems returns a copy of the items that are serialized with the
// event, i.e. everything outside the reserved prefix.
func (ec *EventContext) PublicItems() map[string]any {
	out := make(map[string]any, len(ec.items))
	for k, v := range ec.items {
		if !IsReservedItem(k) {
			out[k] = v
		}
	}
	return out
}

// Offset returns the transport offset, if the context came from a queue
// or store.
func (ec *EventContext) Offset() (Offset, bool) {
	o, ok := ec.items[ItemOffset].(Offset)
	return o, ok
}

// SetOffset records the transport offset.
func (ec *EventContext) SetOffset(o Offset) {
	ec.items[ItemOffset] = o
}

// Stream returns the stream the context belongs to: the stream it was read
// from, or the descriptor's stream.
func (ec *EventContext) Stream() string {
	if s, ok := ec.items[ItemStream].(string); ok {
		return s
	}
	return ec.descriptor.Stream()
}

// AddFeature attaches f under the capability type F. At most one feature
// per type may be attached.
func AddFeature[F any](ec *EventContext, f F) error {
	key := reflect.TypeFor[F]()
	if _, ok := ec.features[key]; ok {
		return eferrors.Protocol(fmt.Errorf("%v: %w", key, ErrDuplicateFeature), "add feature")
	}
	ec.features[key] = f
	return nil
}

// Feature returns the feature attached under F.
func Feature[F any](ec *EventContext) (F, bool) {
	f, ok := ec.features[reflect.TypeFor[F]()].(F)
	return f, ok
}

// RemoveFeature detaches the feature under F.
func RemoveFeature[F any](ec *EventContext) {
	delete(ec.features, reflect.TypeFor[F]())
}

type eventContextKey struct{}

// WithEventContext returns a context carrying ec as the current event.
// Pipelines call it on entry, so handlers and anything they call can find
// the event being processed. Nested publishes shadow it for their own call
// chain only.
func WithEventContext(ctx context.Context, ec *EventContext) context.Context {
	return context.WithValue(ctx, eventContextKey{}, ec)
}

// FromContext returns the event currently being processed on ctx's call chain.
func FromContext(ctx context.Context) (*EventContext, bool) {
	ec, ok := ctx.Value(eventContextKey{}).(*EventContext)
	return ec, ok
}
