package eventflow

import (
	"fmt"
	"maps"
	"reflect"
	"sync"
)

// Catalog is the startup-time declaration of event types. It is a
// MetadataProvider for DescriptorFactory and resolves wire names back to
// Go types for formatters.
type Catalog struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]map[string]any
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]map[string]any),
	}
}

// DeclareOption sets metadata for a declared event type.
type DeclareOption func(md map[string]any)

// Persistent marks the event for StoreBehavior.
func Persistent() DeclareOption {
	return WithMetadata(MetaPersistent, true)
}

// CancelableEvent lets handlers cancel the event through the Cancelable
// feature.
func CancelableEvent() DeclareOption {
	return WithMetadata(MetaCancelable, true)
}

// WithTopic overrides the queue topic, which defaults to the event name.
// Topics longer than 64 bytes are rejected by the relational queue.
func WithTopic(topic string) DeclareOption {
	return WithMetadata(MetaTopic, topic)
}

// InStream routes the event to a named store stream.
func InStream(stream string) DeclareOption {
	return WithMetadata(MetaStream, stream)
}

// WithMetadata sets an arbitrary metadata entry.
func WithMetadata(key string, value any) DeclareOption {
	return func(md map[string]any) {
		md[key] = value
	}
}

// Declare registers T in the catalog.
func Declare[T Event](c *Catalog, opts ...DeclareOption) error {
	return c.Register(reflect.TypeFor[T](), opts...)
}

// Register declares eventType. Declaring the same type again replaces its
// metadata; declaring a different type under an existing name fails with
// ErrDuplicateEventName.
func (c *Catalog) Register(eventType reflect.Type, opts ...DeclareOption) error {
	if !isEventType(eventType) {
		return fmt.Errorf("declare %v: %w", eventType, ErrNotAnEvent)
	}
	name := eventNameOf(eventType)

	md := make(map[string]any, len(opts))
	for _, opt := range opts {
		opt(md)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byName[name]; ok && existing != eventType {
		return fmt.Errorf("declare %v as %q (taken by %v): %w", eventType, name, existing, ErrDuplicateEventName)
	}
	c.byName[name] = eventType
	c.byType[eventType] = md
	return nil
}

// Lookup returns the type declared under name.
func (c *Catalog) Lookup(name string) (reflect.Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byName[name]
	return t, ok
}

// Len returns the number of declared event types.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byName)
}

// ProvideMetadata implements MetadataProvider.
func (c *Catalog) ProvideMetadata(eventType reflect.Type, md map[string]any) {
	c.mu.RLock()
	declared := c.byType[eventType]
	c.mu.RUnlock()
	maps.Copy(md, declared)
}

// eventNameOf calls EventName on a zero value of t. Pointer types get a
// pointer to a zero value so value-receiver methods do not dereference nil.
func eventNameOf(t reflect.Type) string {
	var v reflect.Value
	if t.Kind() == reflect.Pointer {
		v = reflect.New(t.Elem())
	} else {
		v = reflect.Zero(t)
	}
	return v.Interface().(Event).EventName()
}
