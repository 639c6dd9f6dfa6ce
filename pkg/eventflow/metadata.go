package eventflow

import (
	"maps"
	"reflect"
	"slices"
)

// Well-known metadata keys.
const (
	// MetaTopic names the queue partition. Defaults to the event name.
	MetaTopic = "topic"

	// MetaStream names the store stream. Defaults to "" (the default stream).
	MetaStream = "stream"

	// MetaPersistent marks events that StoreBehavior writes to the store
	// instead of dispatching.
	MetaPersistent = "persistent"

	// MetaCancelable marks events that CancelBehavior equips with the
	// Cancelable feature.
	MetaCancelable = "cancelable"
)

// Metadata is a read-only view of an event type's static metadata.
type Metadata struct {
	values map[string]any
}

// NewMetadata copies values into an immutable Metadata.
func NewMetadata(values map[string]any) Metadata {
	return Metadata{values: maps.Clone(values)}
}

// Get returns the raw value for key.
func (m Metadata) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (m Metadata) String(key, defaultVal string) string {
	if s, ok := m.values[key].(string); ok {
		return s
	}
	return defaultVal
}

// Bool returns the boolean value for key, or false.
func (m Metadata) Bool(key string) bool {
	b, _ := m.values[key].(bool)
	return b
}

// Len returns the number of entries.
func (m Metadata) Len() int {
	return len(m.values)
}

// Keys returns the keys in sorted order.
func (m Metadata) Keys() []string {
	return slices.Sorted(maps.Keys(m.values))
}

// Map returns a copy of the entries.
func (m Metadata) Map() map[string]any {
	return maps.Clone(m.values)
}

// MetadataProvider contributes metadata for an event type. Providers run
// once per type, in registration order, all writing into the same map; a
// later provider may overwrite an earlier one's key. A provider may resolve
// descriptors of other types through the same factory, but not of the type
// it is describing.
type MetadataProvider interface {
	ProvideMetadata(eventType reflect.Type, md map[string]any)
}

// MetadataProviderFunc adapts a function to MetadataProvider.
type MetadataProviderFunc func(eventType reflect.Type, md map[string]any)

// ProvideMetadata calls f.
func (f MetadataProviderFunc) ProvideMetadata(eventType reflect.Type, md map[string]any) {
	f(eventType, md)
}
