// Package formatter serializes event contexts for transports. A formatter
// writes the event's wire name, its payload, and its public items; reserved
// items are never written and are restored by the transport on read.
package formatter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
)

// Sentinel errors.
var (
	// ErrNoFormatter is returned when no formatter serves a content type.
	ErrNoFormatter = errors.New("no formatter for content type")

	// ErrMalformed is returned when serialized data cannot be decoded.
	ErrMalformed = errors.New("malformed event data")
)

// Formatter converts event contexts to and from bytes.
type Formatter interface {
	// ContentType identifies the encoding, e.g. "application/json".
	ContentType() string

	// Write encodes ec to w.
	Write(w io.Writer, ec *eventflow.EventContext) error

	// Read decodes one context from r.
	Read(r io.Reader) (*eventflow.EventContext, error)
}

// TypeResolver maps wire names back to Go types. *eventflow.Catalog
// satisfies it.
type TypeResolver interface {
	Lookup(name string) (reflect.Type, bool)
}

// Marshal encodes ec with f.
func Marshal(f Formatter, ec *eventflow.EventContext) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf, ec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data with f.
func Unmarshal(f Formatter, data []byte) (*eventflow.EventContext, error) {
	return f.Read(bytes.NewReader(data))
}

// Registry holds formatters by content type. The first registered formatter
// is the default.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
	def        Formatter
}

// NewRegistry creates a registry holding formatters.
func NewRegistry(formatters ...Formatter) *Registry {
	r := &Registry{formatters: make(map[string]Formatter)}
	for _, f := range formatters {
		r.Register(f)
	}
	return r
}

// Register adds f, replacing any formatter with the same content type.
func (r *Registry) Register(f Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters[f.ContentType()] = f
	if r.def == nil {
		r.def = f
	}
}

// Get returns the formatter for contentType.
func (r *Registry) Get(contentType string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formatters[contentType]
	if !ok {
		return nil, eferrors.Protocol(fmt.Errorf("%q: %w", contentType, ErrNoFormatter), "formatter lookup")
	}
	return f, nil
}

// Default returns the first registered formatter, or nil.
func (r *Registry) Default() Formatter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

// decoder rebuilds contexts from decoded envelopes. Both formatters share it.
type decoder struct {
	types   TypeResolver
	factory *eventflow.DescriptorFactory
}

// target returns the resolved type and a pointer to decode the payload into.
func (d decoder) target(name string) (reflect.Type, reflect.Value, error) {
	if name == "" {
		return nil, reflect.Value{}, fmt.Errorf("missing event type: %w", ErrMalformed)
	}
	t, ok := d.types.Lookup(name)
	if !ok {
		return nil, reflect.Value{}, eferrors.Permanent(fmt.Errorf("%q: %w", name, eventflow.ErrUnknownEvent), "decode event")
	}
	if t.Kind() == reflect.Pointer {
		return t, reflect.New(t.Elem()), nil
	}
	return t, reflect.New(t), nil
}

// build wraps the decoded payload in a new context carrying items.
func (d decoder) build(t reflect.Type, ptr reflect.Value, items map[string]any) (*eventflow.EventContext, error) {
	v := ptr
	if t.Kind() != reflect.Pointer {
		v = ptr.Elem()
	}
	evt, ok := v.Interface().(eventflow.Event)
	if !ok {
		return nil, fmt.Errorf("%v: %w", t, eventflow.ErrNotAnEvent)
	}

	desc, err := d.factory.Descriptor(t)
	if err != nil {
		return nil, err
	}
	ec, err := eventflow.NewEventContext(desc, evt)
	if err != nil {
		return nil, err
	}
	for k, val := range items {
		if !eventflow.IsReservedItem(k) {
			ec.SetItem(k, val)
		}
	}
	return ec, nil
}
