package formatter

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
)

// ContentTypeJSON is the content type of JSONFormatter.
const ContentTypeJSON = "application/json"

// jsonEnvelope is the serialized form of one event context.
type jsonEnvelope struct {
	Type     string          `json:"type"`
	Event    json.RawMessage `json:"event"`
	Items    map[string]any  `json:"items,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// JSONFormatter encodes contexts as a JSON envelope:
//
//	{"type":"order.placed","event":{...},"items":{"tenant":"acme"},"metadata":{"persistent":true}}
//
// Item values round-trip through encoding/json, so numbers come back as
// float64. Metadata is written for readers outside the process; on Read
// the descriptor comes from the local factory and the wire copy is not
// consulted.
type JSONFormatter struct {
	decoder
}

// NewJSON creates a JSONFormatter resolving wire names with types.
func NewJSON(types TypeResolver, factory *eventflow.DescriptorFactory) *JSONFormatter {
	return &JSONFormatter{decoder{types: types, factory: factory}}
}

// ContentType implements Formatter.
func (*JSONFormatter) ContentType() string { return ContentTypeJSON }

// Write implements Formatter.
func (f *JSONFormatter) Write(w io.Writer, ec *eventflow.EventContext) error {
	payload, err := json.Marshal(ec.Event())
	if err != nil {
		return fmt.Errorf("encode %s: %w", ec.Name(), err)
	}
	env := jsonEnvelope{Type: ec.Name(), Event: payload}
	if items := ec.PublicItems(); len(items) > 0 {
		env.Items = items
	}
	if md := ec.Descriptor().Metadata(); md.Len() > 0 {
		env.Metadata = md.Map()
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		return fmt.Errorf("encode %s: %w", ec.Name(), err)
	}
	return nil
}

// Read implements Formatter.
func (f *JSONFormatter) Read(r io.Reader) (*eventflow.EventContext, error) {
	var env jsonEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w: %w", ErrMalformed, err)
	}

	t, ptr, err := f.target(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Event) > 0 {
		if err := json.Unmarshal(env.Event, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("decode %s: %w: %w", env.Type, ErrMalformed, err)
		}
	}
	return f.build(t, ptr, env.Items)
}
