package formatter

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
)

// ContentTypeYAML is the content type of YAMLFormatter.
const ContentTypeYAML = "application/yaml"

type yamlEnvelope struct {
	Type     string         `yaml:"type"`
	Event    yaml.Node      `yaml:"event"`
	Items    map[string]any `yaml:"items,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// YAMLFormatter encodes contexts as a YAML document with the same shape as
// the JSON envelope. Payload fields use their yaml tags.
type YAMLFormatter struct {
	decoder
}

// NewYAML creates a YAMLFormatter resolving wire names with types.
func NewYAML(types TypeResolver, factory *eventflow.DescriptorFactory) *YAMLFormatter {
	return &YAMLFormatter{decoder{types: types, factory: factory}}
}

// ContentType implements Formatter.
func (*YAMLFormatter) ContentType() string { return ContentTypeYAML }

// Write implements Formatter.
func (f *YAMLFormatter) Write(w io.Writer, ec *eventflow.EventContext) error {
	env := yamlEnvelope{Type: ec.Name()}
	if err := env.Event.Encode(ec.Event()); err != nil {
		return fmt.Errorf("encode %s: %w", ec.Name(), err)
	}
	if items := ec.PublicItems(); len(items) > 0 {
		env.Items = items
	}
	if md := ec.Descriptor().Metadata(); md.Len() > 0 {
		env.Metadata = md.Map()
	}

	enc := yaml.NewEncoder(w)
	if err := enc.Encode(&env); err != nil {
		return fmt.Errorf("encode %s: %w", ec.Name(), err)
	}
	return enc.Close()
}

// Read implements Formatter.
func (f *YAMLFormatter) Read(r io.Reader) (*eventflow.EventContext, error) {
	var env yamlEnvelope
	if err := yaml.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w: %w", ErrMalformed, err)
	}

	t, ptr, err := f.target(env.Type)
	if err != nil {
		return nil, err
	}
	if !env.Event.IsZero() {
		if err := env.Event.Decode(ptr.Interface()); err != nil {
			return nil, fmt.Errorf("decode %s: %w: %w", env.Type, ErrMalformed, err)
		}
	}
	return f.build(t, ptr, env.Items)
}
