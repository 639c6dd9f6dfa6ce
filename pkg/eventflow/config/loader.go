package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format names the syntax of a settings document.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned for files that are neither YAML nor JSON.
var ErrUnknownFormat = errors.New("unknown config format")

// FormatOf picks the format from path's extension: .yaml, .yml or .json.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}
}

// FromFile reads and parses the settings document at path.
func FromFile(path string) (Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(format, data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a settings document. An empty document yields an empty
// Config; anything other than a mapping at the top level is an error.
// JSON numbers keep their exact text, so large batch sizes survive.
func Parse(format Format, data []byte) (Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return New(nil), nil
	}

	var m map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&m); err != nil {
			return Config{}, fmt.Errorf("parse json: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return New(m), nil
}
