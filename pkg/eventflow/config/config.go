package config

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Config is a read-only view of a decoded settings document.
//
// Keys may be dotted paths into nested sections, so "retry.delay" reads
// delay from the retry mapping. A literal key containing a dot wins over
// the nested lookup. Accessors return the supplied fallback when the path
// is missing or holds a value of the wrong kind.
type Config struct {
	data map[string]any
}

// New wraps data. A nil map yields an empty Config.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

func (c Config) lookup(path string) (any, bool) {
	if v, ok := c.data[path]; ok {
		return v, true
	}
	section, rest, nested := strings.Cut(path, ".")
	if !nested {
		return nil, false
	}
	sub, ok := asSection(c.data[section])
	if !ok {
		return nil, false
	}
	return sub.lookup(rest)
}

func asSection(v any) (Config, bool) {
	switch val := v.(type) {
	case map[string]any:
		return New(val), true
	case Config:
		return val, true
	}
	return Config{}, false
}

// String returns the string at path.
func (c Config) String(path, fallback string) string {
	if s, ok := c.get(path).(string); ok {
		return s
	}
	return fallback
}

// Int returns the integer at path. Floats are accepted only when whole,
// since JSON documents may carry them.
func (c Config) Int(path string, fallback int) int {
	switch val := c.get(path).(type) {
	case int:
		return val
	case int64:
		return int(val)
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return int(n)
		}
		if f, err := val.Float64(); err == nil && f == float64(int(f)) {
			return int(f)
		}
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return fallback
}

// Duration returns the duration at path. Strings use time.ParseDuration
// ("250ms", "5s"); bare numbers are seconds.
func (c Config) Duration(path string, fallback time.Duration) time.Duration {
	switch val := c.get(path).(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case time.Duration:
		return val
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case float64:
		return time.Duration(val * float64(time.Second))
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return fallback
}

// Bool returns the boolean at path. Strings accepted by strconv.ParseBool
// count, which covers quoted values from environment-style files.
func (c Config) Bool(path string, fallback bool) bool {
	switch val := c.get(path).(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

// Sub returns the section at path, or an empty Config.
func (c Config) Sub(path string) Config {
	if sub, ok := asSection(c.get(path)); ok {
		return sub
	}
	return New(nil)
}

// Has reports whether path is present.
func (c Config) Has(path string) bool {
	_, ok := c.lookup(path)
	return ok
}

// Raw returns the underlying map. Callers must not modify it.
func (c Config) Raw() map[string]any {
	return c.data
}

func (c Config) get(path string) any {
	v, _ := c.lookup(path)
	return v
}
