package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "EVENTFLOW_"

// Transport names accepted in Settings.Transport.
const (
	TransportMemory   = "memory"
	TransportSQLite   = "sqlite"
	TransportPostgres = "postgres"
	TransportRedis    = "redis"
)

// ErrInvalidSettings is wrapped by every Validate failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the runtime configuration of a publisher and its consumers.
type Settings struct {
	Transport     string        `env:"TRANSPORT"`
	DSN           string        `env:"DSN"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	Stream        string        `env:"STREAM"`
	Consumer      string        `env:"CONSUMER"`
	BatchSize     int           `env:"BATCH_SIZE"`
	QueueCapacity int           `env:"QUEUE_CAPACITY"`
	PollInterval  time.Duration `env:"POLL_INTERVAL"`
	RetryDelay    time.Duration `env:"RETRY_DELAY"`
	RetryMaxDelay time.Duration `env:"RETRY_MAX_DELAY"`
	History       bool          `env:"HISTORY"`
	LogLevel      string        `env:"LOG_LEVEL"`
}

// Defaults returns the settings used when nothing else is configured.
func Defaults() Settings {
	return Settings{
		Transport:     TransportMemory,
		Consumer:      "default",
		BatchSize:     64,
		QueueCapacity: 1024,
		PollInterval:  250 * time.Millisecond,
		RetryDelay:    eferrors.DefaultRetry.InitialBackoff,
		RetryMaxDelay: eferrors.DefaultRetry.MaxBackoff,
		History:       true,
		LogLevel:      "info",
	}
}

// Apply overlays values present in cfg onto s.
//
// Keys are snake_case. Retry delays may be given flat or under a
// "retry" section:
//
//	transport: sqlite
//	dsn: events.db
//	batch_size: 32
//	retry:
//	  delay: 500ms
//	  max_delay: 10s
func (s Settings) Apply(cfg Config) Settings {
	s.Transport = cfg.String("transport", s.Transport)
	s.DSN = cfg.String("dsn", s.DSN)
	s.RedisAddr = cfg.String("redis_addr", s.RedisAddr)
	s.Stream = cfg.String("stream", s.Stream)
	s.Consumer = cfg.String("consumer", s.Consumer)
	s.BatchSize = cfg.Int("batch_size", s.BatchSize)
	s.QueueCapacity = cfg.Int("queue_capacity", s.QueueCapacity)
	s.PollInterval = cfg.Duration("poll_interval", s.PollInterval)
	s.History = cfg.Bool("history", s.History)
	s.LogLevel = cfg.String("log_level", s.LogLevel)

	s.RetryDelay = cfg.Duration("retry_delay", s.RetryDelay)
	s.RetryMaxDelay = cfg.Duration("retry_max_delay", s.RetryMaxDelay)
	s.RetryDelay = cfg.Duration("retry.delay", s.RetryDelay)
	s.RetryMaxDelay = cfg.Duration("retry.max_delay", s.RetryMaxDelay)
	return s
}

// ApplyEnv overlays EVENTFLOW_* variables from environ onto s.
// A nil environ reads the process environment.
func (s Settings) ApplyEnv(environ map[string]string) (Settings, error) {
	if err := env.ParseWithOptions(&s, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}); err != nil {
		return s, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// Load builds Settings from defaults, then the optional file at path,
// then the process environment. The result is validated.
func Load(path string) (Settings, error) {
	s := Defaults()
	if path != "" {
		cfg, err := FromFile(path)
		if err != nil {
			return Settings{}, err
		}
		s = s.Apply(cfg)
	}

	s, err := s.ApplyEnv(nil)
	if err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate reports the first inconsistent field.
func (s Settings) Validate() error {
	switch s.Transport {
	case TransportMemory:
	case TransportSQLite, TransportPostgres:
		if s.DSN == "" {
			return fmt.Errorf("%w: transport %q requires dsn", ErrInvalidSettings, s.Transport)
		}
	case TransportRedis:
		if s.RedisAddr == "" {
			return fmt.Errorf("%w: transport %q requires redis_addr", ErrInvalidSettings, s.Transport)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidSettings, s.Transport)
	}

	if s.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidSettings, s.BatchSize)
	}
	if s.QueueCapacity <= 0 {
		return fmt.Errorf("%w: queue_capacity must be positive, got %d", ErrInvalidSettings, s.QueueCapacity)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive, got %s", ErrInvalidSettings, s.PollInterval)
	}
	if s.RetryDelay <= 0 {
		return fmt.Errorf("%w: retry delay must be positive, got %s", ErrInvalidSettings, s.RetryDelay)
	}
	if s.RetryMaxDelay < s.RetryDelay {
		return fmt.Errorf("%w: retry max_delay %s is below delay %s", ErrInvalidSettings, s.RetryMaxDelay, s.RetryDelay)
	}
	if _, err := parseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// Retry converts the retry delays into a backoff configuration.
func (s Settings) Retry() eferrors.RetryConfig {
	cfg := eferrors.DefaultRetry
	cfg.InitialBackoff = s.RetryDelay
	cfg.MaxBackoff = s.RetryMaxDelay
	return cfg
}

// Level returns the slog level named by LogLevel, or Info when it is
// empty or unrecognized.
func (s Settings) Level() slog.Level {
	lvl, err := parseLevel(s.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseLevel(name string) (slog.Level, error) {
	if strings.TrimSpace(name) == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}
