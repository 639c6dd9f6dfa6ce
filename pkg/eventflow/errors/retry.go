package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures the delay between failed consumer iterations.
type RetryConfig struct {
	// InitialBackoff is the delay after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied after each consecutive failure.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64
}

// DefaultRetry waits 1s after the first failure, growing to at most 5s.
var DefaultRetry = RetryConfig{
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// StoreRetry is the fixed 5s delay used by stream consumers.
var StoreRetry = RetryConfig{
	InitialBackoff: 5 * time.Second,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  1.0,
	Jitter:         0.1,
}

// normalize fills zero fields from DefaultRetry.
func (c RetryConfig) normalize() RetryConfig {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultRetry.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Backoff tracks consecutive failures for one retry loop.
// It is not safe for concurrent use.
type Backoff struct {
	cfg     RetryConfig
	current time.Duration
}

// NewBackoff creates a Backoff starting at cfg.InitialBackoff.
func NewBackoff(cfg RetryConfig) *Backoff {
	cfg = cfg.normalize()
	return &Backoff{cfg: cfg, current: cfg.InitialBackoff}
}

// Next returns the delay to wait now and grows the delay for the next call.
func (b *Backoff) Next() time.Duration {
	d := calculateBackoff(b.current, b.cfg.Jitter)

	next := time.Duration(float64(b.current) * b.cfg.BackoffFactor)
	if next > b.cfg.MaxBackoff {
		next = b.cfg.MaxBackoff
	}
	b.current = next
	return d
}

// Reset returns the delay to its initial value after a success.
func (b *Backoff) Reset() {
	b.current = b.cfg.InitialBackoff
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when the wait was cut short.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// calculateBackoff returns the backoff duration with jitter applied.
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}

	// Calculate jitter: base +/- (base * jitter * random)
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}

// RetryOption configures retry behavior.
type RetryOption func(*RetryConfig)

// WithInitialBackoff sets the initial backoff duration.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.InitialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxBackoff = d
	}
}

// WithBackoffFactor sets the backoff multiplier.
func WithBackoffFactor(f float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.BackoffFactor = f
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.Jitter = j
	}
}

// NewRetryConfig creates a retry configuration with the given options.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
