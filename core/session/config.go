package session

import (
	"io"
	"log/slog"
	"time"
)

// Config holds registry configuration. It can be loaded from the environment
// with core/config.
type Config struct {
	TTL           time.Duration `env:"MFA_SESSION_TTL" envDefault:"15m"`            // Idle lifetime; Extend slides it
	SweepInterval time.Duration `env:"MFA_SESSION_SWEEP_INTERVAL" envDefault:"1m"` // Background eviction period
}

type options struct {
	ttl             time.Duration
	sweepInterval   time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

func defaultOptions() options {
	return options{
		ttl:             15 * time.Minute,
		sweepInterval:   time.Minute,
		shutdownTimeout: 5 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:             time.Now,
	}
}

// Option is a functional option for configuring the registry.
type Option func(*options)

// WithConfig applies non-zero values from cfg.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if cfg.TTL > 0 {
			o.ttl = cfg.TTL
		}
		if cfg.SweepInterval > 0 {
			o.sweepInterval = cfg.SweepInterval
		}
	}
}

// WithTTL sets the session time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithSweepInterval sets how often Start evicts expired sessions.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.sweepInterval = interval
		}
	}
}

// WithLogger sets the logger for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
