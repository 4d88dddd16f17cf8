package mfa

import (
	"crypto/rand"
	"io"
	"log/slog"
	"time"
)

// Config holds service settings. It can be loaded from the environment with core/config.
type Config struct {
	Issuer        string        `env:"MFA_ISSUER" envDefault:"Healthcare CRM"`
	StoreTimeout  time.Duration `env:"MFA_STORE_TIMEOUT" envDefault:"3s"`
	MaxAttempts   int           `env:"MFA_MAX_ATTEMPTS" envDefault:"5"`    // failed verifications per window; 0 disables limiting
	AttemptWindow time.Duration `env:"MFA_ATTEMPT_WINDOW" envDefault:"15m"` // time for the attempt budget to refill completely
}

type options struct {
	issuer       string
	storeTimeout time.Duration
	entropy      io.Reader
	now          func() time.Time
	logger       *slog.Logger
	audit        AuditSink
	auditTimeout time.Duration
	publisher    Publisher
	metrics      Metrics
	limiter      AttemptLimiter
}

func defaultOptions() options {
	return options{
		issuer:       "Healthcare CRM",
		storeTimeout: 3 * time.Second,
		entropy:      rand.Reader,
		now:          time.Now,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		auditTimeout: 5 * time.Second,
		metrics:      noopMetrics{},
	}
}

// Option configures the service and its components.
type Option func(*options)

// WithConfig applies non-zero values from cfg. Attempt limiting is configured
// separately through WithAttemptLimiter, see NewAttemptLimiter.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if cfg.Issuer != "" {
			o.issuer = cfg.Issuer
		}
		if cfg.StoreTimeout > 0 {
			o.storeTimeout = cfg.StoreTimeout
		}
	}
}

// WithIssuer sets the issuer shown in authenticator apps.
func WithIssuer(issuer string) Option {
	return func(o *options) {
		if issuer != "" {
			o.issuer = issuer
		}
	}
}

// WithStoreTimeout bounds every store call. A timeout is reported as ErrPersistenceUnavailable.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.storeTimeout = d
		}
	}
}

// WithEntropy overrides the randomness source for secrets and backup codes.
// Intended for tests; a failing reader makes enrollment fail rather than fall back.
func WithEntropy(r io.Reader) Option {
	return func(o *options) {
		if r != nil {
			o.entropy = r
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

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditSink sets where audit records go. Records are written off the
// request path; sink failures are logged and never affect the caller.
func WithAuditSink(sink AuditSink) Option {
	return func(o *options) {
		o.audit = sink
	}
}

// WithPublisher sets the target for status-change events.
func WithPublisher(p Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithAttemptLimiter enables failed-attempt limiting.
func WithAttemptLimiter(l AttemptLimiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}
