package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dmitrymomot/mfa/core/logger"
	"github.com/dmitrymomot/mfa/core/mfa"
)

// SessionHeader carries the MFA session token issued by a verification.
const SessionHeader = "X-MFA-Session"

// SessionChecker validates an MFA session token for a user.
type SessionChecker interface {
	GetSessionForToken(userID, token string) mfa.SessionStatus
}

// Service is the MFA surface served over HTTP. *mfa.Service satisfies it.
type Service interface {
	SessionChecker
	GenerateSecret(ctx context.Context, userID, label string) (mfa.Enrollment, error)
	VerifyCode(ctx context.Context, userID, code string) (mfa.VerifyResult, error)
	VerifyBackupCode(ctx context.Context, userID, code string) (mfa.VerifyResult, error)
	Status(ctx context.Context, userID string) (mfa.EnrollmentStatus, error)
	ExtendSession(token string) (mfa.SessionStatus, error)
	Logout(ctx context.Context, token string)
	Disable(ctx context.Context, userID string) error
	RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error)
}

// HTTPObserver records request metrics. *prom.Metrics satisfies it.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

type options struct {
	logger         *slog.Logger
	observer       HTTPObserver
	identityHeader string
	slowRequest    time.Duration
	readiness      []func(context.Context) error
	metrics        http.Handler
}

// Option configures the API handler.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:         logger.Discard(),
		identityHeader: "X-User-ID",
		slowRequest:    2 * time.Second,
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver records request counts and latency.
func WithObserver(obs HTTPObserver) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithIdentityHeader names the header carrying the authenticated user ID.
// The header must be set by a trusted gateway and stripped from client input.
func WithIdentityHeader(name string) Option {
	return func(o *options) {
		if name != "" {
			o.identityHeader = name
		}
	}
}

// WithSlowRequestThreshold logs requests slower than d at warn level.
func WithSlowRequestThreshold(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.slowRequest = d
		}
	}
}

// WithReadinessChecks adds dependency probes to /health/ready.
func WithReadinessChecks(checks ...func(context.Context) error) Option {
	return func(o *options) {
		o.readiness = append(o.readiness, checks...)
	}
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) {
		o.metrics = h
	}
}

type api struct {
	svc Service
	options
}

// NewHandler builds the HTTP API.
//
//	POST   /mfa/enroll              start or restart enrollment
//	POST   /mfa/verify              verify a TOTP code
//	POST   /mfa/verify/backup       spend a backup code
//	GET    /mfa/status              enrollment state and session validity
//	GET    /mfa/session             session validity for X-MFA-Session
//	POST   /mfa/session/extend      slide the session expiry
//	POST   /mfa/logout              invalidate the session
//	POST   /mfa/backup-codes        regenerate backup codes (MFA session required)
//	DELETE /mfa                     disable MFA (MFA session required)
//	GET    /health/live, /health/ready
func NewHandler(svc Service, opts ...Option) http.Handler {
	a := &api{svc: svc, options: defaultOptions()}
	for _, opt := range opts {
		opt(&a.options)
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrMethodNotAllowed)
	})
	r.Use(a.recoverer, securityHeaders, requestID, clientIP, a.logging)

	r.HandleFunc("/health/live", a.liveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", a.readinessProbe).Methods(http.MethodGet)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics).Methods(http.MethodGet)
	}

	m := r.PathPrefix("/mfa").Subrouter()
	m.Use(a.authenticated)
	m.HandleFunc("/enroll", a.enroll).Methods(http.MethodPost)
	m.HandleFunc("/verify", a.verify).Methods(http.MethodPost)
	m.HandleFunc("/verify/backup", a.verifyBackup).Methods(http.MethodPost)
	m.HandleFunc("/status", a.status).Methods(http.MethodGet)
	m.HandleFunc("/session", a.session).Methods(http.MethodGet)
	m.HandleFunc("/session/extend", a.extend).Methods(http.MethodPost)
	m.HandleFunc("/logout", a.logout).Methods(http.MethodPost)

	guard := RequireMFA(svc, WithIdentityHeader(a.identityHeader))
	m.Handle("/backup-codes", guard(http.HandlerFunc(a.regenerate))).Methods(http.MethodPost)
	r.Handle("/mfa", a.authenticated(guard(http.HandlerFunc(a.disable)))).Methods(http.MethodDelete)

	return r
}
