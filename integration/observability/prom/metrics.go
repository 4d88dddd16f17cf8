package prom

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dmitrymomot/mfa/core/mfa"
	"github.com/dmitrymomot/mfa/core/session"
)

const namespace = "mfa"

// Metrics implements mfa.Metrics with Prometheus collectors and also records
// HTTP request metrics for the API layer.
type Metrics struct {
	verifications *prometheus.CounterVec
	enrollments   *prometheus.CounterVec
	disables      prometheus.Counter
	storeErrors   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ mfa.Metrics = (*Metrics)(nil)

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Verification attempts by method and outcome.",
		}, []string{"method", "status"}),

		enrollments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollments_total",
			Help:      "Enrollment attempts by result.",
		}, []string{"result"}),

		disables: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disables_total",
			Help:      "MFA disable operations.",
		}),

		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Credential store failures by operation.",
		}, []string{"op"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~3.8s
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) ObserveVerification(method session.Method, status mfa.VerifyStatus) {
	m.verifications.WithLabelValues(string(method), string(status)).Inc()
}

func (m *Metrics) ObserveEnrollment(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.enrollments.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDisable() {
	m.disables.Inc()
}

func (m *Metrics) ObserveStoreError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

// ObserveHTTP records one served request. route is the pattern, not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RegisterSessionGauges exposes registry counters as gauges read at scrape time.
func RegisterSessionGauges(reg prometheus.Registerer, stats func() session.RegistryStats) {
	f := promauto.With(reg)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Live MFA sessions held in the registry.",
	}, func() float64 { return float64(stats().Active) })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_users",
		Help:      "Users holding at least one MFA session.",
	}, func() float64 { return float64(stats().Users) })

	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_expired_total",
		Help:      "Sessions evicted after expiry.",
	}, func() float64 { return float64(stats().Expired) })
}
