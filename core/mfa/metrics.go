package mfa

import "github.com/dmitrymomot/mfa/core/session"

// Metrics records service outcomes. integration/observability/prom provides
// a Prometheus implementation.
type Metrics interface {
	ObserveVerification(method session.Method, status VerifyStatus)
	ObserveEnrollment(success bool)
	ObserveDisable()
	ObserveStoreError(op string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveVerification(session.Method, VerifyStatus) {}
func (noopMetrics) ObserveEnrollment(bool)                            {}
func (noopMetrics) ObserveDisable()                                   {}
func (noopMetrics) ObserveStoreError(string)                          {}
