// Package prom exports MFA service metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	metrics := prom.New(reg)
//	prom.RegisterSessionGauges(reg, registry.Stats)
//
//	svc, err := mfa.NewService(store, cipher, hasher, registry, mfa.WithMetrics(metrics))
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package prom
