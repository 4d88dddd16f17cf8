// Package httpapi serves the MFA service as a JSON API.
//
// Callers are authenticated upstream: a trusted gateway sets the user ID in
// the identity header (X-User-ID by default) and strips any client-supplied
// value. A successful verification returns a session token which the client
// sends back in X-MFA-Session. Validity is always decided by the server-side
// registry for that user and token pair.
//
//	h := httpapi.NewHandler(svc,
//		httpapi.WithLogger(log),
//		httpapi.WithObserver(metrics),
//		httpapi.WithReadinessChecks(redis.Healthcheck(client)),
//	)
//
// RequireMFA protects other routes of the CRM the same way:
//
//	phi := httpapi.RequireMFA(svc)(patientRecordsHandler)
package httpapi
