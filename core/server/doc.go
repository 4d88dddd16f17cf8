// Package server runs the MFA HTTP API with graceful shutdown.
//
// Settings come from MFA_HTTP_* environment variables through Config:
//
//	var cfg server.Config
//	config.MustLoad(&cfg)
//	srv, err := server.NewFromConfig(cfg, server.WithLogger(log))
//
// Run plugs into an errgroup next to the other background components. When
// the group context is cancelled the server stops accepting connections and
// drains in-flight requests for up to ShutdownTimeout:
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(registry.Run(ctx))
//	g.Go(srv.Run(ctx, handler))
//	err := g.Wait()
//
// TLS is optional. Set MFA_HTTP_TLS_CERT_FILE and MFA_HTTP_TLS_KEY_FILE, or
// pass WithTLS, to serve HTTPS directly instead of behind a gateway.
package server
