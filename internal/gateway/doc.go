// Package gateway orchestrates the authflow-gateway server components.
//
// # Overview
//
// The gateway owns the SQLite store, the replay cache, the scheme plugins
// built from config, the gRPC server carrying the handshake service and a
// small HTTP server for health checks.
//
// # HTTP Endpoints
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store reachable)
//
// # Schemes
//
// auth.schemes selects which built-in schemes are served. The token scheme
// is skipped when no jwt_secret is configured. Every finished handshake is
// written to the handshakes table.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Run shuts down gracefully when ctx is canceled.
package gateway
