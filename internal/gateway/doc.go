// Package gateway orchestrates the campaign-gateway server components.
//
// # Overview
//
// Gateway owns the store, the admission gate, the session registry and the
// generation pipeline, and exposes them over HTTP. It optionally serves the
// standard gRPC health service and can listen on a tailnet through tsnet
// instead of plain TCP. The gRPC service runs only when server.grpc_addr is
// set; on a tailnet it uses that address's port.
//
// # HTTP API
//
//   - GET / - liveness banner, no auth
//   - GET /health - "OK", no auth
//   - GET /api/status - agents, uptime and requests_processed (admitted)
//   - POST /api/generate - create, review and store a campaign text (admitted)
//   - GET /api/results/{id} - stored result, ?format=html renders it (admitted)
//   - GET /ws - WebSocket session, authenticated by its first auth message
//
// Admitted routes run auth.HTTPAdmissionMiddleware: a bearer token from the
// allow-list and a per-client fixed-window rate limit. Every response carries
// the CORS headers and OPTIONS on any path answers 204. Unknown routes answer
// 404 "Not Found".
//
// # Errors
//
// API failures are written as
//
//	{"status": "error", "error": {"code": ..., "message": ..., "details": ...}}
//
// with codes authentication_failed (401), rate_limit_exceeded (429),
// invalid_parameters (400), not_found (404), upstream_timeout (504) and
// internal_error (500). Internal errors and handler panics are reported
// through telemetry.Reporter.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run pings the store, records the system_status start time, starts the
// listeners and the expiry janitor, and on cancellation shuts everything down
// within five seconds. Open WebSocket sessions are closed with 1001.
package gateway
