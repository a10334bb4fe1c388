// Package api assembles the HTTP server of the role engine.
//
// Routes:
//
//	GET  /health, /health/live, /health/ready  - probes (unauthenticated)
//	GET  /metrics                              - Prometheus exposition
//	*    /rbac/...                             - admin and self-service API
//
// Every request passes through, outermost first: OpenTelemetry tracing,
// request ID, panic recovery, request logging, security headers and CORS.
// The /rbac routes additionally require an X-Principal-ID header and are
// rate limited per principal. Route-level permission checks are done by the
// rbac package itself.
package api
