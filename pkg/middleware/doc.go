// Package middleware provides the HTTP middleware that sits in front of the
// role engine's admin API.
//
//	PrincipalMiddleware - reads the caller identity set by the upstream gateway
//	RateLimit           - per-principal request limits (httprate)
//	SecureHeaders       - response hardening (unrolled/secure)
//
// Authentication itself happens upstream: the gateway validates the session
// and forwards X-Principal-ID and X-Tenant-ID. Requests whose tenant does not
// match the tenant this process serves are rejected.
package middleware
