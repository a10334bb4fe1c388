// Package contextkeys provides centralized context key definitions
//
// All context keys shared across packages are defined here so their producers
// and consumers are discoverable in one place.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/backstage/pkg/contextkeys"
//	ctx = contextkeys.WithPrincipalID(ctx, "user-42")
//	principal := contextkeys.GetPrincipalID(ctx)
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalIDKey contains the authenticated principal ID
	// Set by: api.PrincipalMiddleware from the gateway's X-Principal-ID header
	// Required by: rbac.PermissionMiddleware, audit events
	// Type: string
	PrincipalIDKey Key = "principal_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: api.RequestIDMiddleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// TenantIDKey contains the tenant the request operates on
	// Set by: api.PrincipalMiddleware
	// Used by: audit trail
	// Type: string
	TenantIDKey Key = "tenant_id"

	// LoggerKey contains a logrus.FieldLogger
	// Set by: observability.WithLogger
	// Type: logrus.FieldLogger
	LoggerKey Key = "logger"

	// RequestStartTimeKey contains request start timestamp
	// Set by: api logging middleware
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"
)

// WithPrincipalID adds the principal ID to the context
func WithPrincipalID(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, PrincipalIDKey, principalID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithTenantID adds the tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetPrincipalID retrieves the principal ID from context
func GetPrincipalID(ctx context.Context) string {
	if principalID, ok := ctx.Value(PrincipalIDKey).(string); ok {
		return principalID
	}
	return ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetTenantID retrieves the tenant ID from context
func GetTenantID(ctx context.Context) string {
	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok {
		return tenantID
	}
	return ""
}

// GetRequestStartTime retrieves the request start time from context
func GetRequestStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(RequestStartTimeKey).(time.Time)
	return t, ok
}
