package rbac

import (
	"context"
	"net/http"

	"github.com/platinummonkey/backstage/pkg/audit"
	"github.com/platinummonkey/backstage/pkg/contextkeys"
	"github.com/platinummonkey/backstage/pkg/httputil"
)

type decisionContextKey struct{}

// PermissionMiddleware guards HTTP routes with resolver decisions for the
// calling principal
type PermissionMiddleware struct {
	resolver    *Resolver
	auditLogger audit.Logger
	tenantID    string
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(resolver *Resolver, auditLogger audit.Logger, tenantID string) *PermissionMiddleware {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &PermissionMiddleware{
		resolver:    resolver,
		auditLogger: auditLogger,
		tenantID:    tenantID,
	}
}

// Require creates middleware that requires action on resourceID. The allowing
// decision is stored in the request context for handlers that filter by scope.
func (pm *PermissionMiddleware) Require(resourceID ResourceID, action Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pm.serve(w, r, next, resourceID, action)
		})
	}
}

// RequireByMethod maps the HTTP method to a capability: safe methods need
// view, DELETE needs delete and everything else needs edit.
func (pm *PermissionMiddleware) RequireByMethod(resourceID ResourceID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pm.serve(w, r, next, resourceID, CapabilityForMethod(r.Method))
		})
	}
}

func (pm *PermissionMiddleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler, resourceID ResourceID, action Capability) {
	ctx := WithRequestMemo(r.Context())

	principalID := contextkeys.GetPrincipalID(ctx)
	if principalID == "" {
		httputil.WriteUnauthorized(w, "principal required")
		return
	}

	decision, err := pm.resolver.ResolvePrincipal(ctx, principalID, resourceID, action)
	if err != nil {
		// fail closed: an unreachable store never lets a request through
		httputil.WriteErrorMessage(w, statusForKind(KindOf(err)), string(KindOf(err)))
		return
	}
	if !decision.Allowed {
		pm.auditLogger.Log(ctx, &audit.Event{
			EventType:   audit.EventTypeAccessDenied,
			Status:      audit.EventStatusDenied,
			TenantID:    pm.tenantID,
			ActorID:     principalID,
			RequestID:   contextkeys.GetRequestID(ctx),
			ResourceID:  string(resourceID),
			PrincipalID: principalID,
			Message:     string(action),
			IPAddress:   clientIP(r),
		})
		httputil.WriteForbidden(w, "insufficient permissions")
		return
	}

	next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, decisionContextKey{}, decision)))
}

// CapabilityForMethod maps an HTTP method onto the capability it exercises
func CapabilityForMethod(method string) Capability {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return CapabilityView
	case http.MethodDelete:
		return CapabilityDelete
	default:
		return CapabilityEdit
	}
}

// DecisionFromContext returns the decision that admitted the request
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(Decision)
	return d, ok
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
