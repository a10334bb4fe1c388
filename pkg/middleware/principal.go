package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/backstage/pkg/contextkeys"
	"github.com/platinummonkey/backstage/pkg/httputil"
)

const (
	// PrincipalHeader carries the authenticated principal ID
	PrincipalHeader = "X-Principal-ID"
	// TenantHeader carries the tenant the principal acts in
	TenantHeader = "X-Tenant-ID"
)

// PrincipalMiddleware copies the caller identity from gateway headers into
// the request context
type PrincipalMiddleware struct {
	tenantID string
	optional bool // If true, allow requests without a principal
}

// NewPrincipalMiddleware creates the middleware for tenantID
func NewPrincipalMiddleware(tenantID string, optional bool) *PrincipalMiddleware {
	return &PrincipalMiddleware{
		tenantID: tenantID,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with principal extraction
func (m *PrincipalMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenant == "" {
			tenant = m.tenantID
		}
		if m.tenantID != "" && tenant != m.tenantID {
			httputil.WriteForbidden(w, "tenant mismatch")
			return
		}
		ctx = contextkeys.WithTenantID(ctx, tenant)

		principal := strings.TrimSpace(r.Header.Get(PrincipalHeader))
		if principal == "" {
			if !m.optional {
				httputil.WriteUnauthorized(w, "missing principal")
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		ctx = contextkeys.WithPrincipalID(ctx, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
