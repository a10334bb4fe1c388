// Package httputil provides HTTP helpers shared by the admin API.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, role)
//	httputil.WriteErrorMessage(w, http.StatusNotFound, "not_found")
//	httputil.WriteDetailedError(w, http.StatusUnprocessableEntity, "partial_failure", "", failures)
//
// Error bodies always carry a machine-readable "error" code; the admin console
// owns the user-facing wording.
//
// # Request Parsing
//
// Bodies are decoded strictly (unknown fields rejected, 1MB cap) and validated
// with go-playground/validator tags:
//
//	var req CreateRoleRequest
//	if !httputil.ParseAndValidateOrError(w, r, &req) {
//		return // 400 already written
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)
package httputil
