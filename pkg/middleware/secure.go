package middleware

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/unrolled/secure"

	"github.com/platinummonkey/backstage/pkg/httputil"
)

// SecureHeaders sets hardening headers on every response. devMode relaxes
// checks that need TLS.
func SecureHeaders(logger logrus.FieldLogger, devMode bool) func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'",
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		STSSeconds:            31536000,
		IsDevelopment:         devMode,
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sm.Process(w, r); err != nil {
				logger.WithError(err).Warn("Secure headers blocked request")
				httputil.WriteErrorMessage(w, http.StatusBadRequest, "request_blocked")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
