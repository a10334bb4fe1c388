package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/platinummonkey/backstage/pkg/contextkeys"
	"github.com/platinummonkey/backstage/pkg/httputil"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
	}
}

// RateLimit limits requests per principal, falling back to the client IP for
// anonymous requests. A non-positive limit disables limiting.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestsPerWindow <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = time.Minute
	}
	return httprate.Limit(
		cfg.RequestsPerWindow,
		cfg.WindowDuration,
		httprate.WithKeyFuncs(principalKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate_limited")
		}),
	)
}

func principalKey(r *http.Request) (string, error) {
	if id := contextkeys.GetPrincipalID(r.Context()); id != "" {
		return "principal:" + id, nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}
