package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/backstage/pkg/httputil"
	"github.com/platinummonkey/backstage/pkg/middleware"
	"github.com/platinummonkey/backstage/pkg/observability"
	"github.com/platinummonkey/backstage/pkg/rbac"
)

// Options wires the server's dependencies. Manager is required.
type Options struct {
	Manager *rbac.Manager
	Logger  logrus.FieldLogger

	// Registry is served on /metrics; Metrics instruments requests
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	Health *observability.HealthChecker

	TenantID    string
	CORSOrigins []string
	RateLimit   middleware.RateLimitConfig
	DevMode     bool
	ServiceName string
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	api     *mux.Router
	handler http.Handler
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "backstage"
	}

	s := &Server{router: mux.NewRouter()}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not_found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method_not_allowed")
	})
	if opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}

	if opts.Health != nil {
		observability.RegisterHealthRoutes(s.router, opts.Health)
	}
	if opts.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(opts.Registry)).Methods(http.MethodGet)
	}

	// Matches everything not registered above; routes added here require a principal
	s.api = s.router.NewRoute().Subrouter()
	s.api.Use(
		middleware.NewPrincipalMiddleware(opts.TenantID, false).Handler,
		middleware.RateLimit(opts.RateLimit),
		httputil.ContentTypeMiddleware,
	)
	opts.Manager.RegisterRoutes(s.api)

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(opts.Logger),
		httputil.LoggingMiddleware(opts.Logger),
		middleware.SecureHeaders(opts.Logger, opts.DevMode),
		httputil.CORSMiddleware(opts.CORSOrigins),
	)(s.router)
	s.handler = otelhttp.NewHandler(s.handler, opts.ServiceName)
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes adds authenticated routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.api)
}
