package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	DecisionsTotal *prometheus.CounterVec
	MutationsTotal *prometheus.CounterVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Catalog and snapshot metrics
	CatalogReloadsTotal *prometheus.CounterVec
	SnapshotsTotal      *prometheus.CounterVec
}

var _ rbac.MetricsRecorder = (*Metrics)(nil)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backstage_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backstage_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backstage_rbac_decisions_total",
				Help: "Total number of permission decisions",
			},
			[]string{"action", "allowed", "bypass"},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backstage_rbac_mutations_total",
				Help: "Total number of role and grant mutations by outcome",
			},
			[]string{"operation", "result"},
		),
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backstage_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backstage_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "backend"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backstage_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backstage_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),
		CatalogReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backstage_catalog_reloads_total",
				Help: "Total number of resource catalog applications",
			},
			[]string{"status"},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backstage_snapshots_total",
				Help: "Total number of exported authority snapshots",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.MutationsTotal,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CatalogReloadsTotal,
		m.SnapshotsTotal,
	)

	return m
}

// RecordDecision counts one resolver decision
func (m *Metrics) RecordDecision(action rbac.Capability, allowed, bypass bool) {
	m.DecisionsTotal.WithLabelValues(string(action), strconv.FormatBool(allowed), strconv.FormatBool(bypass)).Inc()
}

// RecordCacheLookup counts a hit or miss of the named cache
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordMutation counts a mutation; an empty kind means success
func (m *Metrics) RecordMutation(op string, kind rbac.Kind) {
	result := "ok"
	if kind != "" {
		result = string(kind)
	}
	m.MutationsTotal.WithLabelValues(op, result).Inc()
}

// RecordStorageOperation counts and times one backend call
func (m *Metrics) RecordStorageOperation(operation, backend string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// RecordCatalogReload counts a catalog application
func (m *Metrics) RecordCatalogReload(err error) {
	m.CatalogReloadsTotal.WithLabelValues(statusLabel(err)).Inc()
}

// RecordSnapshot counts an exported snapshot
func (m *Metrics) RecordSnapshot(err error) {
	m.SnapshotsTotal.WithLabelValues(statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Routes are labelled by
// their mux template so path parameters do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if cr := mux.CurrentRoute(r); cr != nil {
				if tpl, err := cr.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
