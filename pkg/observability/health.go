package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

// ErrDegraded marks a dependency that answers but is impaired
var ErrDegraded = errors.New("degraded")

// Probe checks one dependency. Returning an error wrapping ErrDegraded reports
// the dependency as degraded rather than down.
type Probe func(ctx context.Context) error

// Criticality decides how a failing probe affects readiness
type Criticality int

const (
	// Critical probes make the service unready when they fail
	Critical Criticality = iota
	// Optional probes only degrade readiness
	Optional
)

type probe struct {
	name        string
	check       Probe
	criticality Criticality
}

// HealthChecker reports liveness and the readiness of registered dependencies
type HealthChecker struct {
	version string
	timeout time.Duration

	mu     sync.RWMutex
	probes []probe
}

// NewHealthChecker creates a checker with a critical database probe and an
// optional Redis probe. db and redis may be nil.
func NewHealthChecker(db *sql.DB, redis redis.UniversalClient, version string) *HealthChecker {
	h := &HealthChecker{version: version, timeout: 5 * time.Second}
	if db != nil {
		h.AddProbe("database", DatabaseProbe(db), Critical)
	}
	// a Redis outage only degrades: decisions fall back to the store
	if redis != nil {
		h.AddProbe("redis", RedisProbe(redis), Optional)
	}
	return h
}

// AddProbe registers a dependency check
func (h *HealthChecker) AddProbe(name string, check Probe, criticality Criticality) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe{name: name, check: check, criticality: criticality})
}

// DatabaseProbe pings db and reports an exhausted pool as degraded
func DatabaseProbe(db *sql.DB) Probe {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return fmt.Errorf("%w: connection pool exhausted", ErrDegraded)
		}
		return nil
	}
}

// RedisProbe pings the Redis client
func RedisProbe(client redis.UniversalClient) Probe {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness always returns 200 while the process serves requests
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns 503 when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// Check runs every probe concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := append([]probe(nil), h.probes...)
	h.mu.RUnlock()

	results := make([]DependencyStatus, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		i, p := i, p
		g.Go(func() error {
			results[i] = runProbe(ctx, p.check)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(probes)),
	}
	for i, p := range probes {
		dep := results[i]
		status.Dependencies[p.name] = dep
		switch {
		case dep.Status == StatusUnhealthy && p.criticality == Critical:
			status.Status = StatusUnhealthy
		case dep.Status != StatusHealthy && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

func runProbe(ctx context.Context, check Probe) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{Status: StatusHealthy, Timestamp: start}

	err := check(ctx)
	status.Latency = time.Since(start)
	switch {
	case err == nil:
	case errors.Is(err, ErrDegraded):
		status.Status = StatusDegraded
		status.Message = err.Error()
	default:
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
