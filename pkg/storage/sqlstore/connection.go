package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/sirupsen/logrus"
)

// ConnectionManager owns the primary database and optional read replicas.
// Role and grant traffic always uses the primary; replicas serve audit and
// reporting reads that tolerate lag.
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*sql.DB
	current  uint32
	mu       sync.RWMutex
	config   ConnectionConfig
	logger   logrus.FieldLogger
}

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	Dialect     Dialect
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// NewConnectionManager opens and pings the primary, then each replica.
// Replicas that cannot be reached are skipped with a warning.
func NewConnectionManager(ctx context.Context, config ConnectionConfig, logger logrus.FieldLogger) (*ConnectionManager, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.Dialect == "" {
		config.Dialect = DialectPostgres
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	cm := &ConnectionManager{config: config, logger: logger}

	primary, err := cm.open(ctx, config.PrimaryURL, config.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary: %w", err)
	}
	cm.primary = primary

	// SQLite has no replicas; an in-memory database must also stay on one connection
	if config.Dialect == DialectSQLite {
		primary.SetMaxOpenConns(1)
		return cm, nil
	}

	for i, url := range config.ReplicaURLs {
		replicaMaxConns := config.MaxConns / 2
		if replicaMaxConns < 2 {
			replicaMaxConns = 2
		}
		replica, err := cm.open(ctx, url, replicaMaxConns)
		if err != nil {
			logger.WithField("replica", i).WithError(err).Warn("skipping unreachable replica")
			continue
		}
		cm.replicas = append(cm.replicas, replica)
	}

	logger.WithFields(logrus.Fields{
		"dialect":  config.Dialect,
		"replicas": len(cm.replicas),
	}).Info("database connection manager initialized")
	return cm, nil
}

func (cm *ConnectionManager) open(ctx context.Context, url string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open(cm.config.Dialect.DriverName(), url)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if cm.config.MinConns > 0 {
		db.SetMaxIdleConns(cm.config.MinConns)
	}
	db.SetConnMaxLifetime(cm.config.MaxLifetime)
	db.SetConnMaxIdleTime(cm.config.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cm.config.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Dialect returns the configured dialect
func (cm *ConnectionManager) Dialect() Dialect {
	return cm.config.Dialect
}

// Primary returns the primary database (reads and writes)
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read replica using round-robin selection, or the primary
// when no replica is available
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.replicas) == 0 {
		return cm.primary
	}
	index := atomic.AddUint32(&cm.current, 1)
	return cm.replicas[int(index%uint32(len(cm.replicas)))]
}

// HealthCheck pings the primary and every replica. Losing all replicas is
// reported as an error even though the primary still serves reads.
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	cm.mu.RLock()
	replicas := append([]*sql.DB(nil), cm.replicas...)
	cm.mu.RUnlock()

	var unhealthy []string
	for i, replica := range replicas {
		if err := replica.PingContext(ctx); err != nil {
			unhealthy = append(unhealthy, fmt.Sprintf("replica-%d", i))
		}
	}
	if len(unhealthy) > 0 && len(unhealthy) == len(replicas) {
		return fmt.Errorf("all replicas unhealthy: %s", strings.Join(unhealthy, ", "))
	}
	return nil
}

// ConnectionStats holds pool statistics for all connections
type ConnectionStats struct {
	Primary  sql.DBStats
	Replicas []sql.DBStats
}

// Stats returns pool statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	stats := ConnectionStats{Primary: cm.primary.Stats()}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	stats.Replicas = make([]sql.DBStats, len(cm.replicas))
	for i, replica := range cm.replicas {
		stats.Replicas[i] = replica.Stats()
	}
	return stats
}

// Close closes every connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errs []error
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary: %w", err))
	}
	for i, replica := range cm.replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d: %w", i, err))
		}
	}
	cm.replicas = nil
	return errors.Join(errs...)
}

// ParseReplicaURLs splits a comma-separated list of replica URLs
func ParseReplicaURLs(urls string) []string {
	if urls == "" {
		return nil
	}
	var out []string
	for _, url := range strings.Split(urls, ",") {
		if url = strings.TrimSpace(url); url != "" {
			out = append(out, url)
		}
	}
	return out
}
