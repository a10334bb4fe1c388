package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/backstage/pkg/audit"
	"github.com/platinummonkey/backstage/pkg/cache"
	"github.com/platinummonkey/backstage/pkg/catalog"
	"github.com/platinummonkey/backstage/pkg/config"
	"github.com/platinummonkey/backstage/pkg/export"
	"github.com/platinummonkey/backstage/pkg/jobs"
	"github.com/platinummonkey/backstage/pkg/observability"
	"github.com/platinummonkey/backstage/pkg/rbac"
	"github.com/platinummonkey/backstage/pkg/storage/memory"
	"github.com/platinummonkey/backstage/pkg/storage/sqlstore"
)

// Runtime holds the dependencies shared by every command
type Runtime struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	// Conn is nil when the in-memory backend is selected
	Conn    *sqlstore.ConnectionManager
	Redis   *redis.Client
	Backend rbac.Backend
	Audit   *audit.MultiLogger
	Manager *rbac.Manager

	// Decisions is nil when decision caching is off
	Decisions rbac.DecisionCache

	recorders observability.Recorders
	closers   []observability.ShutdownFunc
}

// NewRuntime opens storage and caches and builds the engine. Close releases
// whatever was opened, also after a partial failure.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (rt *Runtime, err error) {
	rt = &Runtime{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
			rt = nil
		}
	}()

	rt.Metrics = observability.NewMetrics(rt.Registry)
	if cfg.Observability.MetricsEnabled {
		rt.recorders = append(rt.recorders, rt.Metrics)
	}

	if err := rt.initOTel(ctx); err != nil {
		return rt, err
	}
	if err := rt.openBackend(ctx); err != nil {
		return rt, err
	}

	if rt.Decisions, err = rt.openCache(ctx); err != nil {
		return rt, err
	}

	sinks := []audit.Logger{audit.NewLogrusLogger(logger)}
	if rt.Conn != nil {
		sinks = append(sinks, audit.NewDBLogger(rt.Conn.Primary()).WithReader(rt.Conn.Replica()))
	}
	rt.Audit = audit.NewMultiLogger(sinks...)

	opts := []rbac.Option{
		rbac.WithLogger(logger),
		rbac.WithMetrics(rt.recorders),
		// other processes write to a SQL store without reaching our invalidators
		rbac.WithAnalyticsCache(rt.Conn == nil),
	}
	if rt.Decisions != nil {
		opts = append(opts, rbac.WithDecisionCache(rt.Decisions), rbac.WithInvalidator(rt.Decisions))
	}
	rt.Manager = rbac.NewManager(rt.Backend, rbac.Config{
		TenantID:    cfg.Tenant.ID,
		AuditLogger: rt.Audit,
	}, opts...)

	return rt, nil
}

func (rt *Runtime) initOTel(ctx context.Context) error {
	otelCfg := rt.Config.Observability.OTel()
	otelCfg.TenantID = rt.Config.Tenant.ID

	providers, err := observability.InitOTel(ctx, otelCfg, rt.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if providers == nil {
		return nil
	}
	rt.onClose(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, rt.Logger)
	})

	otelMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry metrics: %w", err)
	}
	rt.recorders = append(rt.recorders, otelMetrics)
	return nil
}

func (rt *Runtime) openBackend(ctx context.Context) error {
	cfg := rt.Config
	if cfg.Database.URL == "" {
		rt.Logger.Warn("No database configured, using in-memory backend")
		rt.Backend = memory.New(cfg.Tenant.ID)
		return nil
	}

	conn, err := rt.connect(ctx)
	if err != nil {
		return err
	}

	dialect := conn.Dialect()
	if cfg.Database.AutoMigrate {
		if err := sqlstore.Migrate(ctx, conn.Primary(), dialect); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	rt.Backend = sqlstore.NewStore(conn.Primary(), dialect, cfg.Tenant.ID, sqlstore.WithRecorder(rt.recorders))
	return nil
}

// connect opens the primary and replicas once per runtime
func (rt *Runtime) connect(ctx context.Context) (*sqlstore.ConnectionManager, error) {
	if rt.Conn != nil {
		return rt.Conn, nil
	}
	connCfg, err := rt.Config.Database.ConnectionConfig()
	if err != nil {
		return nil, err
	}
	conn, err := sqlstore.NewConnectionManager(ctx, connCfg, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	rt.Conn = conn
	rt.onClose(func(context.Context) error { return conn.Close() })
	return conn, nil
}

// openCache prefers Redis so decisions are shared across replicas of the
// service. The in-process LRU is only used with the memory backend: a SQL
// store can be written by other replicas or the catalog command, and those
// writes never invalidate a private cache. It returns nil when caching is off.
func (rt *Runtime) openCache(ctx context.Context) (rbac.DecisionCache, error) {
	cfg := rt.Config
	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.PoolSize)
		if err != nil {
			return nil, err
		}
		rt.Redis = client
		rt.onClose(func(context.Context) error { return client.Close() })
		rt.Logger.Info("Decision cache: redis")
		return cache.NewRedis(client, cfg.Tenant.ID, cfg.Cache.TTL), nil
	}
	if !cfg.Cache.Enabled {
		rt.Logger.Info("Decision cache disabled")
		return nil, nil
	}
	if rt.Conn != nil {
		rt.Logger.Warn("Decision cache disabled: a shared database needs BACKSTAGE_REDIS_URL for cross-process invalidation")
		return nil, nil
	}
	rt.Logger.WithField("max_entries", cfg.Cache.MaxEntries).Info("Decision cache: in-process LRU")
	return cache.NewLRU(cache.Config{MaxEntries: cfg.Cache.MaxEntries, TTL: cfg.Cache.TTL}), nil
}

// Applier returns a catalog applier wired to the runtime's metrics and audit sink
func (rt *Runtime) Applier() *catalog.Applier {
	return catalog.NewApplier(rt.Manager,
		catalog.WithMetrics(rt.Metrics),
		catalog.WithAuditLogger(rt.Audit),
		catalog.WithLogger(rt.Logger),
		catalog.WithTenantID(rt.Config.Tenant.ID),
	)
}

// Exporter connects to the snapshot bucket, creating it when missing
func (rt *Runtime) Exporter(ctx context.Context) (*export.S3Exporter, error) {
	e := rt.Config.Export
	if !e.Enabled() {
		return nil, errors.New("no export bucket configured")
	}
	exporter, err := export.NewS3Exporter(ctx, export.Config{
		Bucket:         e.Bucket,
		Prefix:         e.Prefix,
		Region:         e.Region,
		Endpoint:       e.Endpoint,
		AccessKey:      e.AccessKey,
		SecretKey:      e.SecretKey,
		ForcePathStyle: e.ForcePathStyle,
	})
	if err != nil {
		return nil, err
	}
	if err := exporter.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return exporter, nil
}

// SnapshotJob exports every preset through exporter
func (rt *Runtime) SnapshotJob(exporter jobs.Exporter) *jobs.SnapshotJob {
	return jobs.NewSnapshotJob(rt.Manager.Aggregator(), exporter, rt.Metrics, rt.Logger, rt.Config.Tenant.ID)
}

// Health builds the readiness checker over the opened dependencies
func (rt *Runtime) Health() *observability.HealthChecker {
	var rc redis.UniversalClient
	if rt.Redis != nil {
		rc = rt.Redis
	}
	if rt.Conn != nil {
		return observability.NewHealthChecker(rt.Conn.Primary(), rc, Version)
	}
	return observability.NewHealthChecker(nil, rc, Version)
}

func (rt *Runtime) onClose(fn observability.ShutdownFunc) {
	rt.closers = append(rt.closers, fn)
}

// ShutdownFuncs returns the release functions in reverse opening order
func (rt *Runtime) ShutdownFuncs() []observability.ShutdownFunc {
	fns := make([]observability.ShutdownFunc, 0, len(rt.closers))
	for i := len(rt.closers) - 1; i >= 0; i-- {
		fns = append(fns, rt.closers[i])
	}
	return fns
}

// Close releases everything the runtime opened
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for _, fn := range rt.ShutdownFuncs() {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// loadRuntime reads configuration and builds the logger and runtime
func loadRuntime(ctx context.Context) (*Runtime, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(cfg.Log.Options())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return NewRuntime(ctx, cfg, logger)
}
