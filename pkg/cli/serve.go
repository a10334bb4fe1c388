package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/backstage/pkg/api"
	"github.com/platinummonkey/backstage/pkg/catalog"
	"github.com/platinummonkey/backstage/pkg/jobs"
	"github.com/platinummonkey/backstage/pkg/middleware"
	"github.com/platinummonkey/backstage/pkg/observability"
)

func newServeCommand() *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Run the permission API server",
		Flags:       flag.NewFlagSet("serve", flag.ContinueOnError),
	}

	catalogPath := cmd.Flags.String("catalog", "", "Resource catalog file (overrides BACKSTAGE_CATALOG_PATH)")
	port := cmd.Flags.String("port", "", "Port to listen on (overrides BACKSTAGE_PORT)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		rt, err := loadRuntime(ctx)
		if err != nil {
			return err
		}
		if *catalogPath != "" {
			rt.Config.Catalog.Path = *catalogPath
		}
		if *port != "" {
			rt.Config.Server.Port = *port
		}
		return serve(ctx, rt)
	}
	return cmd
}

// serve runs the API until a signal arrives or the listener fails. It owns rt
// and closes it on return.
func serve(ctx context.Context, rt *Runtime) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := rt.Config
	logger := rt.Logger

	if err := bootstrap(ctx, rt); err != nil {
		_ = rt.Close(context.Background())
		return err
	}

	health := rt.Health()
	var scheduler *jobs.Scheduler
	if cfg.Jobs.SnapshotSchedule != "" {
		exporter, err := rt.Exporter(ctx)
		if err != nil {
			_ = rt.Close(context.Background())
			return err
		}
		health.AddProbe("snapshot_bucket", exporter.HealthCheck, observability.Optional)
		if scheduler, err = newScheduler(rt, exporter); err != nil {
			_ = rt.Close(context.Background())
			return err
		}
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      newAPIServer(rt, health),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return nil
	})

	if cfg.Catalog.Watch {
		watcher := catalog.NewWatcher(rt.Applier(), cfg.Catalog.Path, catalog.DefaultDebounce)
		go func() {
			defer observability.RecoverPanic(logger, "catalog watcher")
			if err := watcher.Run(ctx); err != nil {
				logger.WithError(err).Error("Catalog watcher stopped")
			}
		}()
	}

	if scheduler != nil {
		scheduler.Start()
		shutdown.RegisterShutdownFunc(scheduler.Stop)
	}

	for _, fn := range rt.ShutdownFuncs() {
		shutdown.RegisterShutdownFunc(fn)
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":   server.Addr,
			"tenant": cfg.Tenant.ID,
		}).Info("Starting Backstage server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
			cancel()
		}
	}()

	err := shutdown.WaitForShutdown(ctx)
	select {
	case lerr := <-listenErr:
		return fmt.Errorf("server failed: %w", lerr)
	default:
	}
	return err
}

// bootstrap ensures the Super Admin role exists and applies the catalog when
// one is configured
func bootstrap(ctx context.Context, rt *Runtime) error {
	path := rt.Config.Catalog.Path
	if path == "" {
		if err := rt.Manager.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize roles: %w", err)
		}
		return nil
	}

	res, err := rt.Applier().ApplyFile(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to apply catalog: %w", err)
	}
	rt.Logger.WithFields(logrus.Fields{
		"catalog":      path,
		"resources":    res.Resources,
		"system_roles": len(res.SystemRoles),
	}).Info("Resource catalog applied")
	return nil
}

func newAPIServer(rt *Runtime, health *observability.HealthChecker) *api.Server {
	cfg := rt.Config
	opts := api.Options{
		Manager:     rt.Manager,
		Logger:      rt.Logger,
		Health:      health,
		TenantID:    cfg.Tenant.ID,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Server.RateLimit,
			WindowDuration:    cfg.Server.RateWindow,
		},
		DevMode:     cfg.Server.DevMode,
		ServiceName: cfg.Observability.OTelServiceName,
	}
	if cfg.Observability.MetricsEnabled {
		opts.Registry = rt.Registry
		opts.Metrics = rt.Metrics
	}
	return api.NewServer(opts)
}

func newScheduler(rt *Runtime, exporter jobs.Exporter) (*jobs.Scheduler, error) {
	scheduler := jobs.NewScheduler(rt.Logger, rt.Config.Jobs.Timeout)
	if err := scheduler.Add(rt.Config.Jobs.SnapshotSchedule, rt.SnapshotJob(exporter)); err != nil {
		return nil, err
	}
	return scheduler, nil
}
