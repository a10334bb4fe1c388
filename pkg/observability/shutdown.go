package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager handles graceful shutdown of the server and its dependencies
type ShutdownManager struct {
	logger          logrus.FieldLogger
	server          *http.Server
	shutdownFuncs   []ShutdownFunc
	shutdownTimeout time.Duration
	mu              sync.Mutex
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger logrus.FieldLogger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:          logger,
		server:          server,
		shutdownTimeout: timeout,
	}
}

// RegisterShutdownFunc registers a function to call after the server stops.
// Functions run in registration order.
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, fn)
}

// WaitForShutdown blocks until SIGINT/SIGTERM or ctx is done, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.WithField("signal", sig.String()).Info("Starting graceful shutdown")
	case <-ctx.Done():
		sm.logger.Info("Context cancelled, starting graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()
	return sm.Shutdown(shutdownCtx)
}

// Shutdown stops the HTTP server, then runs the registered functions
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	if sm.server != nil {
		sm.logger.Info("Shutting down HTTP server")
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
	}

	sm.mu.Lock()
	funcs := append([]ShutdownFunc(nil), sm.shutdownFuncs...)
	sm.mu.Unlock()

	var errs []error
	for i, fn := range funcs {
		if err := ctx.Err(); err != nil {
			sm.logger.Warn("Shutdown timeout reached, skipping remaining functions")
			errs = append(errs, fmt.Errorf("shutdown timeout reached: %w", err))
			break
		}
		if err := fn(ctx); err != nil {
			sm.logger.WithError(err).WithField("index", i).Error("Shutdown function failed")
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with %d errors: %w", len(errs), errors.Join(errs...))
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}
