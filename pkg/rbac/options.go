package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("backstage/rbac")

// Option configures the engine components
type Option func(*options)

type options struct {
	logger      logrus.FieldLogger
	metrics     MetricsRecorder
	invalidator Invalidator
	defaults    *SystemDefaults
	cache       DecisionCache
	noAnalytics bool
	now         func() time.Time
}

func newOptions(opts []Option) options {
	o := options{
		logger:  logrus.StandardLogger(),
		metrics: noopMetrics{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.defaults == nil {
		o.defaults = NewSystemDefaults()
	}
	return o
}

// WithLogger sets the logger used for operational messages
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithInvalidator registers a cache to be invalidated after writes
func WithInvalidator(inv Invalidator) Option {
	return func(o *options) {
		if inv == nil {
			return
		}
		if existing, ok := o.invalidator.(Invalidators); ok {
			o.invalidator = append(existing, inv)
			return
		}
		if o.invalidator != nil {
			o.invalidator = Invalidators{o.invalidator, inv}
			return
		}
		o.invalidator = inv
	}
}

// WithSystemDefaults shares a defaults registry between components
func WithSystemDefaults(d *SystemDefaults) Option {
	return func(o *options) {
		o.defaults = d
	}
}

// WithDecisionCache enables cross-request caching in the Resolver
func WithDecisionCache(c DecisionCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithAnalyticsCache turns the aggregator's in-process result cache on or
// off. It is on by default and should be off when other processes write to
// the same store, since their writes never reach this process's invalidators.
func WithAnalyticsCache(enabled bool) Option {
	return func(o *options) {
		o.noAnalytics = !enabled
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// invalidate notifies caches after a committed write. The write stays durable
// when invalidation fails; the failure is reported so the caller can retry.
func (o options) invalidate(ctx context.Context, op string, roleID RoleID) error {
	if o.invalidator == nil {
		return nil
	}
	if err := o.invalidator.InvalidateRole(ctx, roleID); err != nil {
		o.logger.WithFields(logrus.Fields{
			"op":      op,
			"role_id": roleID,
		}).WithError(err).Warn("cache invalidation failed")
		return &Error{Kind: KindStoreUnavailable, Op: op, RoleID: roleID, Err: &invalidationError{err: err}}
	}
	return nil
}

// fail records a failed mutation and normalizes its error
func (o options) fail(op string, err error) error {
	err = storeError(op, err)
	o.metrics.RecordMutation(op, KindOf(err))
	if KindOf(err) == KindStoreUnavailable {
		o.logger.WithField("op", op).WithError(err).Error("store operation failed")
	}
	return err
}

// invalidationError marks a cache invalidation failure that followed a committed write
type invalidationError struct {
	err error
}

func (e *invalidationError) Error() string {
	return "cache invalidation: " + e.err.Error()
}

func (e *invalidationError) Unwrap() error {
	return e.err
}

// IsInvalidationFailure reports whether err only signals that caches could
// not be invalidated after the write was committed
func IsInvalidationFailure(err error) bool {
	var ie *invalidationError
	return errors.As(err, &ie)
}
