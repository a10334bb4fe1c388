package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/backstage/pkg/audit"
	"github.com/platinummonkey/backstage/pkg/observability"
	"github.com/platinummonkey/backstage/pkg/rbac"
)

var tracer = otel.Tracer("backstage/catalog")

// ReloadRecorder counts catalog applications. observability.Metrics implements it.
type ReloadRecorder interface {
	RecordCatalogReload(err error)
}

type noopRecorder struct{}

func (noopRecorder) RecordCatalogReload(error) {}

// Result summarizes one application
type Result struct {
	Resources   int           `json:"resources"`
	SystemRoles []rbac.RoleID `json:"system_roles"`
}

// Applier writes catalogs into the engine
type Applier struct {
	manager  *rbac.Manager
	metrics  ReloadRecorder
	audit    audit.Logger
	logger   logrus.FieldLogger
	tenantID string
}

// Option configures an Applier
type Option func(*Applier)

// WithMetrics sets the reload recorder
func WithMetrics(m ReloadRecorder) Option {
	return func(a *Applier) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithAuditLogger records a catalog.apply event per application
func WithAuditLogger(l audit.Logger) Option {
	return func(a *Applier) {
		if l != nil {
			a.audit = l
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Applier) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTenantID stamps audit events
func WithTenantID(id string) Option {
	return func(a *Applier) {
		a.tenantID = id
	}
}

// NewApplier creates an applier over manager
func NewApplier(manager *rbac.Manager, opts ...Option) *Applier {
	a := &Applier{
		manager: manager,
		metrics: noopRecorder{},
		audit:   audit.NoOpLogger{},
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ApplyFile loads path and applies it
func (a *Applier) ApplyFile(ctx context.Context, path string) (*Result, error) {
	c, err := LoadFile(path)
	if err != nil {
		a.record(ctx, nil, err)
		return nil, err
	}
	return a.Apply(ctx, c)
}

// Apply upserts resources, then ensures and seeds every system role. The Super
// Admin role is always ensured last so wildcard defaults cover new resources.
// A cache invalidation failure is logged and does not fail the application.
func (a *Applier) Apply(ctx context.Context, c *Catalog) (*Result, error) {
	ctx, span := tracer.Start(ctx, "catalog.Apply")
	defer span.End()

	res, err := a.apply(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.Int("catalog.resources", res.Resources),
			attribute.Int("catalog.system_roles", len(res.SystemRoles)),
		)
	}
	a.record(ctx, res, err)
	return res, err
}

func (a *Applier) apply(ctx context.Context, c *Catalog) (*Result, error) {
	backend := a.manager.Backend()
	err := backend.WithTx(ctx, func(tx rbac.Repository) error {
		for _, spec := range c.Resources {
			r := spec.Resource()
			if err := tx.UpsertResource(ctx, &r); err != nil {
				return fmt.Errorf("failed to upsert resource %s: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Resources: len(c.Resources)}
	defaults := a.manager.Matrix().Defaults()
	for _, spec := range c.SystemRoles {
		role, err := a.manager.Roles().EnsureSystemRole(ctx, spec.Role())
		if err != nil && !a.tolerable(err, spec.Name) {
			return nil, fmt.Errorf("failed to ensure system role %s: %w", spec.Name, err)
		}
		defaults.Replace(role.Name, spec.Grants())
		if err := a.manager.Matrix().SeedDefaults(ctx, role.ID); err != nil && !a.tolerable(err, spec.Name) {
			return nil, fmt.Errorf("failed to seed system role %s: %w", spec.Name, err)
		}
		res.SystemRoles = append(res.SystemRoles, role.ID)
	}

	if err := a.manager.Initialize(ctx); err != nil && !a.tolerable(err, rbac.SuperAdminRoleName) {
		return nil, err
	}

	observability.LoggerWithTraceContext(ctx, a.logger).WithFields(logrus.Fields{
		"resources":    res.Resources,
		"system_roles": len(res.SystemRoles),
	}).Info("Applied resource catalog")
	return res, nil
}

func (a *Applier) tolerable(err error, role string) bool {
	if !rbac.IsInvalidationFailure(err) {
		return false
	}
	a.logger.WithError(err).WithField("role", role).Warn("Catalog write committed but cache invalidation failed")
	return true
}

func (a *Applier) record(ctx context.Context, res *Result, err error) {
	a.metrics.RecordCatalogReload(err)

	event := &audit.Event{
		EventType: audit.EventTypeCatalogApply,
		Status:    audit.EventStatusSuccess,
		TenantID:  a.tenantID,
		After:     res,
	}
	if err != nil {
		event.Status = audit.EventStatusFailure
		var rerr *rbac.Error
		if errors.As(err, &rerr) {
			event.ErrorKind = string(rerr.Kind)
		}
		event.Message = err.Error()
	}
	if logErr := a.audit.Log(ctx, event); logErr != nil {
		a.logger.WithError(logErr).Warn("Failed to record catalog audit event")
	}
}
