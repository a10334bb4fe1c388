package rbac

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PermissionMatrix maintains the sparse (role, resource) grant table and
// enforces the delete => edit => view cascade on every write.
type PermissionMatrix struct {
	backend Backend
	opts    options
}

// NewPermissionMatrix creates a matrix over backend
func NewPermissionMatrix(backend Backend, opts ...Option) *PermissionMatrix {
	return &PermissionMatrix{backend: backend, opts: newOptions(opts)}
}

// Defaults exposes the system defaults registry
func (m *PermissionMatrix) Defaults() *SystemDefaults {
	return m.opts.defaults
}

// SetCapability sets one capability and cascades the others
func (m *PermissionMatrix) SetCapability(ctx context.Context, roleID RoleID, resourceID ResourceID, c Capability, value bool) (*PermissionGrant, error) {
	const op = "rbac.SetCapability"
	ctx, span := m.startSpan(ctx, op, roleID, resourceID)
	defer span.End()

	if !c.Valid() {
		return nil, m.opts.fail(op, &Error{Kind: KindInvalid, Op: op, RoleID: roleID, ResourceID: resourceID})
	}

	var out PermissionGrant
	err := m.backend.WithTx(ctx, func(tx Repository) error {
		role, current, err := m.loadForWrite(ctx, tx, roleID, resourceID)
		if err != nil {
			return err
		}

		next := ApplyCapability(current, c, value)
		if d, ok := m.opts.defaults.defaultFor(role, resourceID); ok && belowDefault(next, d) {
			return &Error{Kind: KindSystemRoleProtected, Op: op, RoleID: roleID, ResourceID: resourceID}
		}

		out, err = m.write(ctx, tx, current, next)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, m.opts.fail(op, err)
	}

	m.opts.metrics.RecordMutation(op, "")
	m.opts.logger.WithFields(logrus.Fields{
		"role_id":     roleID,
		"resource_id": resourceID,
		"capability":  c,
		"value":       value,
	}).Info("capability updated")

	if err := m.opts.invalidate(ctx, op, roleID); err != nil {
		return &out, err
	}
	return &out, nil
}

// SetDataScope changes the row visibility of a grant. View must already be granted.
func (m *PermissionMatrix) SetDataScope(ctx context.Context, roleID RoleID, resourceID ResourceID, scope DataScope) (*PermissionGrant, error) {
	const op = "rbac.SetDataScope"
	ctx, span := m.startSpan(ctx, op, roleID, resourceID)
	defer span.End()

	if !scope.Valid() {
		return nil, m.opts.fail(op, &Error{Kind: KindInvalid, Op: op, RoleID: roleID, ResourceID: resourceID})
	}

	var out PermissionGrant
	err := m.backend.WithTx(ctx, func(tx Repository) error {
		role, current, err := m.loadForWrite(ctx, tx, roleID, resourceID)
		if err != nil {
			return err
		}
		if !current.CanView {
			return &Error{Kind: KindViewRequired, Op: op, RoleID: roleID, ResourceID: resourceID}
		}

		next := current
		next.DataScope = scope
		if d, ok := m.opts.defaults.defaultFor(role, resourceID); ok && belowDefault(next, d) {
			return &Error{Kind: KindSystemRoleProtected, Op: op, RoleID: roleID, ResourceID: resourceID}
		}

		out, err = m.write(ctx, tx, current, next)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, m.opts.fail(op, err)
	}

	m.opts.metrics.RecordMutation(op, "")
	m.opts.logger.WithFields(logrus.Fields{
		"role_id":     roleID,
		"resource_id": resourceID,
		"data_scope":  scope,
	}).Info("data scope updated")

	if err := m.opts.invalidate(ctx, op, roleID); err != nil {
		return &out, err
	}
	return &out, nil
}

// GetGrant returns the stored grant, or the default "no access" grant when no row exists
func (m *PermissionMatrix) GetGrant(ctx context.Context, roleID RoleID, resourceID ResourceID) (*PermissionGrant, error) {
	const op = "rbac.GetGrant"

	if _, err := m.backend.GetRole(ctx, roleID); err != nil {
		return nil, storeError(op, err)
	}
	if _, err := m.backend.GetResource(ctx, resourceID); err != nil {
		return nil, storeError(op, err)
	}
	g, err := currentGrant(ctx, m.backend, roleID, resourceID)
	if err != nil {
		return nil, storeError(op, err)
	}
	return &g, nil
}

// ListGrants returns the stored grant rows of a role
func (m *PermissionMatrix) ListGrants(ctx context.Context, roleID RoleID) ([]PermissionGrant, error) {
	const op = "rbac.ListGrants"

	if _, err := m.backend.GetRole(ctx, roleID); err != nil {
		return nil, storeError(op, err)
	}
	grants, err := m.backend.ListGrants(ctx, roleID)
	if err != nil {
		return nil, storeError(op, err)
	}
	return grants, nil
}

// BulkUpsert writes several grants of one role atomically. Every row is checked
// first; if any fails, nothing is written and a PartialFailure lists the rows.
func (m *PermissionMatrix) BulkUpsert(ctx context.Context, roleID RoleID, grants []PermissionGrant) ([]PermissionGrant, error) {
	const op = "rbac.BulkUpsert"
	ctx, span := m.startSpan(ctx, op, roleID, "")
	defer span.End()
	span.SetAttributes(attribute.Int("grant_count", len(grants)))

	var out []PermissionGrant
	err := m.backend.WithTx(ctx, func(tx Repository) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}

		var failures []GrantFailure
		seen := make(map[ResourceID]struct{}, len(grants))
		rows := make([]PermissionGrant, 0, len(grants))
		for _, g := range grants {
			g.RoleID = roleID
			kind, err := m.checkRow(ctx, tx, role, g, seen)
			if err != nil {
				return err
			}
			if kind != "" {
				failures = append(failures, GrantFailure{ResourceID: g.ResourceID, Kind: kind})
				continue
			}
			rows = append(rows, normalizeGrant(g))
		}
		if len(failures) > 0 {
			return &Error{Kind: KindPartialFailure, Op: op, RoleID: roleID, Failures: failures}
		}

		now := m.opts.now()
		for _, g := range rows {
			g.UpdatedAt = now
			if err := tx.UpsertGrant(ctx, g); err != nil {
				return err
			}
			out = append(out, g)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, m.opts.fail(op, err)
	}

	m.opts.metrics.RecordMutation(op, "")
	m.opts.logger.WithFields(logrus.Fields{
		"role_id":     roleID,
		"grant_count": len(out),
	}).Info("grants upserted")

	if err := m.opts.invalidate(ctx, op, roleID); err != nil {
		return out, err
	}
	return out, nil
}

// SeedDefaults raises the grants of a system role to its registered defaults.
// Wildcard defaults are expanded over every known resource.
func (m *PermissionMatrix) SeedDefaults(ctx context.Context, roleID RoleID) error {
	const op = "rbac.SeedDefaults"

	err := m.backend.WithTx(ctx, func(tx Repository) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if !role.IsSystemRole {
			return nil
		}

		resources, err := tx.ListResources(ctx)
		if err != nil {
			return err
		}
		now := m.opts.now()
		for _, res := range resources {
			d, ok := m.opts.defaults.defaultFor(role, res.ID)
			if !ok {
				continue
			}
			current, err := currentGrant(ctx, tx, roleID, res.ID)
			if err != nil {
				return err
			}
			next := raiseTo(current, d)
			if next == current {
				continue
			}
			next.UpdatedAt = now
			if err := tx.UpsertGrant(ctx, next); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return m.opts.fail(op, err)
	}
	m.opts.metrics.RecordMutation(op, "")
	return m.opts.invalidate(ctx, op, roleID)
}

func (m *PermissionMatrix) checkRow(ctx context.Context, tx Repository, role *Role, g PermissionGrant, seen map[ResourceID]struct{}) (Kind, error) {
	if _, dup := seen[g.ResourceID]; dup || g.ResourceID == "" {
		return KindInvalid, nil
	}
	seen[g.ResourceID] = struct{}{}

	if err := ValidateGrant(g); err != nil {
		return KindOf(err), nil
	}
	if _, err := tx.GetResource(ctx, g.ResourceID); err != nil {
		if KindOf(err) == KindNotFound {
			return KindNotFound, nil
		}
		return "", err
	}
	if d, ok := m.opts.defaults.defaultFor(role, g.ResourceID); ok && belowDefault(normalizeGrant(g), d) {
		return KindSystemRoleProtected, nil
	}
	return "", nil
}

// loadForWrite reads the role (locking it where supported), checks the resource
// and returns the current grant.
func (m *PermissionMatrix) loadForWrite(ctx context.Context, tx Repository, roleID RoleID, resourceID ResourceID) (*Role, PermissionGrant, error) {
	role, err := tx.GetRole(ctx, roleID)
	if err != nil {
		return nil, PermissionGrant{}, err
	}
	if _, err := tx.GetResource(ctx, resourceID); err != nil {
		return nil, PermissionGrant{}, err
	}
	current, err := currentGrant(ctx, tx, roleID, resourceID)
	if err != nil {
		return nil, PermissionGrant{}, err
	}
	return role, current, nil
}

func (m *PermissionMatrix) write(ctx context.Context, tx Repository, current, next PermissionGrant) (PermissionGrant, error) {
	next = normalizeGrant(next)
	if next == current {
		return current, nil
	}
	next.UpdatedAt = m.opts.now()
	if err := tx.UpsertGrant(ctx, next); err != nil {
		return PermissionGrant{}, err
	}
	return next, nil
}

func (m *PermissionMatrix) startSpan(ctx context.Context, op string, roleID RoleID, resourceID ResourceID) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(
		attribute.String("role_id", string(roleID)),
		attribute.String("resource_id", string(resourceID)),
	)
	return ctx, span
}

// currentGrant reads a grant row, substituting the default when absent
func currentGrant(ctx context.Context, repo Repository, roleID RoleID, resourceID ResourceID) (PermissionGrant, error) {
	g, err := repo.GetGrant(ctx, roleID, resourceID)
	if err != nil {
		return PermissionGrant{}, err
	}
	if g == nil {
		return DefaultGrant(roleID, resourceID), nil
	}
	return normalizeGrant(*g), nil
}

// raiseTo merges d into g, keeping whichever grants more
func raiseTo(g, d PermissionGrant) PermissionGrant {
	g.CanView = g.CanView || d.CanView
	g.CanEdit = g.CanEdit || d.CanEdit
	g.CanDelete = g.CanDelete || d.CanDelete
	if d.CanView {
		g.DataScope = g.EffectiveScope().Wider(d.EffectiveScope())
	}
	return normalizeGrant(g)
}
