package rbac

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// RoleStore manages role definitions and principal assignments
type RoleStore struct {
	backend Backend
	opts    options
}

// NewRoleStore creates a role store over backend
func NewRoleStore(backend Backend, opts ...Option) *RoleStore {
	return &RoleStore{backend: backend, opts: newOptions(opts)}
}

// CreateRole creates a non-system, active role
func (s *RoleStore) CreateRole(ctx context.Context, name string, level int, roleType RoleType) (*Role, error) {
	const op = "rbac.CreateRole"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" || !roleType.Valid() {
		return nil, s.opts.fail(op, newError(KindInvalid, op))
	}
	if err := ValidateHierarchyLevel(level); err != nil {
		return nil, s.opts.fail(op, newError(KindInvalidLevel, op))
	}

	now := s.opts.now()
	role := &Role{
		ID:             RoleID(uuid.NewString()),
		Name:           name,
		HierarchyLevel: level,
		RoleType:       roleType,
		IsSystemRole:   false,
		Status:         RoleStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.backend.WithTx(ctx, func(tx Repository) error {
		if err := ensureNameFree(ctx, tx, op, name, ""); err != nil {
			return err
		}
		return tx.InsertRole(ctx, role)
	})
	if err != nil {
		span.RecordError(err)
		return nil, s.opts.fail(op, err)
	}

	span.SetAttributes(attribute.String("role_id", string(role.ID)))
	s.opts.metrics.RecordMutation(op, "")
	s.opts.logger.WithFields(logrus.Fields{
		"role_id":         role.ID,
		"name":            role.Name,
		"hierarchy_level": role.HierarchyLevel,
	}).Info("role created")

	if err := s.opts.invalidate(ctx, op, role.ID); err != nil {
		return role, err
	}
	return role, nil
}

// UpdateRole applies patch to the role. Checks run in the order
// NotFound, InvalidLevel, SystemRoleImmutable, DuplicateName.
func (s *RoleStore) UpdateRole(ctx context.Context, id RoleID, patch RolePatch) (*Role, error) {
	const op = "rbac.UpdateRole"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("role_id", string(id)))

	var updated *Role
	err := s.backend.WithTx(ctx, func(tx Repository) error {
		current, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}

		if patch.HierarchyLevel != nil {
			if err := ValidateHierarchyLevel(*patch.HierarchyLevel); err != nil {
				return &Error{Kind: KindInvalidLevel, Op: op, RoleID: id}
			}
		}

		next, err := applyPatch(*current, patch, op)
		if err != nil {
			return err
		}

		if changesProtectedFields(*current, next) {
			return &Error{Kind: KindSystemRoleImmutable, Op: op, RoleID: id}
		}

		if next.Name != current.Name {
			if err := ensureNameFree(ctx, tx, op, next.Name, id); err != nil {
				return err
			}
		}

		if next == *current {
			updated = current
			return nil
		}

		next.UpdatedAt = s.opts.now()
		if err := tx.UpdateRole(ctx, &next); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, s.opts.fail(op, err)
	}

	s.opts.metrics.RecordMutation(op, "")
	s.opts.logger.WithField("role_id", id).Info("role updated")

	if err := s.opts.invalidate(ctx, op, id); err != nil {
		return updated, err
	}
	return updated, nil
}

// DeleteRole removes a role and its grants. Principals holding the role must be
// reassigned first.
func (s *RoleStore) DeleteRole(ctx context.Context, id RoleID) error {
	const op = "rbac.DeleteRole"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("role_id", string(id)))

	err := s.backend.WithTx(ctx, func(tx Repository) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return &Error{Kind: KindSystemRoleProtected, Op: op, RoleID: id}
		}

		holders, err := tx.CountRoleHolders(ctx, id)
		if err != nil {
			return err
		}
		if holders > 0 {
			return &Error{Kind: KindRoleInUse, Op: op, RoleID: id}
		}
		return tx.DeleteRole(ctx, id)
	})
	if err != nil {
		span.RecordError(err)
		return s.opts.fail(op, err)
	}

	s.opts.metrics.RecordMutation(op, "")
	s.opts.logger.WithField("role_id", id).Info("role deleted")
	return s.opts.invalidate(ctx, op, id)
}

// GetRole returns a role by ID
func (s *RoleStore) GetRole(ctx context.Context, id RoleID) (*Role, error) {
	role, err := s.backend.GetRole(ctx, id)
	if err != nil {
		return nil, storeError("rbac.GetRole", err)
	}
	return role, nil
}

// GetRoleByName returns a role by its tenant-unique name
func (s *RoleStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	role, err := s.backend.GetRoleByName(ctx, name)
	if err != nil {
		return nil, storeError("rbac.GetRoleByName", err)
	}
	return role, nil
}

// ListRoles returns all roles ordered by hierarchy level, then name
func (s *RoleStore) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := s.backend.ListRoles(ctx)
	if err != nil {
		return nil, storeError("rbac.ListRoles", err)
	}
	return roles, nil
}

// AssignRole gives principalID the role. Assigning twice is a no-op.
func (s *RoleStore) AssignRole(ctx context.Context, principalID string, roleID RoleID) error {
	const op = "rbac.AssignRole"

	if strings.TrimSpace(principalID) == "" {
		return s.opts.fail(op, newError(KindInvalid, op))
	}
	err := s.backend.WithTx(ctx, func(tx Repository) error {
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return err
		}
		return tx.AssignRole(ctx, principalID, roleID)
	})
	if err != nil {
		return s.opts.fail(op, err)
	}

	s.opts.metrics.RecordMutation(op, "")
	s.opts.logger.WithFields(logrus.Fields{
		"principal_id": principalID,
		"role_id":      roleID,
	}).Info("role assigned")
	return nil
}

// UnassignRole removes the role from principalID
func (s *RoleStore) UnassignRole(ctx context.Context, principalID string, roleID RoleID) error {
	const op = "rbac.UnassignRole"

	if err := s.backend.UnassignRole(ctx, principalID, roleID); err != nil {
		return s.opts.fail(op, err)
	}
	s.opts.metrics.RecordMutation(op, "")
	s.opts.logger.WithFields(logrus.Fields{
		"principal_id": principalID,
		"role_id":      roleID,
	}).Info("role unassigned")
	return nil
}

// RolesForPrincipal returns the IDs of the roles principalID holds
func (s *RoleStore) RolesForPrincipal(ctx context.Context, principalID string) ([]RoleID, error) {
	ids, err := s.backend.RolesForPrincipal(ctx, principalID)
	if err != nil {
		return nil, storeError("rbac.RolesForPrincipal", err)
	}
	return ids, nil
}

// EnsureSystemRole creates or realigns a system role from deployment config.
// It is the only path that may write the protected fields of a system role.
// A custom role already holding the name fails with DuplicateName.
func (s *RoleStore) EnsureSystemRole(ctx context.Context, tmpl Role) (*Role, error) {
	const op = "rbac.EnsureSystemRole"

	tmpl.Name = strings.TrimSpace(tmpl.Name)
	if tmpl.Name == "" {
		return nil, newError(KindInvalid, op)
	}
	if err := ValidateHierarchyLevel(tmpl.HierarchyLevel); err != nil {
		return nil, newError(KindInvalidLevel, op)
	}
	if !tmpl.RoleType.Valid() {
		tmpl.RoleType = RoleTypeInternal
	}
	if !tmpl.Status.Valid() {
		tmpl.Status = RoleStatusActive
	}

	var out *Role
	err := s.backend.WithTx(ctx, func(tx Repository) error {
		existing, err := tx.GetRoleByName(ctx, tmpl.Name)
		if err != nil && KindOf(err) != KindNotFound {
			return err
		}

		now := s.opts.now()
		if existing == nil {
			role := &Role{
				ID:             RoleID(uuid.NewString()),
				Name:           tmpl.Name,
				HierarchyLevel: tmpl.HierarchyLevel,
				RoleType:       tmpl.RoleType,
				IsSystemRole:   true,
				Status:         tmpl.Status,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.InsertRole(ctx, role); err != nil {
				return err
			}
			out = role
			return nil
		}

		if !existing.IsSystemRole {
			// an administrator's custom role is never taken over by deployment config
			s.opts.logger.WithFields(logrus.Fields{
				"role_id": existing.ID,
				"name":    existing.Name,
			}).Error("system role name is already used by a custom role")
			return &Error{Kind: KindDuplicateName, Op: op, RoleID: existing.ID}
		}

		next := *existing
		next.HierarchyLevel = tmpl.HierarchyLevel
		next.RoleType = tmpl.RoleType
		next.IsSystemRole = true
		next.Status = tmpl.Status
		if next == *existing {
			out = existing
			return nil
		}
		next.UpdatedAt = now
		if err := tx.UpdateRole(ctx, &next); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, s.opts.fail(op, err)
	}

	s.opts.metrics.RecordMutation(op, "")
	if err := s.opts.invalidate(ctx, op, out.ID); err != nil {
		return out, err
	}
	return out, nil
}

// ensureNameFree fails with DuplicateName when another role already uses name
func ensureNameFree(ctx context.Context, repo Repository, op, name string, self RoleID) error {
	existing, err := repo.GetRoleByName(ctx, name)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return nil
		}
		return err
	}
	if existing != nil && existing.ID != self {
		return &Error{Kind: KindDuplicateName, Op: op, RoleID: existing.ID}
	}
	return nil
}

func applyPatch(role Role, patch RolePatch, op string) (Role, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return role, &Error{Kind: KindInvalid, Op: op, RoleID: role.ID}
		}
		role.Name = name
	}
	if patch.HierarchyLevel != nil {
		role.HierarchyLevel = *patch.HierarchyLevel
	}
	if patch.RoleType != nil {
		if !patch.RoleType.Valid() {
			return role, &Error{Kind: KindInvalid, Op: op, RoleID: role.ID}
		}
		role.RoleType = *patch.RoleType
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return role, &Error{Kind: KindInvalid, Op: op, RoleID: role.ID}
		}
		role.Status = *patch.Status
	}
	if patch.IsSystemRole != nil {
		role.IsSystemRole = *patch.IsSystemRole
	}
	return role, nil
}

// changesProtectedFields reports a flip of the system flag, or any edit to a
// system role's identity and authority.
func changesProtectedFields(current, next Role) bool {
	if current.IsSystemRole != next.IsSystemRole {
		return true
	}
	if !current.IsSystemRole {
		return false
	}
	return current.Name != next.Name ||
		current.HierarchyLevel != next.HierarchyLevel ||
		current.RoleType != next.RoleType ||
		current.Status != next.Status
}
