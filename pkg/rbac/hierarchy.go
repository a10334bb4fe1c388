package rbac

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ValidateHierarchyLevel checks level is inside [MinHierarchyLevel, MaxHierarchyLevel]
func ValidateHierarchyLevel(level int) error {
	if level < MinHierarchyLevel || level > MaxHierarchyLevel {
		return newError(KindInvalidLevel, "rbac.ValidateHierarchyLevel")
	}
	return nil
}

// HierarchyValidator guards hierarchy levels and principal reporting lines
type HierarchyValidator struct {
	backend Backend
	opts    options
}

// NewHierarchyValidator creates a validator over backend
func NewHierarchyValidator(backend Backend, opts ...Option) *HierarchyValidator {
	return &HierarchyValidator{backend: backend, opts: newOptions(opts)}
}

// ValidateHierarchyLevel checks a proposed role level
func (v *HierarchyValidator) ValidateHierarchyLevel(level int) error {
	return ValidateHierarchyLevel(level)
}

// ValidateReportingChain reports whether principalID may report to managerID
// without creating a loop in the reporting graph.
func (v *HierarchyValidator) ValidateReportingChain(ctx context.Context, principalID, managerID string) error {
	return validateChain(ctx, v.backend, principalID, managerID)
}

// SetManager validates and stores a reporting line in one transaction
func (v *HierarchyValidator) SetManager(ctx context.Context, principalID, managerID string) error {
	const op = "rbac.SetManager"

	err := v.backend.WithTx(ctx, func(tx Repository) error {
		if err := validateChain(ctx, tx, principalID, managerID); err != nil {
			return err
		}
		return tx.SetManager(ctx, principalID, managerID)
	})
	if err != nil {
		return v.opts.fail(op, err)
	}

	v.opts.metrics.RecordMutation(op, "")
	v.opts.logger.WithFields(logrus.Fields{
		"principal_id": principalID,
		"manager_id":   managerID,
	}).Debug("reporting line updated")
	return nil
}

// ClearManager removes the reporting line of principalID
func (v *HierarchyValidator) ClearManager(ctx context.Context, principalID string) error {
	const op = "rbac.ClearManager"

	if principalID == "" {
		return newError(KindInvalid, op)
	}
	if err := v.backend.SetManager(ctx, principalID, ""); err != nil {
		return v.opts.fail(op, err)
	}
	v.opts.metrics.RecordMutation(op, "")
	return nil
}

// validateChain walks upward from managerID. Reaching principalID, or any node
// twice, means the new edge would close (or sits on) a loop.
func validateChain(ctx context.Context, repo Repository, principalID, managerID string) error {
	const op = "rbac.ValidateReportingChain"

	if principalID == "" || managerID == "" {
		return newError(KindInvalid, op)
	}
	if principalID == managerID {
		return newError(KindSelfReference, op)
	}

	visited := make(map[string]struct{})
	current := managerID
	for current != "" {
		if current == principalID {
			return newError(KindCycle, op)
		}
		if _, seen := visited[current]; seen {
			return newError(KindCycle, op)
		}
		visited[current] = struct{}{}

		if err := ctx.Err(); err != nil {
			return storeError(op, err)
		}
		next, err := repo.GetManager(ctx, current)
		if err != nil {
			return storeError(op, err)
		}
		current = next
	}
	return nil
}
