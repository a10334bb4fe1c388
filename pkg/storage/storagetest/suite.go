// Package storagetest holds the conformance suite every rbac.Backend must pass
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

// Factory returns an empty backend bound to a single tenant
type Factory func(t *testing.T) rbac.Backend

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// RunBackendSuite runs the conformance tests against backends built by newBackend
func RunBackendSuite(t *testing.T, newBackend Factory) {
	t.Run("Roles", func(t *testing.T) { testRoles(t, newBackend(t)) })
	t.Run("RoleNameUnique", func(t *testing.T) { testRoleNameUnique(t, newBackend(t)) })
	t.Run("DeleteRoleRemovesGrants", func(t *testing.T) { testDeleteRoleRemovesGrants(t, newBackend(t)) })
	t.Run("Resources", func(t *testing.T) { testResources(t, newBackend(t)) })
	t.Run("Grants", func(t *testing.T) { testGrants(t, newBackend(t)) })
	t.Run("Assignments", func(t *testing.T) { testAssignments(t, newBackend(t)) })
	t.Run("Managers", func(t *testing.T) { testManagers(t, newBackend(t)) })
	t.Run("Presets", func(t *testing.T) { testPresets(t, newBackend(t)) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, newBackend(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newBackend(t)) })
}

// NewRole builds a role row ready for InsertRole
func NewRole(id, name string, level int) *rbac.Role {
	return &rbac.Role{
		ID:             rbac.RoleID(id),
		Name:           name,
		HierarchyLevel: level,
		RoleType:       rbac.RoleTypeInternal,
		Status:         rbac.RoleStatusActive,
		CreatedAt:      fixedTime,
		UpdatedAt:      fixedTime,
	}
}

// NewResource builds a resource row
func NewResource(id, module string) *rbac.Resource {
	return &rbac.Resource{ID: rbac.ResourceID(id), Name: id, Module: module, Route: "/" + id}
}

func testRoles(t *testing.T, b rbac.Backend) {
	ctx := context.Background()

	require.NoError(t, b.InsertRole(ctx, NewRole("r-planner", "Planner", 3)))
	require.NoError(t, b.InsertRole(ctx, NewRole("r-admin", "Admin", 1)))
	require.NoError(t, b.InsertRole(ctx, NewRole("r-coord", "Coordinator", 3)))

	got, err := b.GetRole(ctx, "r-planner")
	require.NoError(t, err)
	assert.Equal(t, "Planner", got.Name)
	assert.Equal(t, 3, got.HierarchyLevel)
	assert.Equal(t, rbac.RoleTypeInternal, got.RoleType)
	assert.Equal(t, rbac.RoleStatusActive, got.Status)
	assert.False(t, got.IsSystemRole)
	assert.WithinDuration(t, fixedTime, got.CreatedAt, time.Second)

	byName, err := b.GetRoleByName(ctx, "Admin")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleID("r-admin"), byName.ID)

	roles, err := b.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 3)
	assert.Equal(t, "Admin", roles[0].Name)
	assert.Equal(t, "Coordinator", roles[1].Name)
	assert.Equal(t, "Planner", roles[2].Name)

	_, err = b.GetRole(ctx, "missing")
	assert.Equal(t, rbac.KindNotFound, rbac.KindOf(err))
	_, err = b.GetRoleByName(ctx, "Missing")
	assert.Equal(t, rbac.KindNotFound, rbac.KindOf(err))

	got.Status = rbac.RoleStatusSuspended
	got.HierarchyLevel = 4
	require.NoError(t, b.UpdateRole(ctx, got))
	updated, err := b.GetRole(ctx, "r-planner")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleStatusSuspended, updated.Status)
	assert.Equal(t, 4, updated.HierarchyLevel)

	err = b.UpdateRole(ctx, NewRole("missing", "Ghost", 5))
	assert.Equal(t, rbac.KindNotFound, rbac.KindOf(err))
}

func testRoleNameUnique(t *testing.T, b rbac.Backend) {
	ctx := context.Background()

	require.NoError(t, b.InsertRole(ctx, NewRole("r-1", "Planner", 3)))
	err := b.InsertRole(ctx, NewRole("r-2", "Planner", 4))
	assert.Equal(t, rbac.KindDuplicateName, rbac.KindOf(err))

	require.NoError(t, b.InsertRole(ctx, NewRole("r-3", "Vendor", 6)))
	renamed := NewRole("r-3", "Planner", 6)
	err = b.UpdateRole(ctx, renamed)
	assert.Equal(t, rbac.KindDuplicateName, rbac.KindOf(err))
}

func testDeleteRoleRemovesGrants(t *testing.T, b rbac.Backend) {
	ctx := context.Background()

	require.NoError(t, b.InsertRole(ctx, NewRole("r-1", "Planner", 3)))
	require.NoError(t, b.UpsertResource(ctx, NewResource("events.list", "events")))
	require.NoError(t, b.UpsertGrant(ctx, rbac.PermissionGrant{
		RoleID: "r-1", ResourceID: "events.list", CanView: true, DataScope: rbac.ScopeTeam, UpdatedAt: fixedTime,
	}))

	require.NoError(t, b.DeleteRole(ctx, "r-1"))
	_, err := b.GetRole(ctx, "r-1")
	assert.Equal(t, rbac.KindNotFound, rbac.KindOf(err))

	grants, err := b.ListGrants(ctx, "r-1")
	require.NoError(t, err)
	assert.Empty(t, grants)

	err = b.DeleteRole(ctx, "r-1")
	assert.Equal(t, rbac.KindNotFound, rbac.KindOf(err))
}

func testResources(t *testing.T, b rbac.Backend) {
	ctx := context.Background()

	require.NoError(t, b.UpsertResource(ctx, NewResource("venues.list", "venues")))
	require.NoError(t, b.UpsertResource(ctx, NewResource("events.list", "events")))
	require.NoError(t, b.UpsertResource(ctx, NewResource("events.detail", "events")))

	renamed := NewResource("events.list", "events")
	renamed.Name = "Event list"
	require.NoError(t, b.UpsertResource(ctx, renamed))

	res, err := b.GetResource(ctx, "events.list")
	require.NoError(t, err)
	assert.Equal(t, "Event list", res.Name)
	assert.Equal(t, "events", res.Module)

	all, err := b.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, rbac.ResourceID("events.detail"), all[0].ID)
	assert.Equal(t, rbac.ResourceID("events.list"), all[1].ID)
	assert.Equal(t, rbac.ResourceID("venues.list"), all[2].ID)

	_, err = b.GetResource(ctx, "missing")
	assert.Equal(t, rbac.KindNotFound, rbac.KindOf(err))
}

func testGrants(t *testing.T, b rbac.Backend) {
	ctx := context.Background()

	require.NoError(t, b.InsertRole(ctx, NewRole("r-1", "Planner", 3)))
	require.NoError(t, b.UpsertResource(ctx, NewResource("events.list", "events")))
	require.NoError(t, b.UpsertResource(ctx, NewResource("budget.view", "finance")))

	g, err := b.GetGrant(ctx, "r-1", "events.list")
	require.NoError(t, err)
	assert.Nil(t, g)

	require.NoError(t, b.UpsertGrant(ctx, rbac.PermissionGrant{
		RoleID: "r-1", ResourceID: "events.list", CanView: true, DataScope: rbac.ScopeTeam, UpdatedAt: fixedTime,
	}))
	require.NoError(t, b.UpsertGrant(ctx, rbac.PermissionGrant{
		RoleID: "r-1", ResourceID: "events.list", CanView: true, CanEdit: true, DataScope: rbac.ScopeGlobal, UpdatedAt: fixedTime,
	}))
	require.NoError(t, b.UpsertGrant(ctx, rbac.PermissionGrant{
		RoleID: "r-1", ResourceID: "budget.view", CanView: true, DataScope: rbac.ScopeSelf, UpdatedAt: fixedTime,
	}))

	g, err = b.GetGrant(ctx, "r-1", "events.list")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.True(t, g.CanView)
	assert.True(t, g.CanEdit)
	assert.False(t, g.CanDelete)
	assert.Equal(t, rbac.ScopeGlobal, g.DataScope)

	grants, err := b.ListGrants(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, rbac.ResourceID("budget.view"), grants[0].ResourceID)
	assert.Equal(t, rbac.ResourceID("events.list"), grants[1].ResourceID)
}

func testAssignments(t *testing.T, b rbac.Backend) {
	ctx := context.Background()

	require.NoError(t, b.InsertRole(ctx, NewRole("r-b", "Planner", 3)))
	require.NoError(t, b.InsertRole(ctx, NewRole("r-a", "Vendor", 7)))

	require.NoError(t, b.AssignRole(ctx, "alice", "r-b"))
	require.NoError(t, b.AssignRole(ctx, "alice", "r-a"))
	require.NoError(t, b.AssignRole(ctx, "alice", "r-a"))
	require.NoError(t, b.AssignRole(ctx, "bob", "r-b"))

	ids, err := b.RolesForPrincipal(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []rbac.RoleID{"r-a", "r-b"}, ids)

	count, err := b.CountRoleHolders(ctx, "r-b")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, b.UnassignRole(ctx, "alice", "r-b"))
	ids, err = b.RolesForPrincipal(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []rbac.RoleID{"r-a"}, ids)

	err = b.UnassignRole(ctx, "alice", "r-b")
	assert.Equal(t, rbac.KindNotFound, rbac.KindOf(err))

	none, err := b.RolesForPrincipal(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testManagers(t *testing.T, b rbac.Backend) {
	ctx := context.Background()

	m, err := b.GetManager(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "", m)

	require.NoError(t, b.SetManager(ctx, "alice", "bob"))
	require.NoError(t, b.SetManager(ctx, "alice", "carol"))
	m, err = b.GetManager(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "carol", m)

	require.NoError(t, b.SetManager(ctx, "alice", ""))
	m, err = b.GetManager(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "", m)
}

func testPresets(t *testing.T, b rbac.Backend) {
	ctx := context.Background()

	require.NoError(t, b.InsertPreset(ctx, &rbac.Preset{
		ID: "p-1", Owner: "alice", Name: "Leads", RoleIDs: []rbac.RoleID{"r-1", "r-2"},
		Modules: []string{"events"}, CreatedAt: fixedTime,
	}))
	require.NoError(t, b.InsertPreset(ctx, &rbac.Preset{
		ID: "p-2", Owner: "bob", Name: "Finance", RoleIDs: []rbac.RoleID{"r-3"},
		Modules: []string{}, CreatedAt: fixedTime,
	}))

	p, err := b.GetPreset(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Leads", p.Name)
	assert.Equal(t, []rbac.RoleID{"r-1", "r-2"}, p.RoleIDs)
	assert.Equal(t, []string{"events"}, p.Modules)

	mine, err := b.ListPresets(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "p-1", mine[0].ID)

	all, err := b.ListPresets(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, b.DeletePreset(ctx, "p-1"))
	_, err = b.GetPreset(ctx, "p-1")
	assert.Equal(t, rbac.KindNotFound, rbac.KindOf(err))
	assert.Equal(t, rbac.KindNotFound, rbac.KindOf(b.DeletePreset(ctx, "p-1")))
}

func testTxCommit(t *testing.T, b rbac.Backend) {
	ctx := context.Background()

	err := b.WithTx(ctx, func(tx rbac.Repository) error {
		if err := tx.InsertRole(ctx, NewRole("r-1", "Planner", 3)); err != nil {
			return err
		}
		if err := tx.UpsertResource(ctx, NewResource("events.list", "events")); err != nil {
			return err
		}
		// reads inside the transaction see its own writes
		role, err := tx.GetRole(ctx, "r-1")
		if err != nil {
			return err
		}
		return tx.UpsertGrant(ctx, rbac.PermissionGrant{
			RoleID: role.ID, ResourceID: "events.list", CanView: true, DataScope: rbac.ScopeSelf, UpdatedAt: fixedTime,
		})
	})
	require.NoError(t, err)

	g, err := b.GetGrant(ctx, "r-1", "events.list")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.True(t, g.CanView)
}

func testTxRollback(t *testing.T, b rbac.Backend) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := b.WithTx(ctx, func(tx rbac.Repository) error {
		if err := tx.InsertRole(ctx, NewRole("r-1", "Planner", 3)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = b.GetRole(ctx, "r-1")
	assert.Equal(t, rbac.KindNotFound, rbac.KindOf(err))
}
