package rbac_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

func ptr[T any](v T) *T { return &v }

func TestRoleStore_CreateRole(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	role, err := e.roles.CreateRole(ctx, "  Event Planner ", 3, rbac.RoleTypeInternal)
	require.NoError(t, err)
	assert.NotEmpty(t, role.ID)
	assert.Equal(t, "Event Planner", role.Name)
	assert.Equal(t, 3, role.HierarchyLevel)
	assert.Equal(t, rbac.RoleStatusActive, role.Status)
	assert.False(t, role.IsSystemRole)
	assert.Equal(t, e.clock.Now(), role.CreatedAt)
	assert.Equal(t, []rbac.RoleID{role.ID}, e.invalidator.calls())

	stored, err := e.roles.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", stored.TenantID)

	byName, err := e.roles.GetRoleByName(ctx, "Event Planner")
	require.NoError(t, err)
	assert.Equal(t, role.ID, byName.ID)
}

func TestRoleStore_CreateRoleValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.createRole(t, "Planner", 3)

	tests := []struct {
		name     string
		roleName string
		level    int
		roleType rbac.RoleType
		want     rbac.Kind
	}{
		{"blank name", "   ", 3, rbac.RoleTypeInternal, rbac.KindInvalid},
		{"unknown type", "Vendor", 3, rbac.RoleType("partner"), rbac.KindInvalid},
		{"level below range", "Vendor", -1, rbac.RoleTypeExternal, rbac.KindInvalidLevel},
		{"level above range", "Vendor", 11, rbac.RoleTypeExternal, rbac.KindInvalidLevel},
		{"duplicate name", "Planner", 4, rbac.RoleTypeInternal, rbac.KindDuplicateName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.roles.CreateRole(ctx, tt.roleName, tt.level, tt.roleType)
			requireKind(t, tt.want, err)
		})
	}

	roles, err := e.roles.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestRoleStore_CreateRoleBoundaryLevels(t *testing.T) {
	e := newEnv(t)

	root := e.createRole(t, "Owner", rbac.MinHierarchyLevel)
	guest := e.createRole(t, "Guest", rbac.MaxHierarchyLevel)

	assert.Equal(t, 0, root.HierarchyLevel)
	assert.Equal(t, 10, guest.HierarchyLevel)
}

func TestRoleStore_UpdateRole(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	role := e.createRole(t, "Planner", 3)
	e.clock.Advance(time.Hour)

	updated, err := e.roles.UpdateRole(ctx, role.ID, rbac.RolePatch{
		Name:           ptr("Senior Planner"),
		HierarchyLevel: ptr(2),
		Status:         ptr(rbac.RoleStatusRestricted),
	})
	require.NoError(t, err)
	assert.Equal(t, "Senior Planner", updated.Name)
	assert.Equal(t, 2, updated.HierarchyLevel)
	assert.Equal(t, rbac.RoleStatusRestricted, updated.Status)
	assert.Equal(t, e.clock.Now(), updated.UpdatedAt)
	assert.Equal(t, role.CreatedAt, updated.CreatedAt)

	e.clock.Advance(time.Hour)
	same, err := e.roles.UpdateRole(ctx, role.ID, rbac.RolePatch{Name: ptr("Senior Planner")})
	require.NoError(t, err)
	assert.Equal(t, updated.UpdatedAt, same.UpdatedAt, "no-op patch leaves the row untouched")
}

func TestRoleStore_UpdateRoleErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	planner := e.createRole(t, "Planner", 3)
	e.createRole(t, "Coordinator", 4)
	admin := e.superAdmin(t)

	tests := []struct {
		name  string
		id    rbac.RoleID
		patch rbac.RolePatch
		want  rbac.Kind
	}{
		{"missing role", "nope", rbac.RolePatch{Name: ptr("x")}, rbac.KindNotFound},
		{"level out of range", planner.ID, rbac.RolePatch{HierarchyLevel: ptr(12)}, rbac.KindInvalidLevel},
		{"blank name", planner.ID, rbac.RolePatch{Name: ptr(" ")}, rbac.KindInvalid},
		{"unknown status", planner.ID, rbac.RolePatch{Status: ptr(rbac.RoleStatus("archived"))}, rbac.KindInvalid},
		{"promote to system", planner.ID, rbac.RolePatch{IsSystemRole: ptr(true)}, rbac.KindSystemRoleImmutable},
		{"rename system role", admin.ID, rbac.RolePatch{Name: ptr("Root")}, rbac.KindSystemRoleImmutable},
		{"suspend system role", admin.ID, rbac.RolePatch{Status: ptr(rbac.RoleStatusSuspended)}, rbac.KindSystemRoleImmutable},
		{"demote system role", admin.ID, rbac.RolePatch{IsSystemRole: ptr(false)}, rbac.KindSystemRoleImmutable},
		{"rename to taken name", planner.ID, rbac.RolePatch{Name: ptr("Coordinator")}, rbac.KindDuplicateName},
		// level is checked before system protection
		{"system role bad level", admin.ID, rbac.RolePatch{HierarchyLevel: ptr(-3)}, rbac.KindInvalidLevel},
		// system protection is checked before name uniqueness
		{"system role taken name", admin.ID, rbac.RolePatch{Name: ptr("Planner")}, rbac.KindSystemRoleImmutable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.roles.UpdateRole(ctx, tt.id, tt.patch)
			requireKind(t, tt.want, err)
		})
	}

	got, err := e.roles.GetRole(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.SuperAdminRoleName, got.Name)
	assert.True(t, got.IsSystemRole)
}

func TestRoleStore_DeleteRole(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	role := e.createRole(t, "Planner", 3)
	e.grant(t, role.ID, "events.list", rbac.CapabilityEdit)

	require.NoError(t, e.roles.DeleteRole(ctx, role.ID))

	_, err := e.roles.GetRole(ctx, role.ID)
	requireKind(t, rbac.KindNotFound, err)
	grants, err := e.backend.ListGrants(ctx, role.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)

	requireKind(t, rbac.KindNotFound, e.roles.DeleteRole(ctx, role.ID))
}

func TestRoleStore_DeleteRoleGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	admin := e.superAdmin(t)
	requireKind(t, rbac.KindSystemRoleProtected, e.roles.DeleteRole(ctx, admin.ID))

	held := e.createRole(t, "Planner", 3)
	require.NoError(t, e.roles.AssignRole(ctx, "alice", held.ID))
	requireKind(t, rbac.KindRoleInUse, e.roles.DeleteRole(ctx, held.ID))

	require.NoError(t, e.roles.UnassignRole(ctx, "alice", held.ID))
	require.NoError(t, e.roles.DeleteRole(ctx, held.ID))
}

func TestRoleStore_Assignments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.createRole(t, "Planner", 3)
	b := e.createRole(t, "Vendor", 7)

	require.NoError(t, e.roles.AssignRole(ctx, "alice", a.ID))
	require.NoError(t, e.roles.AssignRole(ctx, "alice", b.ID))
	require.NoError(t, e.roles.AssignRole(ctx, "alice", b.ID))

	ids, err := e.roles.RolesForPrincipal(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []rbac.RoleID{a.ID, b.ID}, ids)

	requireKind(t, rbac.KindNotFound, e.roles.AssignRole(ctx, "alice", "missing"))
	requireKind(t, rbac.KindInvalid, e.roles.AssignRole(ctx, " ", a.ID))
	requireKind(t, rbac.KindNotFound, e.roles.UnassignRole(ctx, "bob", a.ID))
}

func TestRoleStore_EnsureSystemRole(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tmpl := rbac.Role{Name: "Tenant Owner", HierarchyLevel: 1, RoleType: rbac.RoleTypeInternal}
	created, err := e.roles.EnsureSystemRole(ctx, tmpl)
	require.NoError(t, err)
	assert.True(t, created.IsSystemRole)
	assert.Equal(t, rbac.RoleStatusActive, created.Status)

	tmpl.HierarchyLevel = 2
	realigned, err := e.roles.EnsureSystemRole(ctx, tmpl)
	require.NoError(t, err)
	assert.Equal(t, created.ID, realigned.ID)
	assert.Equal(t, 2, realigned.HierarchyLevel)

	_, err = e.roles.EnsureSystemRole(ctx, rbac.Role{Name: "Bad", HierarchyLevel: 99})
	requireKind(t, rbac.KindInvalidLevel, err)
}

func TestRoleStore_EnsureSystemRoleRefusesCustomRole(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	custom := e.createRole(t, "Auditor", 5)
	before := len(e.invalidator.calls())

	_, err := e.roles.EnsureSystemRole(ctx, rbac.Role{Name: "Auditor", HierarchyLevel: 2})
	requireKind(t, rbac.KindDuplicateName, err)

	stored, err := e.roles.GetRole(ctx, custom.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsSystemRole)
	assert.Equal(t, 5, stored.HierarchyLevel)
	assert.Len(t, e.invalidator.calls(), before)
}

func TestRoleStore_InvalidationFailureKeepsWrite(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.invalidator.err = errors.New("redis down")

	role, err := e.roles.CreateRole(ctx, "Planner", 3, rbac.RoleTypeInternal)
	requireKind(t, rbac.KindStoreUnavailable, err)
	assert.True(t, rbac.IsInvalidationFailure(err))
	require.NotNil(t, role)

	stored, err := e.roles.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "Planner", stored.Name)
}

func TestRoleStore_StoreUnavailable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.backend.down.Store(true)

	_, err := e.roles.CreateRole(ctx, "Planner", 3, rbac.RoleTypeInternal)
	requireKind(t, rbac.KindStoreUnavailable, err)
	assert.ErrorIs(t, err, rbac.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errStoreDown)
	assert.False(t, rbac.IsInvalidationFailure(err))
}
