package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/backstage/pkg/rbac"
	"github.com/platinummonkey/backstage/pkg/storage/storagetest"
)

func TestStore_Conformance(t *testing.T) {
	storagetest.RunBackendSuite(t, func(t *testing.T) rbac.Backend {
		return New("tenant-1")
	})
}

func TestStore_ReferentialChecks(t *testing.T) {
	ctx := context.Background()
	s := New("tenant-1")

	err := s.AssignRole(ctx, "alice", "missing")
	assert.Equal(t, rbac.KindNotFound, rbac.KindOf(err))

	require.NoError(t, s.InsertRole(ctx, storagetest.NewRole("r-1", "Planner", 3)))
	err = s.UpsertGrant(ctx, rbac.PermissionGrant{RoleID: "r-1", ResourceID: "missing"})
	assert.Equal(t, rbac.KindNotFound, rbac.KindOf(err))
}

func TestStore_TenantStamped(t *testing.T) {
	ctx := context.Background()
	s := New("tenant-9")

	role := storagetest.NewRole("r-1", "Planner", 3)
	require.NoError(t, s.InsertRole(ctx, role))
	assert.Equal(t, "tenant-9", role.TenantID)

	got, err := s.GetRole(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-9", got.TenantID)
}

func TestStore_PresetSlicesNotShared(t *testing.T) {
	ctx := context.Background()
	s := New("tenant-1")

	p := &rbac.Preset{ID: "p-1", Owner: "alice", Name: "x", RoleIDs: []rbac.RoleID{"r-1"}}
	require.NoError(t, s.InsertPreset(ctx, p))
	p.RoleIDs[0] = "changed"

	got, err := s.GetPreset(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, []rbac.RoleID{"r-1"}, got.RoleIDs)
}

func TestStore_TxCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New("tenant-1")
	called := false
	err := s.WithTx(ctx, func(tx rbac.Repository) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
