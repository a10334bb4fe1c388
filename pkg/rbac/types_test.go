package rbac

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataScope_Wider(t *testing.T) {
	assert.Equal(t, ScopeGlobal, ScopeSelf.Wider(ScopeGlobal))
	assert.Equal(t, ScopeGlobal, ScopeGlobal.Wider(ScopeTeam))
	assert.Equal(t, ScopeTeam, ScopeTeam.Wider(ScopeSelf))
	assert.Equal(t, ScopeSelf, DataScope("bogus").Wider(ScopeSelf))

	assert.True(t, ScopeSelf.Narrower(ScopeTeam))
	assert.True(t, ScopeTeam.Narrower(ScopeGlobal))
	assert.False(t, ScopeGlobal.Narrower(ScopeGlobal))
}

func TestRole_IsRoot(t *testing.T) {
	tests := []struct {
		name string
		role Role
		want bool
	}{
		{"level zero", Role{HierarchyLevel: 0, Status: RoleStatusActive}, true},
		{"super admin", Role{Name: SuperAdminRoleName, HierarchyLevel: 2, IsSystemRole: true, Status: RoleStatusActive}, true},
		{"super admin name on custom role", Role{Name: SuperAdminRoleName, HierarchyLevel: 2, Status: RoleStatusActive}, false},
		{"restricted level zero", Role{HierarchyLevel: 0, Status: RoleStatusRestricted}, false},
		{"suspended super admin", Role{Name: SuperAdminRoleName, IsSystemRole: true, Status: RoleStatusSuspended}, false},
		{"ordinary", Role{HierarchyLevel: 4, Status: RoleStatusActive}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.role.IsRoot())
		})
	}
}

func TestDecisionKey_String(t *testing.T) {
	a := NewDecisionKey([]RoleID{"b", "a", "b", ""}, "events.list", CapabilityEdit)
	b := NewDecisionKey([]RoleID{"a", "b"}, "events.list", CapabilityEdit)

	assert.Equal(t, "a,b|events.list|edit", a.String())
	assert.Equal(t, a.String(), b.String())
}

func TestGrant_HasAndScope(t *testing.T) {
	g := PermissionGrant{CanView: true, CanEdit: true, DataScope: ScopeTeam}
	assert.True(t, g.Has(CapabilityView))
	assert.True(t, g.Has(CapabilityEdit))
	assert.False(t, g.Has(CapabilityDelete))
	assert.False(t, g.Has(Capability("approve")))
	assert.Equal(t, ScopeTeam, g.EffectiveScope())

	g.CanView = false
	assert.Equal(t, ScopeSelf, g.EffectiveScope())
}

func TestError_KindMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindCycle, Op: "rbac.SetManager"})

	assert.True(t, errors.Is(err, ErrCycle))
	assert.False(t, errors.Is(err, ErrSelfReference))
	assert.Equal(t, KindCycle, KindOf(err))
	assert.Equal(t, KindStoreUnavailable, KindOf(errors.New("dial tcp: refused")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestError_Message(t *testing.T) {
	err := &Error{
		Kind:       KindPartialFailure,
		Op:         "rbac.BulkUpsert",
		RoleID:     "r1",
		ResourceID: "events.list",
		Failures:   []GrantFailure{{ResourceID: "x", Kind: KindNotFound}},
		Err:        errors.New("boom"),
	}
	assert.Equal(t, "rbac.BulkUpsert: partial_failure role=r1 resource=events.list failures=1: boom", err.Error())
}

func TestStoreError(t *testing.T) {
	assert.NoError(t, storeError("op", nil))

	domain := NotFoundError("memory.GetRole", nil)
	assert.Same(t, domain, storeError("op", domain))

	cause := errors.New("timeout")
	wrapped := storeError("rbac.GetRole", cause)
	assert.Equal(t, KindStoreUnavailable, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, cause)
}

func TestSystemDefaults(t *testing.T) {
	d := NewSystemDefaults()

	g, ok := d.Lookup(SuperAdminRoleName, "anything")
	assert.True(t, ok)
	assert.True(t, g.CanDelete)
	assert.Equal(t, ScopeGlobal, g.DataScope)

	d.Register("Finance Lead", "budget.view", PermissionGrant{CanView: true})
	g, ok = d.Lookup("Finance Lead", "budget.view")
	assert.True(t, ok)
	assert.Equal(t, ScopeSelf, g.DataScope)
	_, ok = d.Lookup("Finance Lead", "events.list")
	assert.False(t, ok)

	d.Replace("Finance Lead", map[ResourceID]PermissionGrant{"budget.edit": {CanView: true, CanEdit: true}})
	assert.Equal(t, []ResourceID{"budget.edit"}, d.Resources("Finance Lead"))
	assert.Empty(t, d.Resources(SuperAdminRoleName))

	_, ok = d.defaultFor(&Role{Name: "Finance Lead"}, "budget.edit")
	assert.False(t, ok, "non-system roles have no protected defaults")
}
