package rbac

import (
	"sort"
	"sync"
)

// AnyResource is the wildcard key for a system default that covers every resource
const AnyResource ResourceID = "*"

// SuperAdminRole is the built-in root role every tenant is seeded with
func SuperAdminRole() Role {
	return Role{
		Name:           SuperAdminRoleName,
		HierarchyLevel: RootHierarchyLevel,
		RoleType:       RoleTypeInternal,
		IsSystemRole:   true,
		Status:         RoleStatusActive,
	}
}

// FullGrant is view+edit+delete with global scope
func FullGrant(roleID RoleID, resourceID ResourceID) PermissionGrant {
	return PermissionGrant{
		RoleID:     roleID,
		ResourceID: resourceID,
		CanView:    true,
		CanEdit:    true,
		CanDelete:  true,
		DataScope:  ScopeGlobal,
	}
}

// SystemDefaults holds the minimum grants of system roles, keyed by role name.
// Grants of a system role can never be lowered below these values.
type SystemDefaults struct {
	mu     sync.RWMutex
	grants map[string]map[ResourceID]PermissionGrant
}

// NewSystemDefaults returns a registry holding the Super Admin wildcard default
func NewSystemDefaults() *SystemDefaults {
	d := &SystemDefaults{grants: make(map[string]map[ResourceID]PermissionGrant)}
	d.Register(SuperAdminRoleName, AnyResource, FullGrant("", AnyResource))
	return d
}

// Register sets the default grant of a system role on a resource (or AnyResource)
func (d *SystemDefaults) Register(roleName string, resourceID ResourceID, g PermissionGrant) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byResource, ok := d.grants[roleName]
	if !ok {
		byResource = make(map[ResourceID]PermissionGrant)
		d.grants[roleName] = byResource
	}
	g.RoleID = ""
	g.ResourceID = resourceID
	byResource[resourceID] = normalizeGrant(g)
}

// Replace swaps the defaults of one role for a new set
func (d *SystemDefaults) Replace(roleName string, grants map[ResourceID]PermissionGrant) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byResource := make(map[ResourceID]PermissionGrant, len(grants))
	for id, g := range grants {
		g.RoleID = ""
		g.ResourceID = id
		byResource[id] = normalizeGrant(g)
	}
	d.grants[roleName] = byResource
}

// Lookup returns the default of roleName on resourceID, falling back to the wildcard
func (d *SystemDefaults) Lookup(roleName string, resourceID ResourceID) (PermissionGrant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byResource, ok := d.grants[roleName]
	if !ok {
		return PermissionGrant{}, false
	}
	if g, ok := byResource[resourceID]; ok {
		return g, true
	}
	g, ok := byResource[AnyResource]
	return g, ok
}

// Resources lists the explicit (non-wildcard) resources with a default for roleName
func (d *SystemDefaults) Resources(roleName string) []ResourceID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ResourceID, 0, len(d.grants[roleName]))
	for id := range d.grants[roleName] {
		if id != AnyResource {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// defaultFor returns the protected default of role on resourceID, if any
func (d *SystemDefaults) defaultFor(role *Role, resourceID ResourceID) (PermissionGrant, bool) {
	if d == nil || role == nil || !role.IsSystemRole {
		return PermissionGrant{}, false
	}
	return d.Lookup(role.Name, resourceID)
}
