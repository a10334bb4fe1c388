package rbac

import (
	"sort"
	"strings"
	"time"
)

// RoleID identifies a role. IDs are UUID strings generated on creation.
type RoleID string

// ResourceID identifies a protectable page, module or API capability
type ResourceID string

// Hierarchy bounds. Lower level means more authority.
const (
	MinHierarchyLevel  = 0
	MaxHierarchyLevel  = 10
	RootHierarchyLevel = MinHierarchyLevel
)

// SuperAdminRoleName is the built-in system role that bypasses the permission matrix
const SuperAdminRoleName = "Super Admin"

// RoleType separates internal staff roles from external partner and vendor roles
type RoleType string

const (
	RoleTypeInternal RoleType = "internal"
	RoleTypeExternal RoleType = "external"
)

// Valid reports whether t is a known role type
func (t RoleType) Valid() bool {
	return t == RoleTypeInternal || t == RoleTypeExternal
}

// RoleStatus is the lifecycle status of a role
type RoleStatus string

const (
	RoleStatusActive     RoleStatus = "active"
	RoleStatusSuspended  RoleStatus = "suspended"
	RoleStatusRestricted RoleStatus = "restricted"
)

// Valid reports whether s is a known role status
func (s RoleStatus) Valid() bool {
	switch s {
	case RoleStatusActive, RoleStatusSuspended, RoleStatusRestricted:
		return true
	}
	return false
}

// Role is a named authority level with a hierarchy position
type Role struct {
	ID             RoleID     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Name           string     `json:"name"`
	HierarchyLevel int        `json:"hierarchy_level"`
	RoleType       RoleType   `json:"role_type"`
	IsSystemRole   bool       `json:"is_system_role"`
	Status         RoleStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsRoot reports whether the role carries root authority and bypasses the matrix.
// Restricted and suspended roles never bypass.
func (r Role) IsRoot() bool {
	if r.Status != RoleStatusActive {
		return false
	}
	return r.HierarchyLevel == RootHierarchyLevel || (r.IsSystemRole && r.Name == SuperAdminRoleName)
}

// RolePatch carries the fields of an UpdateRole call. Nil fields are left untouched.
type RolePatch struct {
	Name           *string     `json:"name,omitempty"`
	HierarchyLevel *int        `json:"hierarchy_level,omitempty"`
	RoleType       *RoleType   `json:"role_type,omitempty"`
	Status         *RoleStatus `json:"status,omitempty"`
	IsSystemRole   *bool       `json:"is_system_role,omitempty"`
}

// Resource is a protectable unit. Resources are grouped by module.
type Resource struct {
	ID     ResourceID `json:"id"`
	Name   string     `json:"name"`
	Module string     `json:"module"`
	Route  string     `json:"route,omitempty"`
}

// Capability is one of view, edit or delete
type Capability string

const (
	CapabilityView   Capability = "view"
	CapabilityEdit   Capability = "edit"
	CapabilityDelete Capability = "delete"
)

// Valid reports whether c is a known capability
func (c Capability) Valid() bool {
	switch c {
	case CapabilityView, CapabilityEdit, CapabilityDelete:
		return true
	}
	return false
}

// DataScope restricts which data rows are visible under a granted capability
type DataScope string

const (
	ScopeSelf   DataScope = "self"
	ScopeTeam   DataScope = "team"
	ScopeGlobal DataScope = "global"
)

func (s DataScope) rank() int {
	switch s {
	case ScopeTeam:
		return 1
	case ScopeGlobal:
		return 2
	default:
		return 0
	}
}

// Valid reports whether s is a known scope
func (s DataScope) Valid() bool {
	return s == ScopeSelf || s == ScopeTeam || s == ScopeGlobal
}

// Wider returns the broader of s and other (global > team > self)
func (s DataScope) Wider(other DataScope) DataScope {
	if other.rank() > s.rank() {
		return other
	}
	if !s.Valid() {
		return ScopeSelf
	}
	return s
}

// Narrower reports whether s grants fewer rows than other
func (s DataScope) Narrower(other DataScope) bool {
	return s.rank() < other.rank()
}

// PermissionGrant is the capability set of one role on one resource.
// A missing row is equivalent to the zero grant with ScopeSelf.
type PermissionGrant struct {
	RoleID     RoleID     `json:"role_id"`
	ResourceID ResourceID `json:"resource_id"`
	CanView    bool       `json:"can_view"`
	CanEdit    bool       `json:"can_edit"`
	CanDelete  bool       `json:"can_delete"`
	DataScope  DataScope  `json:"data_scope"`
	UpdatedAt  time.Time  `json:"updated_at,omitempty"`
}

// DefaultGrant returns the "no access" grant for a (role, resource) pair
func DefaultGrant(roleID RoleID, resourceID ResourceID) PermissionGrant {
	return PermissionGrant{RoleID: roleID, ResourceID: resourceID, DataScope: ScopeSelf}
}

// Has reports whether the grant includes the capability
func (g PermissionGrant) Has(c Capability) bool {
	switch c {
	case CapabilityView:
		return g.CanView
	case CapabilityEdit:
		return g.CanEdit
	case CapabilityDelete:
		return g.CanDelete
	}
	return false
}

// EffectiveScope is the grant's scope, or ScopeSelf when view is not granted
func (g PermissionGrant) EffectiveScope() DataScope {
	if !g.CanView || !g.DataScope.Valid() {
		return ScopeSelf
	}
	return g.DataScope
}

// Decision is the outcome of a resolution
type Decision struct {
	Allowed      bool      `json:"allowed"`
	DataScope    DataScope `json:"data_scope"`
	MatchedRoles []RoleID  `json:"matched_roles,omitempty"`
	Bypass       bool      `json:"bypass,omitempty"`
}

// Deny is the fail-closed decision
func Deny() Decision {
	return Decision{Allowed: false, DataScope: ScopeSelf}
}

// DecisionKey identifies a cacheable resolution
type DecisionKey struct {
	RoleIDs    []RoleID
	ResourceID ResourceID
	Action     Capability
}

// NewDecisionKey builds a key with a sorted, de-duplicated role set
func NewDecisionKey(roleIDs []RoleID, resourceID ResourceID, action Capability) DecisionKey {
	return DecisionKey{RoleIDs: normalizeRoleIDs(roleIDs), ResourceID: resourceID, Action: action}
}

// String renders the key as "role1,role2|resource|action"
func (k DecisionKey) String() string {
	ids := make([]string, len(k.RoleIDs))
	for i, id := range k.RoleIDs {
		ids[i] = string(id)
	}
	return strings.Join(ids, ",") + "|" + string(k.ResourceID) + "|" + string(k.Action)
}

// AuthorityMatrix maps module -> role name -> authority score (0..4)
type AuthorityMatrix struct {
	Modules     map[string]map[string]int `json:"modules"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Preset is a saved selection of roles and modules for the authority view
type Preset struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	RoleIDs   []RoleID  `json:"role_ids"`
	Modules   []string  `json:"modules"`
	CreatedAt time.Time `json:"created_at"`
}

func normalizeRoleIDs(ids []RoleID) []RoleID {
	seen := make(map[RoleID]struct{}, len(ids))
	out := make([]RoleID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
