package rbac

import "context"

// Repository is the persistence contract the engine needs. Implementations
// return NotFoundError / DuplicateNameError for domain conditions; any other
// error is reported to callers as StoreUnavailable.
type Repository interface {
	GetRole(ctx context.Context, id RoleID) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	InsertRole(ctx context.Context, role *Role) error
	UpdateRole(ctx context.Context, role *Role) error
	// DeleteRole removes the role and its grant rows, never assignments
	DeleteRole(ctx context.Context, id RoleID) error
	CountRoleHolders(ctx context.Context, id RoleID) (int, error)

	AssignRole(ctx context.Context, principalID string, roleID RoleID) error
	UnassignRole(ctx context.Context, principalID string, roleID RoleID) error
	RolesForPrincipal(ctx context.Context, principalID string) ([]RoleID, error)

	GetResource(ctx context.Context, id ResourceID) (*Resource, error)
	ListResources(ctx context.Context) ([]Resource, error)
	UpsertResource(ctx context.Context, resource *Resource) error

	// GetGrant returns (nil, nil) when no row exists
	GetGrant(ctx context.Context, roleID RoleID, resourceID ResourceID) (*PermissionGrant, error)
	ListGrants(ctx context.Context, roleID RoleID) ([]PermissionGrant, error)
	// UpsertGrant writes with (role_id, resource_id) as the conflict target
	UpsertGrant(ctx context.Context, grant PermissionGrant) error

	// GetManager returns "" when the principal has no manager
	GetManager(ctx context.Context, principalID string) (string, error)
	SetManager(ctx context.Context, principalID, managerID string) error

	InsertPreset(ctx context.Context, preset *Preset) error
	GetPreset(ctx context.Context, id string) (*Preset, error)
	ListPresets(ctx context.Context, owner string) ([]Preset, error)
	DeletePreset(ctx context.Context, id string) error
}

// Backend is a Repository that can run a group of operations atomically.
// Reads of the role row made through the transactional Repository lock it
// for the duration of fn where the store supports row locks.
type Backend interface {
	Repository
	WithTx(ctx context.Context, fn func(tx Repository) error) error
}

// Invalidator is notified after every committed write that affects a role
type Invalidator interface {
	InvalidateRole(ctx context.Context, roleID RoleID) error
}

// Invalidators fans an invalidation out to several caches
type Invalidators []Invalidator

func (is Invalidators) InvalidateRole(ctx context.Context, roleID RoleID) error {
	var first error
	for _, inv := range is {
		if inv == nil {
			continue
		}
		if err := inv.InvalidateRole(ctx, roleID); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DecisionCache stores resolver decisions across requests.
//
// Generation snapshots the invalidation epoch of roleIDs and is taken before
// the store is read. Set stores a decision under that snapshot; an entry whose
// roles were invalidated after the snapshot must never be returned by Get.
type DecisionCache interface {
	Invalidator
	Get(ctx context.Context, key DecisionKey) (Decision, bool, error)
	Generation(ctx context.Context, roleIDs []RoleID) (string, error)
	Set(ctx context.Context, key DecisionKey, gen string, decision Decision) error
}

// MetricsRecorder receives engine measurements. observability.Metrics implements it.
type MetricsRecorder interface {
	RecordDecision(action Capability, allowed, bypass bool)
	RecordCacheLookup(cache string, hit bool)
	RecordMutation(op string, kind Kind)
}

type noopMetrics struct{}

func (noopMetrics) RecordDecision(Capability, bool, bool) {}
func (noopMetrics) RecordCacheLookup(string, bool)        {}
func (noopMetrics) RecordMutation(string, Kind)           {}
