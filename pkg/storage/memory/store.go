// Package memory is an in-process rbac.Backend for tests, local development
// and single-node deployments without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

// Store holds the state of one tenant behind a mutex. Transactions run on a
// copy of the state that replaces the original only when fn succeeds.
type Store struct {
	mu       sync.RWMutex
	tenantID string
	state    *state
}

var _ rbac.Backend = (*Store)(nil)

// New creates an empty store for tenantID
func New(tenantID string) *Store {
	return &Store{tenantID: tenantID, state: newState()}
}

// WithTx runs fn atomically. Concurrent transactions are serialized.
func (s *Store) WithTx(ctx context.Context, fn func(tx rbac.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	draft := s.state.clone()
	if err := fn(&view{tenantID: s.tenantID, st: draft}); err != nil {
		return err
	}
	s.state = draft
	return nil
}

func (s *Store) read() *view {
	return &view{tenantID: s.tenantID, st: s.state}
}

func (s *Store) GetRole(ctx context.Context, id rbac.RoleID) (*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetRole(ctx, id)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetRoleByName(ctx, name)
}

func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListRoles(ctx)
}

func (s *Store) InsertRole(ctx context.Context, role *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertRole(ctx, role)
}

func (s *Store) UpdateRole(ctx context.Context, role *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateRole(ctx, role)
}

func (s *Store) DeleteRole(ctx context.Context, id rbac.RoleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().DeleteRole(ctx, id)
}

func (s *Store) CountRoleHolders(ctx context.Context, id rbac.RoleID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CountRoleHolders(ctx, id)
}

func (s *Store) AssignRole(ctx context.Context, principalID string, roleID rbac.RoleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().AssignRole(ctx, principalID, roleID)
}

func (s *Store) UnassignRole(ctx context.Context, principalID string, roleID rbac.RoleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UnassignRole(ctx, principalID, roleID)
}

func (s *Store) RolesForPrincipal(ctx context.Context, principalID string) ([]rbac.RoleID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().RolesForPrincipal(ctx, principalID)
}

func (s *Store) GetResource(ctx context.Context, id rbac.ResourceID) (*rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetResource(ctx, id)
}

func (s *Store) ListResources(ctx context.Context) ([]rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListResources(ctx)
}

func (s *Store) UpsertResource(ctx context.Context, resource *rbac.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpsertResource(ctx, resource)
}

func (s *Store) GetGrant(ctx context.Context, roleID rbac.RoleID, resourceID rbac.ResourceID) (*rbac.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetGrant(ctx, roleID, resourceID)
}

func (s *Store) ListGrants(ctx context.Context, roleID rbac.RoleID) ([]rbac.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListGrants(ctx, roleID)
}

func (s *Store) UpsertGrant(ctx context.Context, grant rbac.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpsertGrant(ctx, grant)
}

func (s *Store) GetManager(ctx context.Context, principalID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetManager(ctx, principalID)
}

func (s *Store) SetManager(ctx context.Context, principalID, managerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SetManager(ctx, principalID, managerID)
}

func (s *Store) InsertPreset(ctx context.Context, preset *rbac.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertPreset(ctx, preset)
}

func (s *Store) GetPreset(ctx context.Context, id string) (*rbac.Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetPreset(ctx, id)
}

func (s *Store) ListPresets(ctx context.Context, owner string) ([]rbac.Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListPresets(ctx, owner)
}

func (s *Store) DeletePreset(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().DeletePreset(ctx, id)
}

type state struct {
	roles       map[rbac.RoleID]rbac.Role
	resources   map[rbac.ResourceID]rbac.Resource
	grants      map[rbac.RoleID]map[rbac.ResourceID]rbac.PermissionGrant
	assignments map[string]map[rbac.RoleID]struct{}
	managers    map[string]string
	presets     map[string]rbac.Preset
}

func newState() *state {
	return &state{
		roles:       make(map[rbac.RoleID]rbac.Role),
		resources:   make(map[rbac.ResourceID]rbac.Resource),
		grants:      make(map[rbac.RoleID]map[rbac.ResourceID]rbac.PermissionGrant),
		assignments: make(map[string]map[rbac.RoleID]struct{}),
		managers:    make(map[string]string),
		presets:     make(map[string]rbac.Preset),
	}
}

func (st *state) clone() *state {
	out := newState()
	for k, v := range st.roles {
		out.roles[k] = v
	}
	for k, v := range st.resources {
		out.resources[k] = v
	}
	for roleID, byResource := range st.grants {
		cp := make(map[rbac.ResourceID]rbac.PermissionGrant, len(byResource))
		for k, v := range byResource {
			cp[k] = v
		}
		out.grants[roleID] = cp
	}
	for principal, roles := range st.assignments {
		cp := make(map[rbac.RoleID]struct{}, len(roles))
		for k := range roles {
			cp[k] = struct{}{}
		}
		out.assignments[principal] = cp
	}
	for k, v := range st.managers {
		out.managers[k] = v
	}
	for k, v := range st.presets {
		out.presets[k] = v
	}
	return out
}

// view implements rbac.Repository over a state without locking
type view struct {
	tenantID string
	st       *state
}

func (v *view) GetRole(ctx context.Context, id rbac.RoleID) (*rbac.Role, error) {
	role, ok := v.st.roles[id]
	if !ok {
		return nil, rbac.NotFoundError("memory.GetRole", fmt.Errorf("role %s", id))
	}
	return &role, nil
}

func (v *view) GetRoleByName(ctx context.Context, name string) (*rbac.Role, error) {
	for _, role := range v.st.roles {
		if role.Name == name {
			r := role
			return &r, nil
		}
	}
	return nil, rbac.NotFoundError("memory.GetRoleByName", fmt.Errorf("role %q", name))
}

func (v *view) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	roles := make([]rbac.Role, 0, len(v.st.roles))
	for _, role := range v.st.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].HierarchyLevel != roles[j].HierarchyLevel {
			return roles[i].HierarchyLevel < roles[j].HierarchyLevel
		}
		return roles[i].Name < roles[j].Name
	})
	return roles, nil
}

func (v *view) nameTaken(name string, self rbac.RoleID) bool {
	for id, role := range v.st.roles {
		if id != self && role.Name == name {
			return true
		}
	}
	return false
}

func (v *view) InsertRole(ctx context.Context, role *rbac.Role) error {
	if _, exists := v.st.roles[role.ID]; exists || v.nameTaken(role.Name, "") {
		return rbac.DuplicateNameError("memory.InsertRole", fmt.Errorf("role %q", role.Name))
	}
	role.TenantID = v.tenantID
	v.st.roles[role.ID] = *role
	return nil
}

func (v *view) UpdateRole(ctx context.Context, role *rbac.Role) error {
	if _, ok := v.st.roles[role.ID]; !ok {
		return rbac.NotFoundError("memory.UpdateRole", fmt.Errorf("role %s", role.ID))
	}
	if v.nameTaken(role.Name, role.ID) {
		return rbac.DuplicateNameError("memory.UpdateRole", fmt.Errorf("role %q", role.Name))
	}
	role.TenantID = v.tenantID
	v.st.roles[role.ID] = *role
	return nil
}

func (v *view) DeleteRole(ctx context.Context, id rbac.RoleID) error {
	if _, ok := v.st.roles[id]; !ok {
		return rbac.NotFoundError("memory.DeleteRole", fmt.Errorf("role %s", id))
	}
	delete(v.st.roles, id)
	delete(v.st.grants, id)
	return nil
}

func (v *view) CountRoleHolders(ctx context.Context, id rbac.RoleID) (int, error) {
	count := 0
	for _, roles := range v.st.assignments {
		if _, ok := roles[id]; ok {
			count++
		}
	}
	return count, nil
}

func (v *view) AssignRole(ctx context.Context, principalID string, roleID rbac.RoleID) error {
	if _, ok := v.st.roles[roleID]; !ok {
		return rbac.NotFoundError("memory.AssignRole", fmt.Errorf("role %s", roleID))
	}
	roles, ok := v.st.assignments[principalID]
	if !ok {
		roles = make(map[rbac.RoleID]struct{})
		v.st.assignments[principalID] = roles
	}
	roles[roleID] = struct{}{}
	return nil
}

func (v *view) UnassignRole(ctx context.Context, principalID string, roleID rbac.RoleID) error {
	roles, ok := v.st.assignments[principalID]
	if !ok {
		return rbac.NotFoundError("memory.UnassignRole", fmt.Errorf("principal %s", principalID))
	}
	if _, ok := roles[roleID]; !ok {
		return rbac.NotFoundError("memory.UnassignRole", fmt.Errorf("assignment %s/%s", principalID, roleID))
	}
	delete(roles, roleID)
	if len(roles) == 0 {
		delete(v.st.assignments, principalID)
	}
	return nil
}

func (v *view) RolesForPrincipal(ctx context.Context, principalID string) ([]rbac.RoleID, error) {
	ids := make([]rbac.RoleID, 0, len(v.st.assignments[principalID]))
	for id := range v.st.assignments[principalID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (v *view) GetResource(ctx context.Context, id rbac.ResourceID) (*rbac.Resource, error) {
	res, ok := v.st.resources[id]
	if !ok {
		return nil, rbac.NotFoundError("memory.GetResource", fmt.Errorf("resource %s", id))
	}
	return &res, nil
}

func (v *view) ListResources(ctx context.Context) ([]rbac.Resource, error) {
	out := make([]rbac.Resource, 0, len(v.st.resources))
	for _, res := range v.st.resources {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) UpsertResource(ctx context.Context, resource *rbac.Resource) error {
	v.st.resources[resource.ID] = *resource
	return nil
}

func (v *view) GetGrant(ctx context.Context, roleID rbac.RoleID, resourceID rbac.ResourceID) (*rbac.PermissionGrant, error) {
	g, ok := v.st.grants[roleID][resourceID]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (v *view) ListGrants(ctx context.Context, roleID rbac.RoleID) ([]rbac.PermissionGrant, error) {
	out := make([]rbac.PermissionGrant, 0, len(v.st.grants[roleID]))
	for _, g := range v.st.grants[roleID] {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out, nil
}

func (v *view) UpsertGrant(ctx context.Context, grant rbac.PermissionGrant) error {
	if _, ok := v.st.roles[grant.RoleID]; !ok {
		return rbac.NotFoundError("memory.UpsertGrant", fmt.Errorf("role %s", grant.RoleID))
	}
	if _, ok := v.st.resources[grant.ResourceID]; !ok {
		return rbac.NotFoundError("memory.UpsertGrant", fmt.Errorf("resource %s", grant.ResourceID))
	}
	byResource, ok := v.st.grants[grant.RoleID]
	if !ok {
		byResource = make(map[rbac.ResourceID]rbac.PermissionGrant)
		v.st.grants[grant.RoleID] = byResource
	}
	byResource[grant.ResourceID] = grant
	return nil
}

func (v *view) GetManager(ctx context.Context, principalID string) (string, error) {
	return v.st.managers[principalID], nil
}

func (v *view) SetManager(ctx context.Context, principalID, managerID string) error {
	if managerID == "" {
		delete(v.st.managers, principalID)
		return nil
	}
	v.st.managers[principalID] = managerID
	return nil
}

func (v *view) InsertPreset(ctx context.Context, preset *rbac.Preset) error {
	if _, exists := v.st.presets[preset.ID]; exists {
		return rbac.DuplicateNameError("memory.InsertPreset", fmt.Errorf("preset %s", preset.ID))
	}
	preset.TenantID = v.tenantID
	v.st.presets[preset.ID] = copyPreset(*preset)
	return nil
}

func (v *view) GetPreset(ctx context.Context, id string) (*rbac.Preset, error) {
	p, ok := v.st.presets[id]
	if !ok {
		return nil, rbac.NotFoundError("memory.GetPreset", fmt.Errorf("preset %s", id))
	}
	cp := copyPreset(p)
	return &cp, nil
}

func (v *view) ListPresets(ctx context.Context, owner string) ([]rbac.Preset, error) {
	out := make([]rbac.Preset, 0)
	for _, p := range v.st.presets {
		if owner == "" || p.Owner == owner {
			out = append(out, copyPreset(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) DeletePreset(ctx context.Context, id string) error {
	if _, ok := v.st.presets[id]; !ok {
		return rbac.NotFoundError("memory.DeletePreset", fmt.Errorf("preset %s", id))
	}
	delete(v.st.presets, id)
	return nil
}

func copyPreset(p rbac.Preset) rbac.Preset {
	p.RoleIDs = append([]rbac.RoleID(nil), p.RoleIDs...)
	p.Modules = append([]string(nil), p.Modules...)
	return p
}
