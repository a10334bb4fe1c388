package rbac_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/backstage/pkg/rbac"
	"github.com/platinummonkey/backstage/pkg/storage/memory"
)

var errStoreDown = errors.New("connection refused")

// flakyBackend fails reads on demand to simulate an unreachable store
type flakyBackend struct {
	rbac.Backend
	down atomic.Bool
}

func (f *flakyBackend) GetRole(ctx context.Context, id rbac.RoleID) (*rbac.Role, error) {
	if f.down.Load() {
		return nil, errStoreDown
	}
	return f.Backend.GetRole(ctx, id)
}

func (f *flakyBackend) GetGrant(ctx context.Context, roleID rbac.RoleID, resourceID rbac.ResourceID) (*rbac.PermissionGrant, error) {
	if f.down.Load() {
		return nil, errStoreDown
	}
	return f.Backend.GetGrant(ctx, roleID, resourceID)
}

func (f *flakyBackend) RolesForPrincipal(ctx context.Context, principalID string) ([]rbac.RoleID, error) {
	if f.down.Load() {
		return nil, errStoreDown
	}
	return f.Backend.RolesForPrincipal(ctx, principalID)
}

func (f *flakyBackend) WithTx(ctx context.Context, fn func(tx rbac.Repository) error) error {
	if f.down.Load() {
		return errStoreDown
	}
	return f.Backend.WithTx(ctx, fn)
}

// recordingInvalidator remembers invalidated roles and can be told to fail
type recordingInvalidator struct {
	mu    sync.Mutex
	roles []rbac.RoleID
	err   error
}

func (r *recordingInvalidator) InvalidateRole(ctx context.Context, roleID rbac.RoleID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles = append(r.roles, roleID)
	return r.err
}

func (r *recordingInvalidator) calls() []rbac.RoleID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rbac.RoleID(nil), r.roles...)
}

type env struct {
	backend     *flakyBackend
	roles       *rbac.RoleStore
	matrix      *rbac.PermissionMatrix
	resolver    *rbac.Resolver
	hierarchy   *rbac.HierarchyValidator
	invalidator *recordingInvalidator
	clock       *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newEnv wires every component over one memory backend seeded with resources
func newEnv(t *testing.T, extra ...rbac.Option) *env {
	t.Helper()

	logger, _ := test.NewNullLogger()
	e := &env{
		backend:     &flakyBackend{Backend: memory.New("tenant-1")},
		invalidator: &recordingInvalidator{},
		clock:       &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	defaults := rbac.NewSystemDefaults()
	opts := append([]rbac.Option{
		rbac.WithLogger(logger),
		rbac.WithInvalidator(e.invalidator),
		rbac.WithSystemDefaults(defaults),
		rbac.WithClock(e.clock.Now),
	}, extra...)

	e.roles = rbac.NewRoleStore(e.backend, opts...)
	e.matrix = rbac.NewPermissionMatrix(e.backend, opts...)
	e.resolver = rbac.NewResolver(e.backend, opts...)
	e.hierarchy = rbac.NewHierarchyValidator(e.backend, opts...)

	ctx := context.Background()
	for _, res := range []rbac.Resource{
		{ID: "events.list", Name: "Events", Module: "events"},
		{ID: "events.detail", Name: "Event detail", Module: "events"},
		{ID: "budget.view", Name: "Budget", Module: "finance"},
		{ID: "vendors.list", Name: "Vendors", Module: "vendors"},
	} {
		res := res
		require.NoError(t, e.backend.UpsertResource(ctx, &res))
	}
	return e
}

func (e *env) createRole(t *testing.T, name string, level int) *rbac.Role {
	t.Helper()
	role, err := e.roles.CreateRole(context.Background(), name, level, rbac.RoleTypeInternal)
	require.NoError(t, err)
	return role
}

func (e *env) superAdmin(t *testing.T) *rbac.Role {
	t.Helper()
	ctx := context.Background()
	role, err := e.roles.EnsureSystemRole(ctx, rbac.SuperAdminRole())
	require.NoError(t, err)
	require.NoError(t, e.matrix.SeedDefaults(ctx, role.ID))
	return role
}

func (e *env) grant(t *testing.T, roleID rbac.RoleID, resourceID rbac.ResourceID, c rbac.Capability) {
	t.Helper()
	_, err := e.matrix.SetCapability(context.Background(), roleID, resourceID, c, true)
	require.NoError(t, err)
}

func requireKind(t *testing.T, want rbac.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, rbac.KindOf(err), "error: %v", err)
}

// pausingBackend blocks the first grant read after it has completed, so a
// write can commit while a reader still holds the old grant
type pausingBackend struct {
	rbac.Backend
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newPausingBackend(b rbac.Backend) *pausingBackend {
	return &pausingBackend{Backend: b, entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingBackend) pause() {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
}

func (p *pausingBackend) GetGrant(ctx context.Context, roleID rbac.RoleID, resourceID rbac.ResourceID) (*rbac.PermissionGrant, error) {
	g, err := p.Backend.GetGrant(ctx, roleID, resourceID)
	p.pause()
	return g, err
}

func (p *pausingBackend) ListGrants(ctx context.Context, roleID rbac.RoleID) ([]rbac.PermissionGrant, error) {
	rows, err := p.Backend.ListGrants(ctx, roleID)
	p.pause()
	return rows, err
}

// countingBackend counts grant upserts made inside transactions
type countingBackend struct {
	rbac.Backend
	upserts atomic.Int32
}

func (c *countingBackend) WithTx(ctx context.Context, fn func(tx rbac.Repository) error) error {
	return c.Backend.WithTx(ctx, func(tx rbac.Repository) error {
		return fn(&countingRepository{Repository: tx, upserts: &c.upserts})
	})
}

type countingRepository struct {
	rbac.Repository
	upserts *atomic.Int32
}

func (r *countingRepository) UpsertGrant(ctx context.Context, grant rbac.PermissionGrant) error {
	r.upserts.Add(1)
	return r.Repository.UpsertGrant(ctx, grant)
}
