package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

var allowTeam = rbac.Decision{Allowed: true, DataScope: rbac.ScopeTeam, MatchedRoles: []rbac.RoleID{"r-1"}}

// store caches d under the current generation of key's roles
func store(t *testing.T, c rbac.DecisionCache, key rbac.DecisionKey, d rbac.Decision) {
	t.Helper()
	ctx := context.Background()
	gen, err := c.Generation(ctx, key.RoleIDs)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, key, gen, d))
}

func TestLRU_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(Config{MaxEntries: 10, TTL: time.Minute})
	key := rbac.NewDecisionKey([]rbac.RoleID{"r-2", "r-1"}, "events.list", rbac.CapabilityView)

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	store(t, c, key, allowTeam)

	// role order does not matter
	same := rbac.NewDecisionKey([]rbac.RoleID{"r-1", "r-2"}, "events.list", rbac.CapabilityView)
	got, ok, err := c.Get(ctx, same)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, allowTeam, got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.ItemCount)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
}

func TestLRU_InvalidateRoleIsSelective(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(Config{MaxEntries: 10, TTL: time.Minute})

	k1 := rbac.NewDecisionKey([]rbac.RoleID{"r-1"}, "events.list", rbac.CapabilityView)
	k12 := rbac.NewDecisionKey([]rbac.RoleID{"r-1", "r-2"}, "events.list", rbac.CapabilityEdit)
	k2 := rbac.NewDecisionKey([]rbac.RoleID{"r-2"}, "budget.view", rbac.CapabilityView)
	for _, k := range []rbac.DecisionKey{k1, k12, k2} {
		store(t, c, k, allowTeam)
	}

	require.NoError(t, c.InvalidateRole(ctx, "r-1"))

	_, ok, _ := c.Get(ctx, k1)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, k12)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, k2)
	assert.True(t, ok)

	// r-2's index no longer references the evicted shared key
	c.mu.Lock()
	assert.Len(t, c.byRole["r-2"], 1)
	c.mu.Unlock()
}

func TestLRU_CapacityEvictionCleansIndex(t *testing.T) {
	c := NewLRU(Config{MaxEntries: 1, TTL: time.Minute})

	k1 := rbac.NewDecisionKey([]rbac.RoleID{"r-1"}, "a", rbac.CapabilityView)
	k2 := rbac.NewDecisionKey([]rbac.RoleID{"r-2"}, "b", rbac.CapabilityView)
	store(t, c, k1, allowTeam)
	store(t, c, k2, allowTeam)

	c.mu.Lock()
	_, stillIndexed := c.byRole["r-1"]
	c.mu.Unlock()
	assert.False(t, stillIndexed)
}

func TestLRU_Purge(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(DefaultConfig())
	key := rbac.NewDecisionKey([]rbac.RoleID{"r-1"}, "a", rbac.CapabilityView)
	store(t, c, key, allowTeam)

	c.Purge()
	_, ok, _ := c.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Stats().ItemCount)
}

func TestLRU_SetAfterInvalidationIsDropped(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(DefaultConfig())
	key := rbac.NewDecisionKey([]rbac.RoleID{"r-1", "r-2"}, "events.list", rbac.CapabilityView)

	gen, err := c.Generation(ctx, key.RoleIDs)
	require.NoError(t, err)

	// a write to r-2 lands between the store read and the cache write
	require.NoError(t, c.InvalidateRole(ctx, "r-2"))
	require.NoError(t, c.Set(ctx, key, gen, allowTeam))

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Stats().ItemCount)

	fresh, err := c.Generation(ctx, key.RoleIDs)
	require.NoError(t, err)
	assert.NotEqual(t, gen, fresh)
	require.NoError(t, c.Set(ctx, key, fresh, allowTeam))
	_, ok, _ = c.Get(ctx, key)
	assert.True(t, ok)
}

func TestLRU_GetRejectsEntryFromOlderGeneration(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(DefaultConfig())
	key := rbac.NewDecisionKey([]rbac.RoleID{"r-1"}, "events.list", rbac.CapabilityView)

	gen, err := c.Generation(ctx, key.RoleIDs)
	require.NoError(t, err)
	// simulate the entry being added after the invalidation swept the index
	c.cache.Add(key.String(), entry{decision: allowTeam, roles: key.RoleIDs, gen: gen})
	c.mu.Lock()
	c.gens["r-1"]++
	c.mu.Unlock()

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Stats().ItemCount)
}

func TestLRU_PurgeInvalidatesOutstandingGenerations(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(DefaultConfig())
	key := rbac.NewDecisionKey([]rbac.RoleID{"r-1"}, "events.list", rbac.CapabilityView)

	gen, err := c.Generation(ctx, key.RoleIDs)
	require.NoError(t, err)
	c.Purge()
	require.NoError(t, c.Set(ctx, key, gen, allowTeam))

	_, ok, _ := c.Get(ctx, key)
	assert.False(t, ok)
}
