package cache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

// Config sizes a decision cache
type Config struct {
	MaxEntries int
	TTL        time.Duration
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{MaxEntries: 10000, TTL: 5 * time.Minute}
}

// Stats is a point-in-time view of cache effectiveness
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	ItemCount int64   `json:"item_count"`
	HitRate   float64 `json:"hit_rate"`
}

type entry struct {
	decision rbac.Decision
	roles    []rbac.RoleID
	gen      string
}

// LRU is an in-process decision cache with per-entry expiry
type LRU struct {
	cache *lru.LRU[string, entry]

	// byRole indexes live keys so InvalidateRole can evict selectively.
	// gens counts invalidations per role and epoch counts purges.
	// Never held while calling into cache: eviction callbacks take it.
	mu     sync.Mutex
	byRole map[rbac.RoleID]map[string]struct{}
	gens   map[rbac.RoleID]uint64
	epoch  uint64

	hits   atomic.Int64
	misses atomic.Int64
}

var _ rbac.DecisionCache = (*LRU)(nil)

// NewLRU creates an in-process cache
func NewLRU(config Config) *LRU {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultConfig().MaxEntries
	}
	c := &LRU{
		byRole: make(map[rbac.RoleID]map[string]struct{}),
		gens:   make(map[rbac.RoleID]uint64),
	}
	c.cache = lru.NewLRU[string, entry](config.MaxEntries, c.onEvict, config.TTL)
	return c
}

// Get returns the cached decision for key. Entries stored under a generation
// that has since been invalidated are evicted and reported as a miss.
func (c *LRU) Get(ctx context.Context, key rbac.DecisionKey) (rbac.Decision, bool, error) {
	k := key.String()
	e, ok := c.cache.Get(k)
	if ok {
		c.mu.Lock()
		current := c.generationLocked(e.roles)
		c.mu.Unlock()
		if current != e.gen {
			c.cache.Remove(k)
			ok = false
		}
	}
	if !ok {
		c.misses.Add(1)
		return rbac.Decision{}, false, nil
	}
	c.hits.Add(1)
	return e.decision, true, nil
}

// Generation snapshots the invalidation counters of roleIDs
func (c *LRU) Generation(ctx context.Context, roleIDs []rbac.RoleID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generationLocked(roleIDs), nil
}

func (c *LRU) generationLocked(roleIDs []rbac.RoleID) string {
	buf := strconv.AppendUint(nil, c.epoch, 10)
	for _, id := range roleIDs {
		buf = append(buf, '.')
		buf = strconv.AppendUint(buf, c.gens[id], 10)
	}
	return string(buf)
}

// Set stores a decision computed at gen. It is dropped when one of its roles
// was invalidated after gen was taken.
func (c *LRU) Set(ctx context.Context, key rbac.DecisionKey, gen string, decision rbac.Decision) error {
	k := key.String()

	c.mu.Lock()
	if c.generationLocked(key.RoleIDs) != gen {
		c.mu.Unlock()
		return nil
	}
	for _, id := range key.RoleIDs {
		keys, ok := c.byRole[id]
		if !ok {
			keys = make(map[string]struct{})
			c.byRole[id] = keys
		}
		keys[k] = struct{}{}
	}
	c.mu.Unlock()

	c.cache.Add(k, entry{decision: decision, roles: key.RoleIDs, gen: gen})
	return nil
}

// InvalidateRole evicts every decision computed with roleID
func (c *LRU) InvalidateRole(ctx context.Context, roleID rbac.RoleID) error {
	c.mu.Lock()
	c.gens[roleID]++
	keys := c.byRole[roleID]
	delete(c.byRole, roleID)
	c.mu.Unlock()

	for k := range keys {
		c.cache.Remove(k)
	}
	return nil
}

// Purge drops everything
func (c *LRU) Purge() {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()

	c.cache.Purge()
	c.mu.Lock()
	c.byRole = make(map[rbac.RoleID]map[string]struct{})
	c.mu.Unlock()
}

// Stats returns hit and miss counters
func (c *LRU) Stats() Stats {
	stats := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: int64(c.cache.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *LRU) onEvict(key string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range e.roles {
		if keys, ok := c.byRole[id]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byRole, id)
			}
		}
	}
}
