package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

// Redis is a decision cache shared between processes. Each decision key is
// also added to a per-role set so a role write can evict its decisions, and
// every role has an epoch counter that InvalidateRole increments. Entries
// carry the epochs they were computed at and are rejected once those move.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ rbac.DecisionCache = (*Redis)(nil)

// NewRedis creates a cache for one tenant on client
func NewRedis(client redis.UniversalClient, tenantID string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultConfig().TTL
	}
	return &Redis{
		client: client,
		prefix: fmt.Sprintf("backstage:%s:", tenantID),
		ttl:    ttl,
	}
}

// NewRedisClient parses a redis:// URL and verifies connectivity
func NewRedisClient(ctx context.Context, url string, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (c *Redis) decisionKey(key rbac.DecisionKey) string {
	return c.prefix + "decision:" + key.String()
}

func (c *Redis) roleKey(roleID rbac.RoleID) string {
	return c.prefix + "role:" + string(roleID)
}

func (c *Redis) epochKeys(roleIDs []rbac.RoleID) []string {
	keys := make([]string, len(roleIDs))
	for i, id := range roleIDs {
		keys[i] = c.prefix + "epoch:" + string(id)
	}
	return keys
}

type redisEntry struct {
	Gen      string        `json:"gen"`
	Decision rbac.Decision `json:"decision"`
}

// Get returns the cached decision for key. An entry computed before one of
// its roles was invalidated is deleted and reported as a miss.
func (c *Redis) Get(ctx context.Context, key rbac.DecisionKey) (rbac.Decision, bool, error) {
	k := c.decisionKey(key)

	pipe := c.client.Pipeline()
	get := pipe.Get(ctx, k)
	var epochs *redis.SliceCmd
	if len(key.RoleIDs) > 0 {
		epochs = pipe.MGet(ctx, c.epochKeys(key.RoleIDs)...)
	}
	_, err := pipe.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		return rbac.Decision{}, false, nil
	}
	if err != nil {
		return rbac.Decision{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var e redisEntry
	if err := json.Unmarshal([]byte(get.Val()), &e); err != nil {
		// corrupt entry; drop it and report a miss
		c.client.Del(ctx, k)
		return rbac.Decision{}, false, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	if epochs != nil && joinEpochs(epochs.Val()) != e.Gen {
		c.client.Del(ctx, k)
		return rbac.Decision{}, false, nil
	}
	return e.Decision, true, nil
}

// Generation reads the epoch counters of roleIDs
func (c *Redis) Generation(ctx context.Context, roleIDs []rbac.RoleID) (string, error) {
	if len(roleIDs) == 0 {
		return "", nil
	}
	vals, err := c.client.MGet(ctx, c.epochKeys(roleIDs)...).Result()
	if err != nil {
		return "", fmt.Errorf("redis mget failed: %w", err)
	}
	return joinEpochs(vals), nil
}

func joinEpochs(vals []interface{}) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			parts[i] = s
		} else {
			parts[i] = "0"
		}
	}
	return strings.Join(parts, ".")
}

// Set stores a decision computed at gen and indexes it under each of its
// roles. The write is skipped when an epoch moved after gen was taken.
func (c *Redis) Set(ctx context.Context, key rbac.DecisionKey, gen string, decision rbac.Decision) error {
	data, err := json.Marshal(redisEntry{Gen: gen, Decision: decision})
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	k := c.decisionKey(key)
	epochKeys := c.epochKeys(key.RoleIDs)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		if len(epochKeys) > 0 {
			vals, err := tx.MGet(ctx, epochKeys...).Result()
			if err != nil {
				return err
			}
			if joinEpochs(vals) != gen {
				return nil
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, c.ttl)
			for _, id := range key.RoleIDs {
				rk := c.roleKey(id)
				pipe.SAdd(ctx, rk, k)
				pipe.Expire(ctx, rk, c.ttl)
			}
			return nil
		})
		return err
	}, epochKeys...)
	if errors.Is(err, redis.TxFailedErr) {
		// an invalidation raced the write
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// InvalidateRole bumps the role's epoch, then deletes every decision indexed
// under it
func (c *Redis) InvalidateRole(ctx context.Context, roleID rbac.RoleID) error {
	if err := c.client.Incr(ctx, c.epochKeys([]rbac.RoleID{roleID})[0]).Err(); err != nil {
		return fmt.Errorf("redis incr failed: %w", err)
	}

	rk := c.roleKey(roleID)
	keys, err := c.client.SMembers(ctx, rk).Result()
	if err != nil {
		return fmt.Errorf("redis smembers failed: %w", err)
	}

	if err := c.client.Del(ctx, append(keys, rk)...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
