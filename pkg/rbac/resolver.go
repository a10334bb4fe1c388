package rbac

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// fetchConcurrency bounds the per-role store reads of one resolution
const fetchConcurrency = 8

// Resolver answers "may this set of roles perform action on resource?"
type Resolver struct {
	backend Repository
	opts    options
}

// NewResolver creates a resolver reading from backend
func NewResolver(backend Repository, opts ...Option) *Resolver {
	return &Resolver{backend: backend, opts: newOptions(opts)}
}

// Resolve computes the effective decision for roleIDs. The result is the OR of
// all held roles with the widest scope among the roles that allow. Any store
// failure yields a deny decision together with a StoreUnavailable error.
func (r *Resolver) Resolve(ctx context.Context, roleIDs []RoleID, resourceID ResourceID, action Capability) (Decision, error) {
	const op = "rbac.Resolve"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(
		attribute.String("resource_id", string(resourceID)),
		attribute.String("action", string(action)),
		attribute.Int("role_count", len(roleIDs)),
	)

	if !action.Valid() {
		return Deny(), &Error{Kind: KindInvalid, Op: op, ResourceID: resourceID}
	}

	key := NewDecisionKey(roleIDs, resourceID, action)
	if len(key.RoleIDs) == 0 {
		r.opts.metrics.RecordDecision(action, false, false)
		return Deny(), nil
	}

	memo := memoFrom(ctx)
	if memo != nil {
		if d, ok := memo.get(key); ok {
			r.opts.metrics.RecordCacheLookup("request", true)
			return d, nil
		}
		r.opts.metrics.RecordCacheLookup("request", false)
	}

	// gen is taken before the store read so a write that lands during fetch
	// keeps this decision out of the cache
	var gen string
	cacheable := false
	if r.opts.cache != nil {
		d, ok, err := r.opts.cache.Get(ctx, key)
		if err != nil {
			r.opts.logger.WithField("key", key.String()).WithError(err).Warn("decision cache read failed")
		}
		r.opts.metrics.RecordCacheLookup("decision", ok)
		if ok {
			memo.set(key, d)
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return d, nil
		}
		if gen, err = r.opts.cache.Generation(ctx, key.RoleIDs); err != nil {
			r.opts.logger.WithField("key", key.String()).WithError(err).Warn("decision cache generation read failed")
		} else {
			cacheable = true
		}
	}

	roles, grants, err := r.fetch(ctx, key.RoleIDs, resourceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
		r.opts.metrics.RecordDecision(action, false, false)
		r.opts.logger.WithFields(logrus.Fields{
			"resource_id": resourceID,
			"action":      action,
		}).WithError(err).Error("permission resolution failed closed")
		return Deny(), storeError(op, err)
	}

	d := Evaluate(roles, grants, action)
	r.opts.metrics.RecordDecision(action, d.Allowed, d.Bypass)
	span.SetAttributes(attribute.Bool("allowed", d.Allowed), attribute.Bool("bypass", d.Bypass))

	if cacheable {
		if err := r.opts.cache.Set(ctx, key, gen, d); err != nil {
			r.opts.logger.WithField("key", key.String()).WithError(err).Warn("decision cache write failed")
		}
	}
	memo.set(key, d)
	return d, nil
}

// ResolvePrincipal resolves using the roles currently assigned to principalID
func (r *Resolver) ResolvePrincipal(ctx context.Context, principalID string, resourceID ResourceID, action Capability) (Decision, error) {
	const op = "rbac.ResolvePrincipal"

	if principalID == "" {
		return Deny(), nil
	}
	roleIDs, err := r.backend.RolesForPrincipal(ctx, principalID)
	if err != nil {
		r.opts.metrics.RecordDecision(action, false, false)
		return Deny(), storeError(op, err)
	}
	return r.Resolve(ctx, roleIDs, resourceID, action)
}

// fetch loads the held roles and their grants on resourceID concurrently.
// Unknown role IDs are dropped.
func (r *Resolver) fetch(ctx context.Context, roleIDs []RoleID, resourceID ResourceID) ([]Role, map[RoleID]PermissionGrant, error) {
	roles := make([]*Role, len(roleIDs))
	grants := make([]*PermissionGrant, len(roleIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range roleIDs {
		g.Go(func() error {
			role, err := r.backend.GetRole(gctx, id)
			if err != nil {
				if KindOf(err) == KindNotFound {
					return nil
				}
				return err
			}
			roles[i] = role
			if role.Status == RoleStatusSuspended || role.IsRoot() {
				return nil
			}
			grant, err := r.backend.GetGrant(gctx, id, resourceID)
			if err != nil {
				return err
			}
			grants[i] = grant
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	outRoles := make([]Role, 0, len(roles))
	outGrants := make(map[RoleID]PermissionGrant, len(grants))
	for i, role := range roles {
		if role == nil {
			continue
		}
		outRoles = append(outRoles, *role)
		if grants[i] != nil {
			outGrants[role.ID] = *grants[i]
		}
	}
	return outRoles, outGrants, nil
}

// Evaluate is the pure decision function. Suspended roles are ignored. Any
// active root role bypasses the matrix with a global allow; otherwise the
// decision is the OR of the grants and the widest scope of the allowing roles.
func Evaluate(roles []Role, grants map[RoleID]PermissionGrant, action Capability) Decision {
	var bypass []RoleID
	for _, role := range roles {
		if role.IsRoot() {
			bypass = append(bypass, role.ID)
		}
	}
	if len(bypass) > 0 {
		return Decision{Allowed: true, DataScope: ScopeGlobal, MatchedRoles: normalizeRoleIDs(bypass), Bypass: true}
	}

	d := Deny()
	var matched []RoleID
	for _, role := range roles {
		if role.Status == RoleStatusSuspended {
			continue
		}
		g, ok := grants[role.ID]
		if !ok || !g.Has(action) {
			continue
		}
		if !d.Allowed {
			d.Allowed = true
			d.DataScope = g.EffectiveScope()
		} else {
			d.DataScope = d.DataScope.Wider(g.EffectiveScope())
		}
		matched = append(matched, role.ID)
	}
	if d.Allowed {
		d.MatchedRoles = normalizeRoleIDs(matched)
	}
	return d
}

type memoContextKey struct{}

type requestMemo struct {
	mu        sync.Mutex
	decisions map[string]Decision
}

// WithRequestMemo returns a context that memoizes decisions for its lifetime.
// Attach it once per inbound request.
func WithRequestMemo(ctx context.Context) context.Context {
	if memoFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, memoContextKey{}, &requestMemo{decisions: make(map[string]Decision)})
}

func memoFrom(ctx context.Context) *requestMemo {
	m, _ := ctx.Value(memoContextKey{}).(*requestMemo)
	return m
}

func (m *requestMemo) get(key DecisionKey) (Decision, bool) {
	if m == nil {
		return Decision{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[key.String()]
	return d, ok
}

func (m *requestMemo) set(key DecisionKey, d Decision) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[key.String()] = d
}
