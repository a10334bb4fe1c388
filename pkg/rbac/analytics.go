package rbac

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// MaxAuthorityScore is the score of a grant holding every flag
const MaxAuthorityScore = 4

const (
	defaultAnalyticsCacheSize = 256
	defaultAnalyticsCacheTTL  = 10 * time.Minute
)

// AuthorityFlags are the four flags counted by the authority score.
// In the unified grant shape CanEdit supplies both Create and Update.
type AuthorityFlags struct {
	View   bool `json:"view"`
	Create bool `json:"create"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

// FlagsOf maps a grant onto the scored flags
func FlagsOf(g PermissionGrant) AuthorityFlags {
	return AuthorityFlags{
		View:   g.CanView,
		Create: g.CanEdit,
		Update: g.CanEdit,
		Delete: g.CanDelete,
	}
}

// Score counts the true flags (0..4)
func (f AuthorityFlags) Score() int {
	score := 0
	for _, b := range []bool{f.View, f.Create, f.Update, f.Delete} {
		if b {
			score++
		}
	}
	return score
}

// BuildAuthorityMatrix is the pure aggregation. A module spanning several
// resources takes the max resource score; modules with no resources score 0.
func BuildAuthorityMatrix(roles []Role, resources []Resource, grants map[RoleID][]PermissionGrant, modules []string) *AuthorityMatrix {
	resourceModule := make(map[ResourceID]string, len(resources))
	for _, res := range resources {
		resourceModule[res.ID] = res.Module
	}

	out := &AuthorityMatrix{Modules: make(map[string]map[string]int, len(modules))}
	for _, module := range modules {
		row := make(map[string]int, len(roles))
		for _, role := range roles {
			row[role.Name] = 0
		}
		out.Modules[module] = row
	}

	for _, role := range roles {
		for _, g := range grants[role.ID] {
			row, ok := out.Modules[resourceModule[g.ResourceID]]
			if !ok {
				continue
			}
			if score := FlagsOf(g).Score(); score > row[role.Name] {
				row[role.Name] = score
			}
		}
	}
	return out
}

// Aggregator computes authority matrices and manages saved presets
type Aggregator struct {
	backend Backend
	opts    options
	group   singleflight.Group

	// gen counts invalidations; a load that overlaps one is not cached
	mu    sync.Mutex
	gen   uint64
	cache *lru.LRU[string, *AuthorityMatrix]
}

// NewAggregator creates an aggregator with an in-process result cache unless
// WithAnalyticsCache(false) is given
func NewAggregator(backend Backend, opts ...Option) *Aggregator {
	a := &Aggregator{backend: backend, opts: newOptions(opts)}
	if !a.opts.noAnalytics {
		a.cache = lru.NewLRU[string, *AuthorityMatrix](defaultAnalyticsCacheSize, nil, defaultAnalyticsCacheTTL)
	}
	return a
}

// InvalidateRole drops every cached matrix. Matrices span many roles so a
// targeted eviction is not worth the bookkeeping.
func (a *Aggregator) InvalidateRole(ctx context.Context, roleID RoleID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	if a.cache != nil {
		a.cache.Purge()
	}
	return nil
}

func (a *Aggregator) generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen
}

// store caches m unless an invalidation happened since gen
func (a *Aggregator) store(key string, gen uint64, m *AuthorityMatrix) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache != nil && a.gen == gen {
		a.cache.Add(key, m)
	}
}

// ComputeAuthorityMatrix scores roleIDs across modules. An empty role list
// means every role; an empty module list means every module with resources.
func (a *Aggregator) ComputeAuthorityMatrix(ctx context.Context, roleIDs []RoleID, modules []string) (*AuthorityMatrix, error) {
	return a.compute(ctx, roleIDs, modules, false)
}

func (a *Aggregator) compute(ctx context.Context, roleIDs []RoleID, modules []string, skipMissing bool) (*AuthorityMatrix, error) {
	const op = "rbac.ComputeAuthorityMatrix"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	roleIDs = normalizeRoleIDs(roleIDs)
	modules = normalizeModules(modules)
	key := analyticsKey(roleIDs, modules, skipMissing)

	if a.cache != nil {
		if m, ok := a.cache.Get(key); ok {
			a.opts.metrics.RecordCacheLookup("analytics", true)
			return m.clone(), nil
		}
		a.opts.metrics.RecordCacheLookup("analytics", false)
	}

	// loads started before an invalidation are not shared with later callers
	gen := a.generation()
	v, err, shared := a.group.Do(strconv.FormatUint(gen, 10)+"|"+key, func() (interface{}, error) {
		m, err := a.load(ctx, roleIDs, modules, skipMissing)
		if err != nil {
			return nil, err
		}
		a.store(key, gen, m)
		return m, nil
	})
	span.SetAttributes(attribute.Bool("shared", shared))
	if err != nil {
		span.RecordError(err)
		return nil, storeError(op, err)
	}
	return v.(*AuthorityMatrix).clone(), nil
}

func (a *Aggregator) load(ctx context.Context, roleIDs []RoleID, modules []string, skipMissing bool) (*AuthorityMatrix, error) {
	var roles []Role
	if len(roleIDs) == 0 {
		all, err := a.backend.ListRoles(ctx)
		if err != nil {
			return nil, err
		}
		roles = all
	} else {
		for _, id := range roleIDs {
			role, err := a.backend.GetRole(ctx, id)
			if err != nil {
				if skipMissing && KindOf(err) == KindNotFound {
					continue
				}
				return nil, err
			}
			roles = append(roles, *role)
		}
	}

	resources, err := a.backend.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		modules = modulesOf(resources)
	}

	grants := make(map[RoleID][]PermissionGrant, len(roles))
	for _, role := range roles {
		rows, err := a.backend.ListGrants(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		grants[role.ID] = rows
	}

	m := BuildAuthorityMatrix(roles, resources, grants, modules)
	m.GeneratedAt = a.opts.now()
	return m, nil
}

// CreatePreset saves a role and module selection for owner
func (a *Aggregator) CreatePreset(ctx context.Context, owner, name string, roleIDs []RoleID, modules []string) (*Preset, error) {
	const op = "rbac.CreatePreset"

	owner = strings.TrimSpace(owner)
	name = strings.TrimSpace(name)
	roleIDs = normalizeRoleIDs(roleIDs)
	if owner == "" || name == "" || len(roleIDs) == 0 {
		return nil, a.opts.fail(op, newError(KindInvalid, op))
	}

	preset := &Preset{
		ID:        uuid.NewString(),
		Owner:     owner,
		Name:      name,
		RoleIDs:   roleIDs,
		Modules:   normalizeModules(modules),
		CreatedAt: a.opts.now(),
	}
	err := a.backend.WithTx(ctx, func(tx Repository) error {
		for _, id := range roleIDs {
			if _, err := tx.GetRole(ctx, id); err != nil {
				return err
			}
		}
		return tx.InsertPreset(ctx, preset)
	})
	if err != nil {
		return nil, a.opts.fail(op, err)
	}

	a.opts.metrics.RecordMutation(op, "")
	a.opts.logger.WithFields(logrus.Fields{
		"preset_id": preset.ID,
		"owner":     owner,
	}).Info("analytics preset created")
	return preset, nil
}

// GetPreset returns a preset by ID
func (a *Aggregator) GetPreset(ctx context.Context, id string) (*Preset, error) {
	p, err := a.backend.GetPreset(ctx, id)
	if err != nil {
		return nil, storeError("rbac.GetPreset", err)
	}
	return p, nil
}

// ListPresets returns the presets of owner, or all presets when owner is empty
func (a *Aggregator) ListPresets(ctx context.Context, owner string) ([]Preset, error) {
	presets, err := a.backend.ListPresets(ctx, owner)
	if err != nil {
		return nil, storeError("rbac.ListPresets", err)
	}
	return presets, nil
}

// ApplyPreset computes the matrix for a saved selection. Roles deleted since
// the preset was saved are skipped.
func (a *Aggregator) ApplyPreset(ctx context.Context, id string) (*AuthorityMatrix, error) {
	p, err := a.GetPreset(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.compute(ctx, p.RoleIDs, p.Modules, true)
}

// DeletePreset removes a preset
func (a *Aggregator) DeletePreset(ctx context.Context, id string) error {
	const op = "rbac.DeletePreset"
	if err := a.backend.DeletePreset(ctx, id); err != nil {
		return a.opts.fail(op, err)
	}
	a.opts.metrics.RecordMutation(op, "")
	return nil
}

func (m *AuthorityMatrix) clone() *AuthorityMatrix {
	out := &AuthorityMatrix{
		Modules:     make(map[string]map[string]int, len(m.Modules)),
		GeneratedAt: m.GeneratedAt,
	}
	for module, row := range m.Modules {
		cp := make(map[string]int, len(row))
		for name, score := range row {
			cp[name] = score
		}
		out.Modules[module] = cp
	}
	return out
}

func analyticsKey(roleIDs []RoleID, modules []string, skipMissing bool) string {
	ids := make([]string, len(roleIDs))
	for i, id := range roleIDs {
		ids[i] = string(id)
	}
	key := strings.Join(ids, ",") + "|" + strings.Join(modules, ",")
	if skipMissing {
		key += "|preset"
	}
	return key
}

func normalizeModules(modules []string) []string {
	seen := make(map[string]struct{}, len(modules))
	out := make([]string, 0, len(modules))
	for _, m := range modules {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func modulesOf(resources []Resource) []string {
	modules := make([]string, 0, len(resources))
	for _, res := range resources {
		modules = append(modules, res.Module)
	}
	return normalizeModules(modules)
}
