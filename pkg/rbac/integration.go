package rbac

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/backstage/pkg/audit"
)

// AdminResource is the resource that guards the admin API
const AdminResource ResourceID = "admin.roles"

// Config holds engine wiring configuration
type Config struct {
	// TenantID is stamped on audit events
	TenantID string

	// AdminResource guards the admin routes. Defaults to AdminResource.
	AdminResource ResourceID

	// AuditLogger receives an event for every admin mutation
	AuditLogger audit.Logger
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		AdminResource: AdminResource,
		AuditLogger:   audit.NoOpLogger{},
	}
}

// Manager wires the engine components over one backend
type Manager struct {
	backend    Backend
	roles      *RoleStore
	matrix     *PermissionMatrix
	resolver   *Resolver
	hierarchy  *HierarchyValidator
	aggregator *Aggregator
	handlers   *Handlers
	middleware *PermissionMiddleware
	config     Config
}

// NewManager creates the components. The aggregator result cache is added to
// the invalidators so analytics never outlive a role or grant write.
func NewManager(backend Backend, config Config, opts ...Option) *Manager {
	if config.AdminResource == "" {
		config.AdminResource = AdminResource
	}
	if config.AuditLogger == nil {
		config.AuditLogger = audit.NoOpLogger{}
	}

	aggregator := NewAggregator(backend, opts...)
	shared := make([]Option, 0, len(opts)+1)
	shared = append(shared, opts...)
	shared = append(shared, WithInvalidator(aggregator))

	m := &Manager{
		backend:    backend,
		roles:      NewRoleStore(backend, shared...),
		matrix:     NewPermissionMatrix(backend, shared...),
		resolver:   NewResolver(backend, shared...),
		hierarchy:  NewHierarchyValidator(backend, shared...),
		aggregator: aggregator,
		config:     config,
	}
	m.middleware = NewPermissionMiddleware(m.resolver, config.AuditLogger, config.TenantID)
	m.handlers = NewHandlers(m, config.AuditLogger)
	return m
}

// Initialize ensures the Super Admin role exists with its default grants
func (m *Manager) Initialize(ctx context.Context) error {
	role, err := m.roles.EnsureSystemRole(ctx, SuperAdminRole())
	if err != nil {
		return fmt.Errorf("failed to ensure super admin role: %w", err)
	}
	if err := m.matrix.SeedDefaults(ctx, role.ID); err != nil {
		return fmt.Errorf("failed to seed super admin grants: %w", err)
	}
	return nil
}

// RegisterRoutes registers the admin API with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// Backend returns the backend the components share
func (m *Manager) Backend() Backend {
	return m.backend
}

// Roles returns the role store
func (m *Manager) Roles() *RoleStore {
	return m.roles
}

// Matrix returns the permission matrix
func (m *Manager) Matrix() *PermissionMatrix {
	return m.matrix
}

// Resolver returns the resolver
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

// Hierarchy returns the hierarchy validator
func (m *Manager) Hierarchy() *HierarchyValidator {
	return m.hierarchy
}

// Aggregator returns the analytics aggregator
func (m *Manager) Aggregator() *Aggregator {
	return m.aggregator
}

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// Require is shorthand for Middleware().Require
func (m *Manager) Require(resourceID ResourceID, action Capability) func(http.Handler) http.Handler {
	return m.middleware.Require(resourceID, action)
}

// Stats summarizes the tenant's role model
type Stats struct {
	Roles         int         `json:"roles"`
	SystemRoles   int         `json:"system_roles"`
	ActiveRoles   int         `json:"active_roles"`
	Resources     int         `json:"resources"`
	Modules       int         `json:"modules"`
	RolesPerLevel map[int]int `json:"roles_per_level"`
}

// GetStats returns counts of roles and resources
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	const op = "rbac.GetStats"

	roles, err := m.backend.ListRoles(ctx)
	if err != nil {
		return nil, storeError(op, err)
	}
	resources, err := m.backend.ListResources(ctx)
	if err != nil {
		return nil, storeError(op, err)
	}

	stats := &Stats{
		Roles:         len(roles),
		Resources:     len(resources),
		Modules:       len(modulesOf(resources)),
		RolesPerLevel: make(map[int]int),
	}
	for _, role := range roles {
		if role.IsSystemRole {
			stats.SystemRoles++
		}
		if role.Status == RoleStatusActive {
			stats.ActiveRoles++
		}
		stats.RolesPerLevel[role.HierarchyLevel]++
	}
	return stats, nil
}
