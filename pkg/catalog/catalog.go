package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

// Catalog is the parsed catalog document
type Catalog struct {
	Resources   []ResourceSpec   `yaml:"resources"`
	SystemRoles []SystemRoleSpec `yaml:"system_roles"`
}

// ResourceSpec describes one protectable resource
type ResourceSpec struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Module string `yaml:"module"`
	Route  string `yaml:"route"`
}

// SystemRoleSpec describes a system role and its minimum grants
type SystemRoleSpec struct {
	Name     string        `yaml:"name"`
	Level    int           `yaml:"level"`
	RoleType string        `yaml:"role_type"`
	Status   string        `yaml:"status"`
	Defaults []DefaultSpec `yaml:"defaults"`
}

// DefaultSpec is one default grant. Resource may be "*" to cover every resource.
type DefaultSpec struct {
	Resource string `yaml:"resource"`
	View     bool   `yaml:"view"`
	Edit     bool   `yaml:"edit"`
	Delete   bool   `yaml:"delete"`
	Scope    string `yaml:"scope"`
}

// LoadFile reads and parses a catalog file
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document. Unknown keys are rejected.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks identifiers, levels and grant references
func (c *Catalog) Validate() error {
	resources := make(map[string]struct{}, len(c.Resources))
	for i, r := range c.Resources {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("resource %d: id is required", i)
		}
		if r.ID == string(rbac.AnyResource) {
			return fmt.Errorf("resource %d: id %q is reserved", i, r.ID)
		}
		if strings.TrimSpace(r.Module) == "" {
			return fmt.Errorf("resource %s: module is required", r.ID)
		}
		if _, dup := resources[r.ID]; dup {
			return fmt.Errorf("resource %s: duplicate id", r.ID)
		}
		resources[r.ID] = struct{}{}
	}

	roles := make(map[string]struct{}, len(c.SystemRoles))
	for i, role := range c.SystemRoles {
		name := strings.TrimSpace(role.Name)
		if name == "" {
			return fmt.Errorf("system role %d: name is required", i)
		}
		if _, dup := roles[name]; dup {
			return fmt.Errorf("system role %s: duplicate name", name)
		}
		roles[name] = struct{}{}

		if err := rbac.ValidateHierarchyLevel(role.Level); err != nil {
			return fmt.Errorf("system role %s: %w", name, err)
		}
		if role.RoleType != "" && !rbac.RoleType(role.RoleType).Valid() {
			return fmt.Errorf("system role %s: invalid role type %q", name, role.RoleType)
		}
		if role.Status != "" && !rbac.RoleStatus(role.Status).Valid() {
			return fmt.Errorf("system role %s: invalid status %q", name, role.Status)
		}

		seen := make(map[string]struct{}, len(role.Defaults))
		for _, d := range role.Defaults {
			if d.Resource != string(rbac.AnyResource) {
				if _, ok := resources[d.Resource]; !ok {
					return fmt.Errorf("system role %s: default references unknown resource %q", name, d.Resource)
				}
			}
			if _, dup := seen[d.Resource]; dup {
				return fmt.Errorf("system role %s: duplicate default for %q", name, d.Resource)
			}
			seen[d.Resource] = struct{}{}
			if d.Scope != "" && !rbac.DataScope(d.Scope).Valid() {
				return fmt.Errorf("system role %s: invalid scope %q", name, d.Scope)
			}
		}
	}
	return nil
}

// Role converts the catalog entry into a system role template
func (s SystemRoleSpec) Role() rbac.Role {
	return rbac.Role{
		Name:           strings.TrimSpace(s.Name),
		HierarchyLevel: s.Level,
		RoleType:       rbac.RoleType(s.RoleType),
		Status:         rbac.RoleStatus(s.Status),
		IsSystemRole:   true,
	}
}

// Grants converts the defaults into grants keyed by resource
func (s SystemRoleSpec) Grants() map[rbac.ResourceID]rbac.PermissionGrant {
	out := make(map[rbac.ResourceID]rbac.PermissionGrant, len(s.Defaults))
	for _, d := range s.Defaults {
		id := rbac.ResourceID(d.Resource)
		scope := rbac.DataScope(d.Scope)
		if scope == "" {
			scope = rbac.ScopeSelf
		}
		out[id] = rbac.PermissionGrant{
			ResourceID: id,
			CanView:    d.View,
			CanEdit:    d.Edit,
			CanDelete:  d.Delete,
			DataScope:  scope,
		}
	}
	return out
}

// Resource converts the catalog entry into an engine resource
func (r ResourceSpec) Resource() rbac.Resource {
	name := r.Name
	if name == "" {
		name = r.ID
	}
	return rbac.Resource{
		ID:     rbac.ResourceID(r.ID),
		Name:   name,
		Module: r.Module,
		Route:  r.Route,
	}
}
