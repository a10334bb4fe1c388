package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/backstage/pkg/rbac"
)

var tracer = otel.Tracer("backstage/sqlstore")

// Recorder receives per-query timings. observability.Metrics implements it.
type Recorder interface {
	RecordStorageOperation(operation, backend string, duration time.Duration, err error)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Option configures a Store
type Option func(*Store)

// WithRecorder reports query timings to r
func WithRecorder(r Recorder) Option {
	return func(s *Store) {
		s.recorder = r
	}
}

// Store is a tenant-scoped rbac.Backend over a SQL database
type Store struct {
	repo
	db *sql.DB
}

var _ rbac.Backend = (*Store)(nil)

// NewStore creates a store for tenantID. The schema must already be migrated.
func NewStore(db *sql.DB, dialect Dialect, tenantID string, opts ...Option) *Store {
	s := &Store{db: db}
	s.repo = repo{q: db, dialect: dialect, tenantID: tenantID}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a database transaction
func (s *Store) WithTx(ctx context.Context, fn func(tx rbac.Repository) error) (err error) {
	ctx, span := tracer.Start(ctx, "sqlstore.WithTx")
	defer span.End()
	defer s.observe("tx", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				span.RecordError(rbErr)
			}
		}
	}()

	if err = fn(&repo{q: tx, dialect: s.dialect, tenantID: s.tenantID, recorder: s.recorder, inTx: true}); err != nil {
		span.SetAttributes(attribute.String("rbac.kind", string(rbac.KindOf(err))))
		return err
	}
	if err = tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// repo implements rbac.Repository on a *sql.DB or *sql.Tx
type repo struct {
	q        querier
	dialect  Dialect
	tenantID string
	recorder Recorder
	inTx     bool
}

func (r *repo) observe(op string, start time.Time, err *error) {
	if r.recorder == nil {
		return
	}
	var e error
	if err != nil {
		e = *err
		if rbac.KindOf(e) == rbac.KindNotFound {
			e = nil
		}
	}
	r.recorder.RecordStorageOperation(op, string(r.dialect), time.Since(start), e)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const roleColumns = `id, tenant_id, name, hierarchy_level, role_type, is_system_role, status, created_at, updated_at`

func scanRole(row scanner) (*rbac.Role, error) {
	var (
		role     rbac.Role
		id       string
		roleType string
		status   string
	)
	err := row.Scan(&id, &role.TenantID, &role.Name, &role.HierarchyLevel, &roleType,
		&role.IsSystemRole, &status, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	role.ID = rbac.RoleID(id)
	role.RoleType = rbac.RoleType(roleType)
	role.Status = rbac.RoleStatus(status)
	role.CreatedAt = role.CreatedAt.UTC()
	role.UpdatedAt = role.UpdatedAt.UTC()
	return &role, nil
}

func (r *repo) GetRole(ctx context.Context, id rbac.RoleID) (_ *rbac.Role, err error) {
	defer r.observe("get_role", time.Now(), &err)

	query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 AND id = $2` + r.dialect.lockSuffix(r.inTx)
	role, err := scanRole(r.q.QueryRowContext(ctx, query, r.tenantID, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.NotFoundError("sqlstore.GetRole", fmt.Errorf("role %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

func (r *repo) GetRoleByName(ctx context.Context, name string) (_ *rbac.Role, err error) {
	defer r.observe("get_role_by_name", time.Now(), &err)

	query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 AND name = $2`
	role, err := scanRole(r.q.QueryRowContext(ctx, query, r.tenantID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.NotFoundError("sqlstore.GetRoleByName", fmt.Errorf("role %q", name))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role by name: %w", err)
	}
	return role, nil
}

func (r *repo) ListRoles(ctx context.Context) (_ []rbac.Role, err error) {
	defer r.observe("list_roles", time.Now(), &err)

	query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 ORDER BY hierarchy_level, name`
	rows, err := r.q.QueryContext(ctx, query, r.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]rbac.Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return roles, nil
}

func (r *repo) InsertRole(ctx context.Context, role *rbac.Role) (err error) {
	defer r.observe("insert_role", time.Now(), &err)

	role.TenantID = r.tenantID
	query := `
		INSERT INTO roles (` + roleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.q.ExecContext(ctx, query,
		string(role.ID), role.TenantID, role.Name, role.HierarchyLevel, string(role.RoleType),
		role.IsSystemRole, string(role.Status), role.CreatedAt, role.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return rbac.DuplicateNameError("sqlstore.InsertRole", err)
		}
		return fmt.Errorf("failed to insert role: %w", err)
	}
	return nil
}

func (r *repo) UpdateRole(ctx context.Context, role *rbac.Role) (err error) {
	defer r.observe("update_role", time.Now(), &err)

	role.TenantID = r.tenantID
	query := `
		UPDATE roles
		SET name = $1, hierarchy_level = $2, role_type = $3, is_system_role = $4, status = $5, updated_at = $6
		WHERE id = $7 AND tenant_id = $8
	`
	result, err := r.q.ExecContext(ctx, query,
		role.Name, role.HierarchyLevel, string(role.RoleType), role.IsSystemRole,
		string(role.Status), role.UpdatedAt, string(role.ID), r.tenantID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return rbac.DuplicateNameError("sqlstore.UpdateRole", err)
		}
		return fmt.Errorf("failed to update role: %w", err)
	}
	return requireAffected(result, "sqlstore.UpdateRole", fmt.Sprintf("role %s", role.ID))
}

// DeleteRole removes grant rows explicitly; SQLite only cascades with the
// foreign_keys pragma enabled.
func (r *repo) DeleteRole(ctx context.Context, id rbac.RoleID) (err error) {
	defer r.observe("delete_role", time.Now(), &err)

	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM permission_grants WHERE tenant_id = $1 AND role_id = $2`,
		r.tenantID, string(id)); err != nil {
		return fmt.Errorf("failed to delete role grants: %w", err)
	}
	result, err := r.q.ExecContext(ctx,
		`DELETE FROM roles WHERE tenant_id = $1 AND id = $2`,
		r.tenantID, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return requireAffected(result, "sqlstore.DeleteRole", fmt.Sprintf("role %s", id))
}

func (r *repo) CountRoleHolders(ctx context.Context, id rbac.RoleID) (_ int, err error) {
	defer r.observe("count_role_holders", time.Now(), &err)

	var count int
	err = r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM principal_roles WHERE tenant_id = $1 AND role_id = $2`,
		r.tenantID, string(id)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count role holders: %w", err)
	}
	return count, nil
}

func (r *repo) AssignRole(ctx context.Context, principalID string, roleID rbac.RoleID) (err error) {
	defer r.observe("assign_role", time.Now(), &err)

	query := `
		INSERT INTO principal_roles (tenant_id, principal_id, role_id, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, principal_id, role_id) DO NOTHING
	`
	_, err = r.q.ExecContext(ctx, query, r.tenantID, principalID, string(roleID), time.Now().UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return rbac.NotFoundError("sqlstore.AssignRole", err)
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

func (r *repo) UnassignRole(ctx context.Context, principalID string, roleID rbac.RoleID) (err error) {
	defer r.observe("unassign_role", time.Now(), &err)

	result, err := r.q.ExecContext(ctx,
		`DELETE FROM principal_roles WHERE tenant_id = $1 AND principal_id = $2 AND role_id = $3`,
		r.tenantID, principalID, string(roleID))
	if err != nil {
		return fmt.Errorf("failed to unassign role: %w", err)
	}
	return requireAffected(result, "sqlstore.UnassignRole", fmt.Sprintf("assignment %s/%s", principalID, roleID))
}

func (r *repo) RolesForPrincipal(ctx context.Context, principalID string) (_ []rbac.RoleID, err error) {
	defer r.observe("roles_for_principal", time.Now(), &err)

	rows, err := r.q.QueryContext(ctx,
		`SELECT role_id FROM principal_roles WHERE tenant_id = $1 AND principal_id = $2 ORDER BY role_id`,
		r.tenantID, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list principal roles: %w", err)
	}
	defer rows.Close()

	ids := make([]rbac.RoleID, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role id: %w", err)
		}
		ids = append(ids, rbac.RoleID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate principal roles: %w", err)
	}
	return ids, nil
}

func scanResource(row scanner) (*rbac.Resource, error) {
	var (
		res rbac.Resource
		id  string
	)
	if err := row.Scan(&id, &res.Name, &res.Module, &res.Route); err != nil {
		return nil, err
	}
	res.ID = rbac.ResourceID(id)
	return &res, nil
}

func (r *repo) GetResource(ctx context.Context, id rbac.ResourceID) (_ *rbac.Resource, err error) {
	defer r.observe("get_resource", time.Now(), &err)

	res, err := scanResource(r.q.QueryRowContext(ctx,
		`SELECT id, name, module, route FROM resources WHERE tenant_id = $1 AND id = $2`,
		r.tenantID, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.NotFoundError("sqlstore.GetResource", fmt.Errorf("resource %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return res, nil
}

func (r *repo) ListResources(ctx context.Context) (_ []rbac.Resource, err error) {
	defer r.observe("list_resources", time.Now(), &err)

	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, module, route FROM resources WHERE tenant_id = $1 ORDER BY module, id`,
		r.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	out := make([]rbac.Resource, 0)
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resources: %w", err)
	}
	return out, nil
}

func (r *repo) UpsertResource(ctx context.Context, res *rbac.Resource) (err error) {
	defer r.observe("upsert_resource", time.Now(), &err)

	query := `
		INSERT INTO resources (tenant_id, id, name, module, route)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET name = excluded.name, module = excluded.module, route = excluded.route
	`
	_, err = r.q.ExecContext(ctx, query, r.tenantID, string(res.ID), res.Name, res.Module, res.Route)
	if err != nil {
		return fmt.Errorf("failed to upsert resource: %w", err)
	}
	return nil
}

const grantColumns = `role_id, resource_id, can_view, can_edit, can_delete, data_scope, updated_at`

func scanGrant(row scanner) (*rbac.PermissionGrant, error) {
	var (
		g          rbac.PermissionGrant
		roleID     string
		resourceID string
		scope      string
	)
	if err := row.Scan(&roleID, &resourceID, &g.CanView, &g.CanEdit, &g.CanDelete, &scope, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.RoleID = rbac.RoleID(roleID)
	g.ResourceID = rbac.ResourceID(resourceID)
	g.DataScope = rbac.DataScope(scope)
	g.UpdatedAt = g.UpdatedAt.UTC()
	return &g, nil
}

func (r *repo) GetGrant(ctx context.Context, roleID rbac.RoleID, resourceID rbac.ResourceID) (_ *rbac.PermissionGrant, err error) {
	defer r.observe("get_grant", time.Now(), &err)

	query := `SELECT ` + grantColumns + ` FROM permission_grants WHERE tenant_id = $1 AND role_id = $2 AND resource_id = $3`
	g, err := scanGrant(r.q.QueryRowContext(ctx, query, r.tenantID, string(roleID), string(resourceID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return g, nil
}

func (r *repo) ListGrants(ctx context.Context, roleID rbac.RoleID) (_ []rbac.PermissionGrant, err error) {
	defer r.observe("list_grants", time.Now(), &err)

	query := `SELECT ` + grantColumns + ` FROM permission_grants WHERE tenant_id = $1 AND role_id = $2 ORDER BY resource_id`
	rows, err := r.q.QueryContext(ctx, query, r.tenantID, string(roleID))
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	out := make([]rbac.PermissionGrant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grants: %w", err)
	}
	return out, nil
}

func (r *repo) UpsertGrant(ctx context.Context, g rbac.PermissionGrant) (err error) {
	defer r.observe("upsert_grant", time.Now(), &err)

	query := `
		INSERT INTO permission_grants (tenant_id, ` + grantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (role_id, resource_id) DO UPDATE
		SET can_view = excluded.can_view,
			can_edit = excluded.can_edit,
			can_delete = excluded.can_delete,
			data_scope = excluded.data_scope,
			updated_at = excluded.updated_at
	`
	_, err = r.q.ExecContext(ctx, query,
		r.tenantID, string(g.RoleID), string(g.ResourceID),
		g.CanView, g.CanEdit, g.CanDelete, string(g.DataScope), g.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return rbac.NotFoundError("sqlstore.UpsertGrant", err)
		}
		return fmt.Errorf("failed to upsert grant: %w", err)
	}
	return nil
}

func (r *repo) GetManager(ctx context.Context, principalID string) (_ string, err error) {
	defer r.observe("get_manager", time.Now(), &err)

	var managerID string
	err = r.q.QueryRowContext(ctx,
		`SELECT manager_id FROM principal_managers WHERE tenant_id = $1 AND principal_id = $2`,
		r.tenantID, principalID).Scan(&managerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get manager: %w", err)
	}
	return managerID, nil
}

func (r *repo) SetManager(ctx context.Context, principalID, managerID string) (err error) {
	defer r.observe("set_manager", time.Now(), &err)

	if managerID == "" {
		_, err = r.q.ExecContext(ctx,
			`DELETE FROM principal_managers WHERE tenant_id = $1 AND principal_id = $2`,
			r.tenantID, principalID)
		if err != nil {
			return fmt.Errorf("failed to clear manager: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO principal_managers (tenant_id, principal_id, manager_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, principal_id) DO UPDATE
		SET manager_id = excluded.manager_id, updated_at = excluded.updated_at
	`
	_, err = r.q.ExecContext(ctx, query, r.tenantID, principalID, managerID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set manager: %w", err)
	}
	return nil
}

func (r *repo) InsertPreset(ctx context.Context, p *rbac.Preset) (err error) {
	defer r.observe("insert_preset", time.Now(), &err)

	roleIDs, err := json.Marshal(p.RoleIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal preset roles: %w", err)
	}
	modules, err := json.Marshal(p.Modules)
	if err != nil {
		return fmt.Errorf("failed to marshal preset modules: %w", err)
	}

	p.TenantID = r.tenantID
	query := `
		INSERT INTO role_analytics_presets (id, tenant_id, owner, name, role_ids, modules, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.q.ExecContext(ctx, query, p.ID, p.TenantID, p.Owner, p.Name, string(roleIDs), string(modules), p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return rbac.DuplicateNameError("sqlstore.InsertPreset", err)
		}
		return fmt.Errorf("failed to insert preset: %w", err)
	}
	return nil
}

const presetColumns = `id, tenant_id, owner, name, role_ids, modules, created_at`

func scanPreset(row scanner) (*rbac.Preset, error) {
	var (
		p       rbac.Preset
		roleIDs string
		modules string
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.Owner, &p.Name, &roleIDs, &modules, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roleIDs), &p.RoleIDs); err != nil {
		return nil, fmt.Errorf("failed to decode preset roles: %w", err)
	}
	if err := json.Unmarshal([]byte(modules), &p.Modules); err != nil {
		return nil, fmt.Errorf("failed to decode preset modules: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (r *repo) GetPreset(ctx context.Context, id string) (_ *rbac.Preset, err error) {
	defer r.observe("get_preset", time.Now(), &err)

	query := `SELECT ` + presetColumns + ` FROM role_analytics_presets WHERE tenant_id = $1 AND id = $2`
	p, err := scanPreset(r.q.QueryRowContext(ctx, query, r.tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.NotFoundError("sqlstore.GetPreset", fmt.Errorf("preset %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preset: %w", err)
	}
	return p, nil
}

func (r *repo) ListPresets(ctx context.Context, owner string) (_ []rbac.Preset, err error) {
	defer r.observe("list_presets", time.Now(), &err)

	query := `SELECT ` + presetColumns + ` FROM role_analytics_presets WHERE tenant_id = $1`
	args := []interface{}{r.tenantID}
	if owner != "" {
		query += ` AND owner = $2`
		args = append(args, owner)
	}
	query += ` ORDER BY name, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	defer rows.Close()

	out := make([]rbac.Preset, 0)
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preset: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate presets: %w", err)
	}
	return out, nil
}

func (r *repo) DeletePreset(ctx context.Context, id string) (err error) {
	defer r.observe("delete_preset", time.Now(), &err)

	result, err := r.q.ExecContext(ctx,
		`DELETE FROM role_analytics_presets WHERE tenant_id = $1 AND id = $2`,
		r.tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete preset: %w", err)
	}
	return requireAffected(result, "sqlstore.DeletePreset", fmt.Sprintf("preset %s", id))
}

func requireAffected(result sql.Result, op, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return rbac.NotFoundError(op, errors.New(what))
	}
	return nil
}
