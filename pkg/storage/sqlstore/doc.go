// Package sqlstore implements rbac.Backend on database/sql.
//
// Two dialects are supported: PostgreSQL (lib/pq) for production and SQLite
// (mattn/go-sqlite3) for tests and single-node installs. Both share one set of
// queries using $n placeholders; the Postgres dialect additionally locks the
// role row with SELECT ... FOR UPDATE inside transactions so concurrent matrix
// writes on one role serialize.
//
// # Schema
//
// The schema is managed with goose from the embedded migrations directory:
//
//	roles                   role definitions, unique (tenant_id, name)
//	resources               protectable pages and modules
//	permission_grants       sparse matrix keyed by (role_id, resource_id)
//	principal_roles         role assignments
//	principal_managers      reporting lines
//	role_analytics_presets  saved authority-matrix selections
//	rbac_audit_log          audit trail written by audit.DBLogger
//
// # Usage
//
//	cm, err := sqlstore.NewConnectionManager(ctx, sqlstore.ConnectionConfig{
//		Dialect:    sqlstore.DialectPostgres,
//		PrimaryURL: "postgres://localhost/backstage?sslmode=disable",
//	}, logger)
//	if err := sqlstore.Migrate(ctx, cm.Primary(), sqlstore.DialectPostgres); err != nil { ... }
//	store := sqlstore.NewStore(cm.Primary(), sqlstore.DialectPostgres, "tenant-1")
//
// Every store is bound to one tenant; all queries filter on tenant_id.
package sqlstore
