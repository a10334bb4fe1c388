// Package cli implements the backstage command.
//
// # Commands
//
// serve: run the permission API
//
//	backstage serve --catalog ./catalog.yaml
//
// On start the catalog (if any) is applied, which also ensures the Super Admin
// role. With BACKSTAGE_CATALOG_WATCH=true the file is re-applied on change, and
// with BACKSTAGE_JOBS_SNAPSHOT_SCHEDULE set the snapshot export runs on cron.
//
// migrate: apply SQL migrations, or print the schema version
//
//	backstage migrate
//	backstage migrate --status
//
// catalog: validate or apply a resource catalog
//
//	backstage catalog validate --file catalog.yaml
//	backstage catalog apply --file catalog.yaml
//
// snapshot: export every saved analytics preset once
//
//	backstage snapshot
//
// # Configuration
//
// Every command reads BACKSTAGE_* environment variables (see package config).
// Without BACKSTAGE_DB_URL the in-memory backend is used, so only serve is
// useful in that mode.
//
// # Related Packages
//
//   - pkg/config: environment loading
//   - pkg/api: HTTP server assembly
//   - pkg/catalog, pkg/jobs, pkg/export: background work started by serve
package cli
