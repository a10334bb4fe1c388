// Package config loads process configuration from the environment.
//
// # Overview
//
// Every setting has a default and is read from a BACKSTAGE_ prefixed variable.
// A .env file in the working directory is loaded first when present; values
// already set in the environment are never overridden by it.
//
// # Configuration Structure
//
// Server settings:
//
//	BACKSTAGE_HOST="0.0.0.0"
//	BACKSTAGE_PORT="8080"
//	BACKSTAGE_READ_TIMEOUT="15s"
//	BACKSTAGE_CORS_ORIGINS="https://app.example.com"
//	BACKSTAGE_RATE_LIMIT="100"
//
// Database settings (an empty URL selects the in-memory backend):
//
//	BACKSTAGE_DB_DIALECT="postgres"  # postgres, sqlite
//	BACKSTAGE_DB_URL="postgres://localhost/backstage?sslmode=disable"
//	BACKSTAGE_DB_REPLICA_URLS="postgres://replica1/backstage,postgres://replica2/backstage"
//	BACKSTAGE_DB_MAX_CONNS="20"
//	BACKSTAGE_DB_AUTO_MIGRATE="true"
//
// Cache settings:
//
//	BACKSTAGE_CACHE_ENABLED="true"
//	BACKSTAGE_CACHE_MAX_ENTRIES="10000"
//	BACKSTAGE_CACHE_TTL="5m"
//	BACKSTAGE_REDIS_URL="redis://localhost:6379"  # shared cache when set
//
// Logging and tracing:
//
//	BACKSTAGE_LOG_LEVEL="info"
//	BACKSTAGE_LOG_FORMAT="json"  # json, text
//	BACKSTAGE_LOG_FILE="/var/log/backstage.log"
//	BACKSTAGE_OTEL_ENABLED="false"
//	BACKSTAGE_OTEL_ENDPOINT="localhost:4317"
//
// Catalog, export and jobs:
//
//	BACKSTAGE_CATALOG_PATH="/etc/backstage/catalog.yaml"
//	BACKSTAGE_CATALOG_WATCH="true"
//	BACKSTAGE_EXPORT_S3_BUCKET="backstage-snapshots"
//	BACKSTAGE_JOBS_SNAPSHOT_SCHEDULE="0 3 * * *"
//	BACKSTAGE_TENANT_ID="acme"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// LoadConfig validates cross-field rules before returning, for example that a
// snapshot schedule has an export bucket to write to.
package config
