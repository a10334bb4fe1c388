package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/platinummonkey/backstage/pkg/observability"
	"github.com/platinummonkey/backstage/pkg/storage/sqlstore"
)

// Prefix is the environment variable prefix of every setting
const Prefix = "BACKSTAGE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Log           LogConfig
	Observability ObservabilityConfig
	Catalog       CatalogConfig
	Export        ExportConfig
	Jobs          JobsConfig
	Tenant        TenantConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS"`
	RateLimit       int           `envconfig:"RATE_LIMIT" default:"100"`
	RateWindow      time.Duration `envconfig:"RATE_WINDOW" default:"1m"`
	DevMode         bool          `envconfig:"DEV_MODE" default:"false"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig selects and sizes the SQL backend. An empty URL selects the
// in-memory backend.
type DatabaseConfig struct {
	Dialect     string        `envconfig:"DIALECT" default:"postgres"`
	URL         string        `envconfig:"URL"`
	ReplicaURLs string        `envconfig:"REPLICA_URLS"`
	MaxConns    int           `envconfig:"MAX_CONNS" default:"20"`
	MinConns    int           `envconfig:"MIN_CONNS" default:"5"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"5s"`
	MaxLifetime time.Duration `envconfig:"MAX_LIFETIME" default:"30m"`
	MaxIdleTime time.Duration `envconfig:"MAX_IDLE_TIME" default:"5m"`
	AutoMigrate bool          `envconfig:"AUTO_MIGRATE" default:"true"`
}

// ConnectionConfig converts to the sqlstore connection settings
func (d DatabaseConfig) ConnectionConfig() (sqlstore.ConnectionConfig, error) {
	dialect, err := sqlstore.ParseDialect(d.Dialect)
	if err != nil {
		return sqlstore.ConnectionConfig{}, err
	}
	return sqlstore.ConnectionConfig{
		Dialect:     dialect,
		PrimaryURL:  d.URL,
		ReplicaURLs: sqlstore.ParseReplicaURLs(d.ReplicaURLs),
		MaxConns:    d.MaxConns,
		MinConns:    d.MinConns,
		Timeout:     d.Timeout,
		MaxLifetime: d.MaxLifetime,
		MaxIdleTime: d.MaxIdleTime,
	}, nil
}

// RedisConfig configures the shared decision cache. An empty URL disables it.
type RedisConfig struct {
	URL      string `envconfig:"URL"`
	PoolSize int    `envconfig:"POOL_SIZE" default:"10"`
}

// CacheConfig configures decision caching
type CacheConfig struct {
	Enabled    bool          `envconfig:"ENABLED" default:"true"`
	MaxEntries int           `envconfig:"MAX_ENTRIES" default:"10000"`
	TTL        time.Duration `envconfig:"TTL" default:"5m"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level      string `envconfig:"LEVEL" default:"info"`
	Format     string `envconfig:"FORMAT" default:"json"`
	FilePath   string `envconfig:"FILE"`
	MaxSizeMB  int    `envconfig:"MAX_SIZE_MB" default:"100"`
	MaxBackups int    `envconfig:"MAX_BACKUPS" default:"5"`
	MaxAgeDays int    `envconfig:"MAX_AGE_DAYS" default:"28"`
	Compress   bool   `envconfig:"COMPRESS" default:"true"`
}

// Options converts to logger options
func (l LogConfig) Options() observability.LogOptions {
	return observability.LogOptions{
		Level:      l.Level,
		Format:     l.Format,
		FilePath:   l.FilePath,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// ObservabilityConfig holds metrics and OpenTelemetry settings
type ObservabilityConfig struct {
	MetricsEnabled     bool          `envconfig:"METRICS_ENABLED" default:"true"`
	OTelEnabled        bool          `envconfig:"OTEL_ENABLED" default:"false"`
	OTelEndpoint       string        `envconfig:"OTEL_ENDPOINT" default:"localhost:4317"`
	OTelServiceName    string        `envconfig:"OTEL_SERVICE_NAME" default:"backstage"`
	OTelServiceVersion string        `envconfig:"OTEL_SERVICE_VERSION" default:"1.0.0"`
	OTelInsecure       bool          `envconfig:"OTEL_INSECURE" default:"true"`
	OTelSampleRatio    float64       `envconfig:"OTEL_SAMPLE_RATIO" default:"1.0"`
	OTelMetricInterval time.Duration `envconfig:"OTEL_METRIC_INTERVAL" default:"10s"`
}

// OTel converts to the OpenTelemetry settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
		MetricInterval: o.OTelMetricInterval,
	}
}

// CatalogConfig locates the resource catalog file
type CatalogConfig struct {
	Path  string `envconfig:"PATH"`
	Watch bool   `envconfig:"WATCH" default:"false"`
}

// ExportConfig configures authority snapshot export to S3
type ExportConfig struct {
	Bucket         string `envconfig:"S3_BUCKET"`
	Prefix         string `envconfig:"S3_PREFIX" default:"snapshots"`
	Region         string `envconfig:"S3_REGION" default:"us-east-1"`
	Endpoint       string `envconfig:"S3_ENDPOINT"`
	AccessKey      string `envconfig:"S3_ACCESS_KEY"`
	SecretKey      string `envconfig:"S3_SECRET_KEY"`
	ForcePathStyle bool   `envconfig:"S3_FORCE_PATH_STYLE" default:"false"`
}

// Enabled reports whether a bucket is configured
func (e ExportConfig) Enabled() bool {
	return e.Bucket != ""
}

// JobsConfig configures scheduled jobs
type JobsConfig struct {
	SnapshotSchedule string        `envconfig:"SNAPSHOT_SCHEDULE"`
	Timeout          time.Duration `envconfig:"TIMEOUT" default:"10m"`
}

// TenantConfig names the tenant this process serves
type TenantConfig struct {
	ID string `envconfig:"ID" default:"default"`
}

// LoadConfig loads configuration from the environment. A .env file in the
// working directory is read first when present; real environment variables win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return loadFromEnv()
}

func loadFromEnv() (*Config, error) {
	cfg := &Config{}
	sections := []struct {
		prefix string
		target interface{}
	}{
		{Prefix, &cfg.Server},
		{Prefix + "_DB", &cfg.Database},
		{Prefix + "_REDIS", &cfg.Redis},
		{Prefix + "_CACHE", &cfg.Cache},
		{Prefix + "_LOG", &cfg.Log},
		{Prefix, &cfg.Observability},
		{Prefix + "_CATALOG", &cfg.Catalog},
		{Prefix + "_EXPORT", &cfg.Export},
		{Prefix + "_JOBS", &cfg.Jobs},
		{Prefix + "_TENANT", &cfg.Tenant},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return nil, fmt.Errorf("failed to process environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field rules
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	if c.Database.URL != "" {
		if _, err := sqlstore.ParseDialect(c.Database.Dialect); err != nil {
			return err
		}
		if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
			return fmt.Errorf("database min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
		}
	}

	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive when caching is enabled")
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Log.Format)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	if c.Catalog.Watch && c.Catalog.Path == "" {
		return fmt.Errorf("catalog path is required when catalog watching is enabled")
	}

	if c.Jobs.SnapshotSchedule != "" && !c.Export.Enabled() {
		return fmt.Errorf("export bucket is required when a snapshot schedule is set")
	}
	if (c.Export.AccessKey == "") != (c.Export.SecretKey == "") {
		return fmt.Errorf("export access key and secret key must be set together")
	}

	if c.Tenant.ID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	return nil
}
