package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// goose keeps its base FS and dialect in package state
var gooseMu sync.Mutex

func configureGoose(dialect Dialect) error {
	goose.SetBaseFS(embeddedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect.gooseDialect()); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	return nil
}

// Migrate applies all pending migrations
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := configureGoose(dialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the current schema version
func MigrationVersion(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := configureGoose(dialect); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
