package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/backstage/pkg/config"
	"github.com/platinummonkey/backstage/pkg/observability"
	"github.com/platinummonkey/backstage/pkg/storage/sqlstore"
)

func newMigrateCommand() *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}

	status := cmd.Flags.Bool("status", false, "Print the schema version without migrating")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		logger, err := observability.NewLogger(cfg.Log.Options())
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return runMigrate(context.Background(), cfg, logger, *status, cmd.output())
	}
	return cmd
}

func runMigrate(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, statusOnly bool, out io.Writer) error {
	if cfg.Database.URL == "" {
		return errors.New("no database configured (set BACKSTAGE_DB_URL)")
	}

	connCfg, err := cfg.Database.ConnectionConfig()
	if err != nil {
		return err
	}
	// migrations only touch the primary
	connCfg.ReplicaURLs = nil

	conn, err := sqlstore.NewConnectionManager(ctx, connCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	if !statusOnly {
		if err := sqlstore.Migrate(ctx, conn.Primary(), conn.Dialect()); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	version, err := sqlstore.MigrationVersion(ctx, conn.Primary(), conn.Dialect())
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	fmt.Fprintf(out, "schema version: %d\n", version)
	return nil
}
