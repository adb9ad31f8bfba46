package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/migration"
)

// =============================================================================
// 🗄️ Database Migration Commands
// =============================================================================

// runMigrate handles `agentmesh migrate <subcommand> [args]`
func runMigrate(args []string) error {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		if len(args) < 1 {
			return errors.New("missing migrate subcommand")
		}
		return nil
	}

	subcommand := args[0]
	fs := flag.NewFlagSet("migrate "+subcommand, flag.ExitOnError)
	configPath := configFlag(fs)
	_ = fs.Parse(args[1:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log, "migrate")
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	migrator, err := migration.NewMigratorFromConfig(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Warn("migrator close failed", zap.Error(err))
		}
	}()

	err = migration.NewCLI(migrator).Dispatch(ctx, subcommand, fs.Args())
	if errors.Is(err, migration.ErrUnknownCommand) {
		printMigrateUsage()
	}
	return err
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Fprintln(os.Stderr, `Database Migration Commands

Usage:
  agentmesh migrate <subcommand> [--config <path>] [args]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  reset       Rollback all migrations
  status      Show migration status
  version     Show current migration version
  info        Show migration summary
  steps <n>   Apply (n > 0) or roll back (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (fix dirty state)

Examples:
  agentmesh migrate up
  agentmesh migrate status --config mesh.yaml
  agentmesh migrate goto 1`)
}
