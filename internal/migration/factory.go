package migration

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/internal/database"
)

// NewMigratorFromConfig creates a new migrator from application configuration
func NewMigratorFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return NewMigratorFromDatabaseConfig(ctx, cfg.Database, logger)
}

// NewMigratorFromDatabaseConfig opens a dedicated connection from the database
// configuration. Close releases that connection.
func NewMigratorFromDatabaseConfig(ctx context.Context, dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	dbCfg.Driver = string(dbType)

	gdb, err := database.Open(dbCfg, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	m, err := newMigrator(ctx, sqlDB, &Config{
		DatabaseType: dbType,
		TableName:    "schema_migrations",
		Logger:       logger,
	}, true)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return m, nil
}

// Run applies all pending migrations on an already open registry database and
// leaves the connection pool open.
func Run(ctx context.Context, gdb *gorm.DB, driver string, logger *zap.Logger) error {
	dbType, err := ParseDatabaseType(driver)
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	m, err := NewMigrator(ctx, sqlDB, &Config{DatabaseType: dbType, Logger: logger})
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(ctx); err != nil {
		return err
	}
	if logger != nil {
		version, _, _ := m.Version(ctx)
		logger.Info("Database migrations applied", zap.String("driver", string(dbType)), zap.Uint("version", version))
	}
	return nil
}
