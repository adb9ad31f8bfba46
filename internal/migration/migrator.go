package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// Embedded Migration Files
// =============================================================================

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

// =============================================================================
// Types and Interfaces
// =============================================================================

// DatabaseType represents the type of database
type DatabaseType string

const (
	// DatabaseTypePostgres represents PostgreSQL database
	DatabaseTypePostgres DatabaseType = "postgres"
	// DatabaseTypeMySQL represents MySQL database
	DatabaseTypeMySQL DatabaseType = "mysql"
	// DatabaseTypeSQLite represents SQLite database
	DatabaseTypeSQLite DatabaseType = "sqlite"
)

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version   uint
	Name      string
	Applied   bool
	AppliedAt *time.Time
	Dirty     bool
}

// MigrationInfo contains information about the current migration state
type MigrationInfo struct {
	CurrentVersion uint
	Dirty          bool
	TotalMigrations int
	AppliedMigrations int
	PendingMigrations int
}

// Config holds the configuration for the migrator
type Config struct {
	// DatabaseType specifies the type of database (postgres, mysql, sqlite)
	DatabaseType DatabaseType

	// TableName is the name of the migrations table (default: schema_migrations)
	TableName string

	// LockTimeout is the timeout for acquiring migration lock
	LockTimeout time.Duration

	// Logger receives golang-migrate progress output (optional)
	Logger *zap.Logger
}

// Migrator defines the interface for database migrations
type Migrator interface {
	// Up applies all pending migrations
	Up(ctx context.Context) error

	// Down rolls back the last migration
	Down(ctx context.Context) error

	// DownAll rolls back all migrations
	DownAll(ctx context.Context) error

	// Steps applies or rolls back n migrations
	// Positive n applies migrations, negative n rolls back
	Steps(ctx context.Context, n int) error

	// Goto migrates to a specific version
	Goto(ctx context.Context, version uint) error

	// Force sets the migration version without running migrations
	Force(ctx context.Context, version int) error

	// Version returns the current migration version
	Version(ctx context.Context) (uint, bool, error)

	// Status returns the status of all migrations
	Status(ctx context.Context) ([]MigrationStatus, error)

	// Info returns information about the current migration state
	Info(ctx context.Context) (*MigrationInfo, error)

	// Close closes the migrator and releases resources
	Close() error
}

// =============================================================================
// Default Migrator Implementation
// =============================================================================

// DefaultMigrator implements the Migrator interface using golang-migrate
type DefaultMigrator struct {
	config   *Config
	migrate  *migrate.Migrate
	db       *sql.DB
	conn     *sql.Conn
	source   source.Driver
	dbDriver database.Driver

	// ownsDB is true when Close should also close db.
	ownsDB bool
}

// NewMigrator creates a migrator over an existing connection pool. The pool
// stays open after Close, so the registry can keep using it.
func NewMigrator(ctx context.Context, db *sql.DB, cfg *Config) (*DefaultMigrator, error) {
	return newMigrator(ctx, db, cfg, false)
}

func newMigrator(ctx context.Context, db *sql.DB, cfg *Config, ownsDB bool) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	if db == nil {
		return nil, errors.New("database handle is required")
	}

	if cfg.TableName == "" {
		cfg.TableName = "schema_migrations"
	}

	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}

	m := &DefaultMigrator{
		config: cfg,
		db:     db,
		ownsDB: ownsDB,
	}

	if err := m.init(ctx); err != nil {
		if m.conn != nil {
			_ = m.conn.Close()
		}
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}

	return m, nil
}

// init initializes the migrator
func (m *DefaultMigrator) init(ctx context.Context) error {
	var err error

	if err = m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Create database driver
	m.dbDriver, err = m.createDatabaseDriver(ctx)
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create source driver
	m.source, err = m.createSourceDriver()
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	// Create migrate instance
	m.migrate, err = migrate.NewWithInstance("iofs", m.source, m.driverName(), m.dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.migrate.LockTimeout = m.config.LockTimeout
	if m.config.Logger != nil {
		m.migrate.Log = &migrateLogger{logger: m.config.Logger.With(zap.String("component", "migrate")).Sugar()}
	}

	return nil
}

func (m *DefaultMigrator) driverName() string {
	if m.config.DatabaseType == DatabaseTypeSQLite {
		return "sqlite3"
	}
	return string(m.config.DatabaseType)
}

// createDatabaseDriver creates a database driver for golang-migrate. A shared
// pool is handed over as a dedicated *sql.Conn where the driver supports it,
// so closing the driver never closes the caller's pool.
func (m *DefaultMigrator) createDatabaseDriver(ctx context.Context) (database.Driver, error) {
	switch m.config.DatabaseType {
	case DatabaseTypePostgres:
		pgCfg := &postgres.Config{MigrationsTable: m.config.TableName}
		if m.ownsDB {
			return postgres.WithInstance(m.db, pgCfg)
		}
		conn, err := m.db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		m.conn = conn
		return postgres.WithConnection(ctx, conn, pgCfg)
	case DatabaseTypeMySQL:
		myCfg := &mysql.Config{MigrationsTable: m.config.TableName}
		if m.ownsDB {
			return mysql.WithInstance(m.db, myCfg)
		}
		conn, err := m.db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		m.conn = conn
		return mysql.WithConnection(ctx, conn, myCfg)
	case DatabaseTypeSQLite:
		return sqlite3.WithInstance(m.db, &sqlite3.Config{
			MigrationsTable: m.config.TableName,
		})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", m.config.DatabaseType)
	}
}

// createSourceDriver creates a source driver for migration files
func (m *DefaultMigrator) createSourceDriver() (source.Driver, error) {
	fsys, dir, err := migrationsFS(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}
	return iofs.New(fsys, dir)
}

func migrationsFS(dbType DatabaseType) (fs.FS, string, error) {
	switch dbType {
	case DatabaseTypePostgres:
		return postgresFS, "migrations/postgres", nil
	case DatabaseTypeMySQL:
		return mysqlFS, "migrations/mysql", nil
	case DatabaseTypeSQLite:
		return sqliteFS, "migrations/sqlite", nil
	default:
		return nil, "", fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// Up applies all pending migrations
func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down rolls back the last migration
func (m *DefaultMigrator) Down(ctx context.Context) error {
	if err := m.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// DownAll rolls back all migrations
func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down all failed: %w", err)
	}
	return nil
}

// Steps applies or rolls back n migrations
func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	if err := m.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

// Goto migrates to a specific version
func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	if err := m.migrate.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration goto failed: %w", err)
	}
	return nil
}

// Force sets the migration version without running migrations
func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version returns the current migration version
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status returns the status of all migrations
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	// Get current version
	currentVersion, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	// Get all available migrations
	migrations, err := m.getAvailableMigrations()
	if err != nil {
		return nil, err
	}

	// Build status list
	var statuses []MigrationStatus
	for _, mig := range migrations {
		status := MigrationStatus{
			Version: mig.version,
			Name:    mig.name,
			Applied: mig.version <= currentVersion,
			Dirty:   dirty && mig.version == currentVersion,
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}

// Info returns information about the current migration state
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	currentVersion, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	migrations, err := m.getAvailableMigrations()
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, mig := range migrations {
		if mig.version <= currentVersion {
			applied++
		}
	}

	return &MigrationInfo{
		CurrentVersion:    currentVersion,
		Dirty:             dirty,
		TotalMigrations:   len(migrations),
		AppliedMigrations: applied,
		PendingMigrations: len(migrations) - applied,
	}, nil
}

// Close closes the migrator and releases resources
func (m *DefaultMigrator) Close() error {
	var errs []error

	switch {
	case m.migrate == nil:
	case m.ownsDB || m.conn != nil:
		// Owned pools and dedicated connections are released by the driver.
		sourceErr, dbErr := m.migrate.Close()
		errs = append(errs, sourceErr, dbErr)
	default:
		// The sqlite3 driver closes its *sql.DB; leave the shared pool alone.
		errs = append(errs, m.source.Close())
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}

	return nil
}

// migrationFile represents a migration file
type migrationFile struct {
	version uint
	name    string
}

// getAvailableMigrations returns all available migrations
func (m *DefaultMigrator) getAvailableMigrations() ([]migrationFile, error) {
	fsys, dir, err := migrationsFS(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	seen := make(map[uint]bool)
	var migrations []migrationFile

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		// Parse version from filename (e.g., 000001_init_schema.up.sql)
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}

		version, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			continue
		}

		if seen[uint(version)] {
			continue
		}
		seen[uint(version)] = true

		// Extract migration name
		migName := strings.TrimSuffix(parts[1], ".up.sql")

		migrations = append(migrations, migrationFile{
			version: uint(version),
			name:    migName,
		})
	}

	// Sort by version
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})

	return migrations, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// ParseDatabaseType parses a database type string
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3", "":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// GetMigrationsPath returns the path to migration files for a database type
func GetMigrationsPath(dbType DatabaseType) string {
	return path.Join("migrations", string(dbType))
}

// migrateLogger adapts zap to golang-migrate's Logger interface
type migrateLogger struct {
	logger *zap.SugaredLogger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Infof(strings.TrimRight(format, "\n"), v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}
