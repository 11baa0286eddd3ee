package database

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// schemaNamePattern keeps tenant schema names to plain identifiers so they
// can be interpolated into DDL safely.
var schemaNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Migrate applies all pending embedded migrations to the default schema.
func (c *Client) Migrate(ctx context.Context) error {
	return c.migrateSchema(ctx, "")
}

// EnsureSchema creates the named tenant schema if needed and applies the
// embedded migrations inside it. Idempotent: re-running against an existing,
// fully migrated schema is a no-op.
func (c *Client) EnsureSchema(ctx context.Context, schema string) error {
	if !schemaNamePattern.MatchString(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	if _, err := c.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return c.migrateSchema(ctx, schema)
}

// migrateSchema runs golang-migrate with the embedded SQL files. A dedicated
// database/sql connection is opened per run: for tenant schemas it carries a
// search_path pointing at the schema, so the migration DDL (which is
// schema-relative) lands in the right place and the schema keeps its own
// schema_migrations table.
func (c *Client) migrateSchema(ctx context.Context, schema string) error {
	dsn := c.dsn
	if schema != "" {
		var err error
		dsn, err = dsnWithSearchPath(dsn, schema)
		if err != nil {
			return err
		}
	}

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping for migration: %w", err)
	}

	driverCfg := &postgres.Config{}
	if schema != "" {
		driverCfg.SchemaName = schema
	}
	driver, err := postgres.WithInstance(db, driverCfg)
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	defer func() { _ = sourceDriver.Close() }()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// dsnWithSearchPath sets the search_path runtime parameter on a pgx DSN,
// handling both URL and keyword/value forms. An existing search_path is
// replaced, not duplicated: pgx resolves duplicate URL params to the first
// occurrence, which would silently keep the old value.
func dsnWithSearchPath(dsn, schema string) (string, error) {
	searchPath := schema + ",public"
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("failed to parse DSN: %w", err)
		}
		q := u.Query()
		q.Set("search_path", searchPath)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	if strings.Contains(dsn, "=") {
		// Keyword/value form: later keys override earlier ones.
		return dsn + " search_path=" + searchPath, nil
	}
	return "", fmt.Errorf("unrecognized DSN format")
}
