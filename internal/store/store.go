// Package store is the relational persistence layer of spec section 6:
// a five-table schema (traffic_detections as anchor, radar_detections,
// camera_detections, weather_conditions, traffic_weather_correlation)
// backed by an embedded SQLite database.
//
// Grounded on the teacher's internal/db.DB wrapper: same *sql.DB
// embedding, same embed.FS migrations + applyPragmas shape, same
// golang-migrate-backed MigrateUp/MigrateDown/MigrateVersion surface
// (internal/store/migrate.go). The teacher's elaborate legacy-database
// schema-detection path (DetectSchemaVersion/CompareSchemas, for
// baselining a pre-existing database with no schema_migrations table
// against whichever historical migration version it happens to match)
// is dropped: this schema has no legacy deployments to reconcile with,
// only Open's two straightforward cases (fresh database: run
// schema.sql and baseline; existing database: check and apply pending
// migrations) survive.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "modernc.org/sqlite"

	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
)

//go:embed schema.sql
var schemaSQL string

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the relational store.
type DB struct {
	*sql.DB
	log telemetry.Logger
}

func migrations() (fs.FS, error) {
	return fs.Sub(migrationsFS, "migrations")
}

// Migrations exposes the embedded migration set for cmd/migrate, which
// needs an fs.FS to pass to MigrateUp/MigrateDown/MigrateVersion outside
// of Open's own automatic migration path.
func Migrations() (fs.FS, error) {
	return migrations()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return nil
}

// Open opens (creating if necessary) the SQLite database at path,
// applies pragmas, and brings the schema to the latest version.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db := &DB{DB: sqlDB, log: telemetry.For("store")}

	if err := applyPragmas(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	migFS, err := migrations()
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	var hasMigrationsTable bool
	err = sqlDB.QueryRow(`
		SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'
	`).Scan(&hasMigrationsTable)
	if err != nil {
		return nil, fmt.Errorf("failed to check for schema_migrations table: %w", err)
	}

	if hasMigrationsTable {
		if err := db.MigrateUp(migFS); err != nil {
			return nil, fmt.Errorf("failed to apply pending migrations: %w", err)
		}
		return db, nil
	}

	var tableCount int
	err = sqlDB.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
	`).Scan(&tableCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count existing tables: %w", err)
	}
	if tableCount > 0 {
		return nil, fmt.Errorf("database at %q has tables but no schema_migrations entry; refusing to guess its schema version", path)
	}

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	db.log.Info().Str("path", path).Msg("initialized fresh database from schema.sql")

	latest, err := latestMigrationVersion(migFS)
	if err != nil {
		return nil, fmt.Errorf("failed to determine latest migration version: %w", err)
	}
	if err := db.baselineAtVersion(latest); err != nil {
		return nil, fmt.Errorf("failed to baseline fresh database at version %d: %w", latest, err)
	}

	return db, nil
}

// Vacuum runs the store's native compaction, per spec section 4.9's
// weekly "store compaction" maintenance loop.
func (db *DB) Vacuum() error {
	if _, err := db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	if _, err := db.Exec("ANALYZE"); err != nil {
		return fmt.Errorf("analyze failed: %w", err)
	}
	return nil
}

// Reachable reports whether the store can serve a trivial query, for
// the API's /health check.
func (db *DB) Reachable() bool {
	return db.Ping() == nil
}
