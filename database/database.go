// Package database provides SQLite persistence for the variation service.
//
// Two tables matter at runtime:
//   - hash_registry: one row per combined fingerprint, UNIQUE on the
//     fingerprint. This is the duplicate-avoidance registry.
//   - image_logs: one row per generate request, tracking its status and the
//     artefacts it produced.
//
// The database uses WAL mode so that request handlers can read while another
// handler writes. Uniqueness is enforced by SQLite constraints only; callers
// never take in-process locks around registry writes.
//
// # Usage Example
//
//	db, err := database.New(database.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	reg := registry.New(db, logger, nil)
//	dup := reg.CheckDuplicate(ctx, sourceHash, seed)
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// DB wraps the SQL database with helper methods for the registry and
// request log.
type DB struct {
	db   *sql.DB
	path string
}

// Config holds database configuration.
type Config struct {
	// Path to the SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a default database configuration.
func DefaultConfig() Config {
	return Config{
		Path:            "/var/lib/xiim/xiim.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 1 * time.Hour,
	}
}

// New opens the database, applies pragmas and runs pending migrations.
//
// Pragmas:
//   - WAL journal for concurrent reads during writes
//   - 5-second busy timeout for lock contention
//   - NORMAL synchronous mode
func New(cfg Config) (*DB, error) {
	// Per-connection pragmas go in the DSN.
	dsn := "file:" + cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -10000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	d := &DB{
		db:   db,
		path: cfg.Path,
	}

	if err := d.ApplyMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping verifies the database connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}
