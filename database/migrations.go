package database

import "fmt"

type migration struct {
	version     int
	description string
	sql         string
}

// migrations contains all database migrations in order
var migrations = []migration{
	{version: 1, description: "Initial schema with hash_registry and image_logs", sql: initialSchema},
	{version: 2, description: "Add perceptual_hash and variants to image_logs", sql: variantsSchema},
}

// ApplyMigrations applies all pending database migrations.
func (d *DB) ApplyMigrations() error {
	if _, err := d.db.Exec(schemaMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		if err := d.runMigration(m); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (d *DB) SchemaVersion() (int, error) {
	var v int
	if err := d.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

func (d *DB) runMigration(m migration) error {
	var exists bool
	err := d.db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", m.version).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	if exists {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (version, description) VALUES (?, ?)", m.version, m.description); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}
