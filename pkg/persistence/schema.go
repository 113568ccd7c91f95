package persistence

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration
// support.
const CurrentSchemaVersion = 1

// initializeSchema ensures the database schema is at the current version.
// Idempotent and safe to call multiple times.
func initializeSchema(db *sql.DB) error {
	version, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if version == 0 {
		return createSchema(db)
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	return fmt.Errorf("unsupported schema version %d (current is %d)", version, CurrentSchemaVersion)
}

func getSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`,
	).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	if err := db.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE sessions (
			id TEXT PRIMARY KEY,
			process TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT
		)`,
		`CREATE TABLE update_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			path TEXT NOT NULL,
			writer_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			ok INTEGER NOT NULL,
			conflict INTEGER NOT NULL,
			resolved INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
		`CREATE INDEX idx_update_events_created_at ON update_events(created_at)`,
		`CREATE INDEX idx_update_events_path ON update_events(path)`,
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}
