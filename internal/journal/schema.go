package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)


// OpenDB opens the journal at dbPath in WAL mode, creating parent
// directories and migrating the schema to the latest version.
func OpenDB(dbPath string) (*sql.DB, error) {
	parentDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating parent directories: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrateSchema(db, dbPath); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func migrateSchema(db *sql.DB, dbPath string) error {
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)

	var currentVersion int
	if err == sql.ErrNoRows {
		currentVersion = 0
	} else if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	} else {
		err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&currentVersion)
		if err == sql.ErrNoRows {
			currentVersion = 0
		} else if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	if currentVersion > len(migrations) {
		return fmt.Errorf(
			"journal schema version %d is newer than this frida-reload supports (max: %d); upgrade frida-reload or delete %s to start fresh",
			currentVersion, len(migrations), dbPath,
		)
	}

	if currentVersion < len(migrations) {
		if err := applyMigrations(db, currentVersion); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
	}

	return nil
}

// migrations[i] moves the schema from version i to i+1. Each step runs in
// its own transaction together with the version bump.
var migrations = []func(tx *sql.Tx) error{
	createTables,
	addDeploySpawned,
}

func applyMigrations(db *sql.DB, fromVersion int) error {
	for v := fromVersion; v < len(migrations); v++ {
		if err := migrateStep(db, v); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", v, v+1, err)
		}
	}
	return nil
}

func migrateStep(db *sql.DB, from int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := migrations[from](tx); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("clearing schema version: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", from+1); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func createTables(tx *sql.Tx) error {
	statements := []struct {
		what string
		sql  string
	}{
		{"schema_version table", `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER NOT NULL
			)`},
		{"runs table", `
			CREATE TABLE IF NOT EXISTS runs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				target TEXT NOT NULL,
				package TEXT,
				device TEXT,
				spawn TEXT,
				entry_point TEXT,
				started_at INTEGER NOT NULL
			)`},
		{"builds table", `
			CREATE TABLE IF NOT EXISTS builds (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				started_at INTEGER NOT NULL,
				duration_ms INTEGER NOT NULL,
				ok INTEGER NOT NULL,
				inputs INTEGER,
				bytes INTEGER,
				warnings INTEGER,
				error TEXT
			)`},
		{"deploys table", `
			CREATE TABLE IF NOT EXISTS deploys (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				at INTEGER NOT NULL,
				pid INTEGER,
				initial INTEGER NOT NULL,
				ok INTEGER NOT NULL,
				error TEXT
			)`},
		{"idx_builds_started", "CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at)"},
		{"idx_deploys_at", "CREATE INDEX IF NOT EXISTS idx_deploys_at ON deploys(at)"},
	}

	for _, st := range statements {
		if _, err := tx.Exec(st.sql); err != nil {
			return fmt.Errorf("creating %s: %w", st.what, err)
		}
	}
	return nil
}

// addDeploySpawned records whether the deployed-to process was started by
// this tool rather than attached to.
func addDeploySpawned(tx *sql.Tx) error {
	if _, err := tx.Exec("ALTER TABLE deploys ADD COLUMN spawned INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding deploys.spawned: %w", err)
	}
	return nil
}
