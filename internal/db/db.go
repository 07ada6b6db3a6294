package db

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/hpungsan/scribe/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Init opens the index database at baseDir/index.db, creating the data
// directory layout on first use. The index is a projection of the journal
// files; dropping it loses nothing a rebuild cannot restore.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.scribe.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	for _, dir := range []string{config.SessionsDir(baseDir), config.AttachmentsDir(baseDir)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		_ = os.Chmod(dir, 0700)
	}

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := config.DBPath(baseDir)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(database); err != nil {
		database.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(database); err != nil {
		database.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return database, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
// Call after Init if you need to tune pool behavior for contention.
func ConfigurePool(database *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(database *sql.DB) error {
	version, err := GetUserVersion(database)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS conversations (
		  id          TEXT PRIMARY KEY,
		  started_at  TEXT NOT NULL,
		  ended_at    TEXT,
		  working_dir TEXT,
		  summary     TEXT,
		  event_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_started
		ON conversations(started_at DESC);

		CREATE TABLE IF NOT EXISTS events (
		  id              TEXT PRIMARY KEY,
		  conversation_id TEXT NOT NULL,
		  type            TEXT NOT NULL,
		  ts              TEXT NOT NULL,
		  depth           INTEGER NOT NULL DEFAULT 0,
		  payload         TEXT,
		  content         TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_events_conversation
		ON events(conversation_id);

		CREATE INDEX IF NOT EXISTS idx_events_type
		ON events(type);

		CREATE INDEX IF NOT EXISTS idx_events_ts
		ON events(ts DESC);

		CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
		  event_id UNINDEXED,
		  conversation_id UNINDEXED,
		  type UNINDEXED,
		  content,
		  tokenize='porter'
		);

		CREATE TABLE IF NOT EXISTS sync_state (
		  conversation_id TEXT PRIMARY KEY,
		  last_position   INTEGER NOT NULL DEFAULT 0,
		  last_sync       TEXT
		);

		CREATE TABLE IF NOT EXISTS embeddings (
		  event_id   TEXT PRIMARY KEY,
		  embedding  BLOB NOT NULL,
		  model      TEXT NOT NULL,
		  created_at TEXT NOT NULL
		);
		`
		if _, err := database.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(database, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(database *sql.DB) error {
	var journalMode string
	if err := database.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(database *sql.DB) (int, error) {
	var version int
	if err := database.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(database *sql.DB, version int) error {
	_, err := database.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
