// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database in WAL mode and creates the schema on first use

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS principals (
			principal_id       TEXT PRIMARY KEY,
			type               TEXT NOT NULL,
			pubkey_fingerprint TEXT UNIQUE,
			display_name       TEXT NOT NULL UNIQUE,
			status             TEXT NOT NULL,
			created_at         TEXT NOT NULL,

			CHECK (type IN ('agent', 'client', 'user')),
			CHECK (status IN ('pending', 'approved', 'revoked', 'offline', 'online'))
		);

		CREATE INDEX IF NOT EXISTS idx_principals_status ON principals(status);

		CREATE TABLE IF NOT EXISTS roles (
			principal_id TEXT NOT NULL,
			role         TEXT NOT NULL,
			created_at   TEXT NOT NULL,

			PRIMARY KEY (principal_id, role),
			FOREIGN KEY (principal_id) REFERENCES principals(principal_id) ON DELETE CASCADE,
			CHECK (role IN ('owner', 'admin', 'member'))
		);

		CREATE TABLE IF NOT EXISTS handshakes (
			handshake_id        TEXT PRIMARY KEY,
			session_id          TEXT NOT NULL,
			scheme              TEXT NOT NULL,
			proxy_principal_id  TEXT,
			client_principal_id TEXT,
			level               TEXT NOT NULL,
			outcome             TEXT NOT NULL,
			error               TEXT,
			peer_addr           TEXT,
			started_at          TEXT NOT NULL,
			finished_at         TEXT NOT NULL,

			CHECK (outcome IN ('authorized', 'unauthorized', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_handshakes_started ON handshakes(started_at);
		CREATE INDEX IF NOT EXISTS idx_handshakes_proxy ON handshakes(proxy_principal_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite UNIQUE/PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
