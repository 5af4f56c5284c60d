// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

// Package storage persists destination policies, per-IP attempt state and
// access logs in SQLite. The driver is pure Go (modernc.org/sqlite) so the
// gateway cross-compiles without cgo.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tomtom215/veilgate/internal/logging"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store wraps the SQLite connection and provides data access methods.
type Store struct {
	conn *sql.DB
}

// New opens (or creates) the database at path and initializes the schema.
// ":memory:" opens an in-memory database, used by tests.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The modernc driver serializes writes per connection; a single
	// connection avoids SQLITE_BUSY between the writer goroutines.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logging.Info().Str("path", path).Msg("Storage initialized")
	return s, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.conn.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS destinations (
	id                TEXT PRIMARY KEY,
	slug              TEXT NOT NULL UNIQUE,
	offer_url         TEXT NOT NULL,
	safe_page_url     TEXT NOT NULL DEFAULT '',
	param_hash        TEXT NOT NULL DEFAULT '',
	param_code        TEXT NOT NULL DEFAULT '',
	param_ttl         INTEGER NOT NULL DEFAULT 0,
	max_clicks        INTEGER NOT NULL DEFAULT 0,
	clicks            INTEGER NOT NULL DEFAULT 0,
	blocked           INTEGER NOT NULL DEFAULT 0,
	allowed_hours     TEXT NOT NULL DEFAULT '',
	allowed_countries TEXT NOT NULL DEFAULT '[]',
	blocked_countries TEXT NOT NULL DEFAULT '[]',
	blocked_ips       TEXT NOT NULL DEFAULT '[]',
	blocked_isps      TEXT NOT NULL DEFAULT '[]',
	mobile_only       INTEGER NOT NULL DEFAULT 0,
	ads_only          INTEGER NOT NULL DEFAULT 0,
	bot_protection    INTEGER NOT NULL DEFAULT 1,
	active            INTEGER NOT NULL DEFAULT 1,
	cloaking_active   INTEGER NOT NULL DEFAULT 1,
	created_at        TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS seen_ips (
	key            TEXT PRIMARY KEY,
	destination_id TEXT NOT NULL,
	ip             TEXT NOT NULL,
	attempts       INTEGER NOT NULL DEFAULT 0,
	first_seen     TIMESTAMP NOT NULL,
	last_seen      TIMESTAMP NOT NULL,
	blocked_at     TIMESTAMP,
	user_agent     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS access_logs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp      TIMESTAMP NOT NULL,
	destination_id TEXT NOT NULL,
	slug           TEXT NOT NULL,
	ip             TEXT NOT NULL,
	country        TEXT NOT NULL DEFAULT '',
	country_code   TEXT NOT NULL DEFAULT '',
	region         TEXT NOT NULL DEFAULT '',
	region_name    TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	isp            TEXT NOT NULL DEFAULT '',
	user_agent     TEXT NOT NULL DEFAULT '',
	referer        TEXT NOT NULL DEFAULT '',
	allowed        INTEGER NOT NULL,
	reason         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_access_logs_destination ON access_logs(destination_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_seen_ips_last_seen ON seen_ips(last_seen);
`

// Ping verifies the database answers, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Conn exposes the underlying connection for tests and maintenance tasks.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// PurgeAccessLogs deletes log rows older than the retention window and
// returns the number removed.
func (s *Store) PurgeAccessLogs(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.conn.Exec(`DELETE FROM access_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge access logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
