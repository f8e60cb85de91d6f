// Package sqlite implements the storage ports on an embedded SQLite database
// for single-node deployments and the factctl CLI. It enforces the same
// one-current-fact-per-slot rule as Postgres through a partial unique index.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/storage"
)

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS facts (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	subject_type TEXT NOT NULL CHECK (subject_type IN ('person', 'organization', 'deal', 'conversation')),
	subject_id   TEXT NOT NULL,
	fact_type    TEXT NOT NULL,
	key          TEXT NOT NULL,
	value        TEXT NOT NULL,
	source_type  TEXT NOT NULL,
	source_id    TEXT,
	source_url   TEXT,
	confidence   REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	valid_from   TEXT NOT NULL,
	valid_until  TEXT,
	created_at   TEXT NOT NULL,
	created_by   TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS facts_one_current_per_slot
	ON facts (subject_type, subject_id, fact_type, key)
	WHERE valid_until IS NULL;

CREATE INDEX IF NOT EXISTS facts_slot_history
	ON facts (subject_type, subject_id, fact_type, key, seq);

CREATE TRIGGER IF NOT EXISTS facts_no_delete
	BEFORE DELETE ON facts
BEGIN
	SELECT RAISE(ABORT, 'facts are append-only');
END;

CREATE TRIGGER IF NOT EXISTS facts_retire_once
	BEFORE UPDATE ON facts
	WHEN OLD.valid_until IS NOT NULL
	  OR NEW.valid_until IS NULL
	  OR NEW.value IS NOT OLD.value
	  OR NEW.source_type IS NOT OLD.source_type
	  OR NEW.confidence IS NOT OLD.confidence
	  OR NEW.valid_from IS NOT OLD.valid_from
BEGIN
	SELECT RAISE(ABORT, 'facts may only be retired once');
END;

CREATE TABLE IF NOT EXISTS people (
	id            TEXT PRIMARY KEY,
	email         TEXT,
	first_name    TEXT NOT NULL DEFAULT '',
	last_name     TEXT NOT NULL DEFAULT '',
	canonical_key TEXT NOT NULL UNIQUE,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS organizations (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	domain        TEXT,
	canonical_key TEXT NOT NULL UNIQUE,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
`

// Store is a SQLite-backed implementation of storage.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close(_ context.Context) {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("sqlite: close database", "error", err)
	}
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure on table.
func isUniqueViolation(err error, table string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+table+".")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlite: corrupt id %q: %w", s, err)
	}
	return id, nil
}

// subjectArgs flattens a subject for query parameters.
func subjectArgs(s model.Subject) (string, string) {
	return string(s.Type), s.ID.String()
}
