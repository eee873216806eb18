// Package sqlite provides a single-file SQLite store implementing the same
// contracts as the PostgreSQL store, for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a SQLite-backed store. All statements share one connection, so
// every transaction runs alone and conditional updates are atomic.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "sqlite_store").Logger(),
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("sqlite database initialized")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS access_grants (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK (kind IN ('trial', 'demo', 'purchase')),
			code TEXT NOT NULL UNIQUE,
			owner_user_id TEXT NOT NULL,
			organization_id TEXT,
			audience TEXT NOT NULL CHECK (audience IN ('B2C', 'B2B', 'B2E')),
			max_seats INTEGER NOT NULL CHECK (max_seats >= 1),
			used_seats INTEGER NOT NULL DEFAULT 0,
			claimed_seats INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'expired')),
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			promo_tag TEXT,
			payment_ref TEXT UNIQUE,
			package_ref TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			CHECK (used_seats >= 0 AND used_seats <= claimed_seats AND claimed_seats <= max_seats)
		);

		CREATE INDEX IF NOT EXISTS idx_access_grants_owner ON access_grants(owner_user_id);
		CREATE INDEX IF NOT EXISTS idx_access_grants_status_end ON access_grants(status, end_date);

		CREATE TABLE IF NOT EXISTS grant_redemptions (
			grant_id TEXT NOT NULL REFERENCES access_grants(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'started' CHECK (state IN ('started', 'seat_consumed')),
			started_at TEXT NOT NULL,
			completed_at TEXT,
			PRIMARY KEY (grant_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_grant_redemptions_user ON grant_redemptions(user_id, started_at);

		CREATE TABLE IF NOT EXISTS progress_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			level_number INTEGER NOT NULL CHECK (level_number BETWEEN 1 AND 3),
			grant_id TEXT,
			cards TEXT NOT NULL DEFAULT '[]',
			total_score INTEGER NOT NULL DEFAULT 0,
			max_score INTEGER NOT NULL DEFAULT 0,
			correct_answers INTEGER NOT NULL DEFAULT 0,
			total_questions INTEGER NOT NULL DEFAULT 0,
			percentage_score REAL NOT NULL DEFAULT 0,
			risk_level TEXT NOT NULL,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (user_id, level_number)
		);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("close sqlite database")
		return
	}
	s.logger.Info().Msg("sqlite database closed")
}

// Health returns connection statistics.
func (s *Store) Health() map[string]any {
	stats := s.db.Stats()
	return map[string]any{
		"driver":           "sqlite",
		"path":             s.path,
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"wait_count":       stats.WaitCount,
		"wait_duration":    stats.WaitDuration.String(),
	}
}

// execTx runs fn in a transaction. fn must only use tx: the pool has a
// single connection and tx holds it.
func (s *Store) execTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// uniqueViolation reports whether err is a UNIQUE failure on table.column.
func uniqueViolation(err error, column string) bool {
	var sqlErr *sqlite3.Error
	if !errors.As(err, &sqlErr) || sqlErr.Code() != sqlite3lib.SQLITE_CONSTRAINT_UNIQUE {
		return false
	}
	return strings.Contains(sqlErr.Error(), column)
}

type rowScanner interface {
	Scan(dest ...any) error
}
