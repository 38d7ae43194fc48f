// Package cursorstore persists stream resume cursors in PostgreSQL or SQLite.
package cursorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type dialect struct {
	schema string
	get    string
	upsert string
}

var dialects = map[string]dialect{
	DriverPostgres: {
		schema: `
			CREATE TABLE IF NOT EXISTS cursors (
				service      TEXT PRIMARY KEY,
				cursor_value BIGINT NOT NULL,
				updated_at   TIMESTAMPTZ NOT NULL
			)`,
		get: `SELECT cursor_value FROM cursors WHERE service = $1`,
		upsert: `
			INSERT INTO cursors (service, cursor_value, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (service) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at`,
	},
	DriverSQLite: {
		schema: `
			CREATE TABLE IF NOT EXISTS cursors (
				service      TEXT PRIMARY KEY,
				cursor_value INTEGER NOT NULL,
				updated_at   DATETIME NOT NULL
			)`,
		get: `SELECT cursor_value FROM cursors WHERE service = ?`,
		upsert: `
			INSERT INTO cursors (service, cursor_value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (service) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at`,
	},
}

// Store keeps one cursor per stream name.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects with the named driver, verifies the connection and creates
// the cursors table if needed. The caller should call Close when done.
func Open(driver, dsn string) (*Store, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("unsupported cursor store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// Each connection to ":memory:" is its own database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s, err := New(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and creates the cursors table if needed.
func New(db *sql.DB, driver string) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported cursor store driver %q", driver)
	}

	s := &Store{db: db, dialect: d}
	if _, err := db.ExecContext(context.Background(), d.schema); err != nil {
		return nil, fmt.Errorf("create cursors table: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetCursor returns the saved cursor for service, or 0 if there is none.
func (s *Store) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx, s.dialect.get, service).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor for %s: %w", service, err)
	}
	return cursor, nil
}

// UpdateCursor upserts the cursor for service.
func (s *Store) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsert, service, cursor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update cursor for %s: %w", service, err)
	}
	return nil
}
