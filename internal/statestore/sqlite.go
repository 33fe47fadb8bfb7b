package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/QalaTech/speki-sub001/internal/errors"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS decompose_state (
	artifact_id TEXT PRIMARY KEY,
	data        TEXT NOT NULL,
	updated_at  TEXT NOT NULL
)`

// SQLiteStore keeps state records in a single SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, artifactID string) (State, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM decompose_state WHERE artifact_id = ?`, artifactID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("failed to query state for %s: %w", artifactID, err)
	}

	var st State
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return Default(), fmt.Errorf("%w: %s: %v", errors.ErrStateCorrupted, artifactID, err)
	}
	if st.Status == "" {
		st.Status = StatusIdle
	}
	return st, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, artifactID string, st State) error {
	st = stamp(st, s.now())
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decompose_state (artifact_id, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(artifact_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		artifactID, string(data), st.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write state for %s: %w", artifactID, err)
	}
	return nil
}

// List returns the IDs of all artifacts with a record, most recently
// updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT artifact_id FROM decompose_state ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
