// Package storage provides the SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite in WAL mode. Each snapshot is one
// row: a JSON payload plus the binary vector index.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		fingerprint TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		payload BLOB NOT NULL,
		vectors BLOB,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_updated_at ON snapshots(updated_at);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveSnapshot inserts or replaces the row for rec's fingerprint.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	if rec.Fingerprint == "" {
		return fmt.Errorf("snapshot has empty fingerprint")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (fingerprint, state, payload, vectors, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
		   state = excluded.state,
		   payload = excluded.payload,
		   vectors = excluded.vectors,
		   updated_at = excluded.updated_at`,
		rec.Fingerprint, string(rec.State), payload, rec.VectorData, rec.CreatedAt, time.Now(),
	)
	return err
}

// GetSnapshot returns the record for fingerprint, or ErrNotFound.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, fingerprint string) (*SnapshotRecord, error) {
	var payload []byte
	var vectors []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT payload, vectors FROM snapshots WHERE fingerprint = ?`, fingerprint,
	).Scan(&payload, &vectors)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec SnapshotRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	rec.VectorData = vectors
	return &rec, nil
}

// DeleteSnapshot removes the row for fingerprint if present.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE fingerprint = ?`, fingerprint)
	return err
}

// ListFingerprints returns all stored fingerprints ordered by last update.
func (s *SQLiteStore) ListFingerprints(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint FROM snapshots ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

// CountSnapshots returns the number of stored snapshots.
func (s *SQLiteStore) CountSnapshots(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
