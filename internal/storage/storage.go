// Package storage defines persistence for repository knowledge snapshots.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kaiseki/kaiseki/internal/models"
)

// ErrNotFound is returned when no snapshot exists for a fingerprint.
var ErrNotFound = errors.New("snapshot not found")

// SnapshotRecord is the serialized form of one repository's knowledge
// snapshot. VectorData holds the binary-marshaled vector index. Records for
// different fingerprints never reference each other.
type SnapshotRecord struct {
	Fingerprint  string                `json:"fingerprint"`
	State        models.IndexState     `json:"state"`
	Files        []*models.FileRecord  `json:"files"`
	Tree         *models.HierarchyNode `json:"tree"`
	Dependencies []models.Dependency   `json:"dependencies"`
	Chunks       []*models.Chunk       `json:"chunks"`
	Languages    map[string]int        `json:"languages"`
	Warnings     []string              `json:"warnings,omitempty"`
	VectorData   []byte                `json:"-"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Store defines snapshot persistence operations.
type Store interface {
	// SaveSnapshot inserts or replaces the record for its fingerprint.
	SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error
	// GetSnapshot returns the record for fingerprint, or ErrNotFound.
	GetSnapshot(ctx context.Context, fingerprint string) (*SnapshotRecord, error)
	// DeleteSnapshot removes the record for fingerprint. Missing records are not an error.
	DeleteSnapshot(ctx context.Context, fingerprint string) error
	// ListFingerprints returns all stored fingerprints.
	ListFingerprints(ctx context.Context) ([]string, error)
	// CountSnapshots returns the number of stored snapshots.
	CountSnapshots(ctx context.Context) (int64, error)

	Close() error
}
