// Package knowledge manages per-repository knowledge indexes: building them
// from ingestion text, publishing immutable snapshots, and serving queries.
package knowledge

import (
	"fmt"
	"time"

	"github.com/kaiseki/kaiseki/internal/models"
	"github.com/kaiseki/kaiseki/internal/storage"
	"github.com/kaiseki/kaiseki/internal/vector"
)

// Snapshot is one repository's fully built knowledge index. A snapshot is
// immutable after publication; replacement swaps the whole snapshot, so
// readers never observe a half-updated index.
type Snapshot struct {
	Fingerprint  string
	State        models.IndexState // ready or partial
	Files        []*models.FileRecord
	Tree         *models.HierarchyNode
	Dependencies []models.Dependency
	Chunks       []*models.Chunk
	Languages    map[string]int
	Warnings     []string
	Index        vector.Index
	CreatedAt    time.Time

	chunksByID map[string]*models.Chunk
}

// indexChunks populates the chunk lookup table. Called once before the
// snapshot is published.
func (s *Snapshot) indexChunks() {
	s.chunksByID = make(map[string]*models.Chunk, len(s.Chunks))
	for _, c := range s.Chunks {
		s.chunksByID[c.ID] = c
	}
}

// ChunkTable returns the chunk-by-ID lookup table. Callers must treat it as
// read-only.
func (s *Snapshot) ChunkTable() map[string]*models.Chunk {
	return s.chunksByID
}

// Result summarizes the snapshot as an ingestion outcome.
func (s *Snapshot) Result() *models.IngestResult {
	return &models.IngestResult{
		Status:     s.State,
		FileCount:  len(s.Files),
		ChunkCount: len(s.Chunks),
		Warnings:   s.Warnings,
		Languages:  s.Languages,
	}
}

// Status summarizes the snapshot for the status endpoint.
func (s *Snapshot) Status() *models.StatusInfo {
	return &models.StatusInfo{
		State:      s.State,
		Progress:   1,
		FileCount:  len(s.Files),
		ChunkCount: len(s.Chunks),
	}
}

// ToRecord serializes the snapshot for persistence.
func (s *Snapshot) ToRecord() (*storage.SnapshotRecord, error) {
	vectorData, err := s.Index.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal vector index: %w", err)
	}
	return &storage.SnapshotRecord{
		Fingerprint:  s.Fingerprint,
		State:        s.State,
		Files:        s.Files,
		Tree:         s.Tree,
		Dependencies: s.Dependencies,
		Chunks:       s.Chunks,
		Languages:    s.Languages,
		Warnings:     s.Warnings,
		VectorData:   vectorData,
		CreatedAt:    s.CreatedAt,
	}, nil
}

// SnapshotFromRecord rehydrates a snapshot from its persisted form.
func SnapshotFromRecord(rec *storage.SnapshotRecord) (*Snapshot, error) {
	idx := &vector.MemoryIndex{}
	if len(rec.VectorData) > 0 {
		if err := idx.UnmarshalBinary(rec.VectorData); err != nil {
			return nil, fmt.Errorf("unmarshal vector index: %w", err)
		}
	}
	snap := &Snapshot{
		Fingerprint:  rec.Fingerprint,
		State:        rec.State,
		Files:        rec.Files,
		Tree:         rec.Tree,
		Dependencies: rec.Dependencies,
		Chunks:       rec.Chunks,
		Languages:    rec.Languages,
		Warnings:     rec.Warnings,
		Index:        idx,
		CreatedAt:    rec.CreatedAt,
	}
	snap.indexChunks()
	return snap, nil
}
