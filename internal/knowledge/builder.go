package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kaiseki/kaiseki/internal/chunker"
	"github.com/kaiseki/kaiseki/internal/deps"
	"github.com/kaiseki/kaiseki/internal/embedding"
	"github.com/kaiseki/kaiseki/internal/hierarchy"
	"github.com/kaiseki/kaiseki/internal/ingest"
	"github.com/kaiseki/kaiseki/internal/models"
	"github.com/kaiseki/kaiseki/internal/vector"
)

// Builder turns raw ingestion text into a knowledge snapshot: parse files,
// build the hierarchy, extract dependencies, chunk, embed, index.
type Builder struct {
	chunker     *chunker.Chunker
	embedder    embedding.Embedder
	extractors  *deps.Registry
	batchSize   int
	maxParallel int
	logger      *zap.Logger
}

// NewBuilder creates a builder. batchSize is texts per embedding request,
// maxParallel bounds concurrent embedding batches.
func NewBuilder(ch *chunker.Chunker, embedder embedding.Embedder, extractors *deps.Registry, batchSize, maxParallel int, logger *zap.Logger) *Builder {
	if batchSize <= 0 {
		batchSize = 32
	}
	if maxParallel <= 0 {
		maxParallel = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		chunker:     ch,
		embedder:    embedder,
		extractors:  extractors,
		batchSize:   batchSize,
		maxParallel: maxParallel,
		logger:      logger,
	}
}

// Build constructs a snapshot for fingerprint from raw ingestion text.
// Parse errors abort the attempt with nothing published. Embedding failures
// are isolated per batch: their chunks are recorded as warnings and the
// snapshot state becomes partial. A cancelled context aborts the build.
// progress, if non-nil, receives (completedBatches, totalBatches).
func (b *Builder) Build(ctx context.Context, fingerprint, raw string, progress func(done, total int)) (*Snapshot, error) {
	jobID := uuid.New().String()[:8]
	started := time.Now()
	log := b.logger.With(zap.String("job", jobID), zap.String("fingerprint", fingerprint))

	parsed, err := ingest.Parse(raw)
	if err != nil {
		log.Warn("ingestion parse failed", zap.Error(err))
		return nil, err
	}

	tree := hierarchy.Build(parsed.Files)
	dependencies := b.extractors.Extract(parsed.Files)

	var chunks []*models.Chunk
	for _, f := range parsed.Files {
		chunks = append(chunks, b.chunker.Chunk(f)...)
	}

	log.Info("build started",
		zap.Int("files", len(parsed.Files)),
		zap.Int("chunks", len(chunks)),
		zap.Int("dependencies", len(dependencies)))

	vectors, warnings, err := b.embedChunks(ctx, chunks, progress)
	if err != nil {
		return nil, err
	}

	idx, err := vector.NewMemoryIndex(b.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	for i, c := range chunks {
		if vectors[i] == nil {
			continue
		}
		if err := idx.Add(ctx, []string{c.ID}, [][]float32{vectors[i]}); err != nil {
			return nil, fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}

	state := models.StateReady
	if len(warnings) > 0 {
		state = models.StatePartial
	}

	snap := &Snapshot{
		Fingerprint:  fingerprint,
		State:        state,
		Files:        parsed.Files,
		Tree:         tree,
		Dependencies: dependencies,
		Chunks:       chunks,
		Languages:    parsed.Languages,
		Warnings:     warnings,
		Index:        idx,
		CreatedAt:    time.Now(),
	}
	snap.indexChunks()

	log.Info("build finished",
		zap.String("state", string(state)),
		zap.Int("indexed", idx.Size()),
		zap.Int("warnings", len(warnings)),
		zap.Duration("elapsed", time.Since(started)))

	return snap, nil
}

// embedChunks embeds all chunks in bounded-parallel batches. The returned
// slice is positionally aligned with chunks; nil entries mark chunks whose
// batch permanently failed. Context cancellation aborts the whole build.
func (b *Builder) embedChunks(ctx context.Context, chunks []*models.Chunk, progress func(done, total int)) ([][]float32, []string, error) {
	vectors := make([][]float32, len(chunks))
	if len(chunks) == 0 {
		if progress != nil {
			progress(0, 0)
		}
		return vectors, nil, nil
	}

	total := (len(chunks) + b.batchSize - 1) / b.batchSize
	if progress != nil {
		progress(0, total)
	}

	var (
		mu       sync.Mutex
		warnings []string
		done     int
	)

	// A plain group, not WithContext: one failed batch must not cancel the
	// others, only mark its own chunks as missing.
	var g errgroup.Group
	g.SetLimit(b.maxParallel)

	for start := 0; start < len(chunks); start += b.batchSize {
		end := start + b.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		offset := start

		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			batchVectors, err := b.embedder.EmbedBatch(ctx, texts)
			if err == nil && len(batchVectors) != len(batch) {
				err = fmt.Errorf("embedder returned %d vectors for %d chunks", len(batchVectors), len(batch))
			}
			if err == nil {
				for _, v := range batchVectors {
					if len(v) == 0 {
						err = fmt.Errorf("embedder returned an empty vector")
						break
					}
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				refs := make([]string, len(batch))
				for i, c := range batch {
					refs[i] = fmt.Sprintf("%s#%d", c.SourceFile, c.Ordinal)
				}
				warnings = append(warnings, fmt.Sprintf("embedding failed for %d chunks (%s): %v", len(batch), strings.Join(refs, ", "), err))
				b.logger.Warn("embedding batch failed",
					zap.Int("chunks", len(batch)),
					zap.Error(err))
			} else {
				for i := range batch {
					vectors[offset+i] = batchVectors[i]
				}
			}
			done++
			if progress != nil {
				progress(done, total)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return vectors, warnings, nil
}
