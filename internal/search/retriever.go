// Package search provides semantic retrieval over a snapshot's vector index.
package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/kaiseki/kaiseki/internal/embedding"
	"github.com/kaiseki/kaiseki/internal/models"
	"github.com/kaiseki/kaiseki/internal/vector"
)

// Retriever embeds a question and ranks a snapshot's chunks by cosine
// similarity. It holds no per-repository state; the index and chunk table
// come from the snapshot being queried, so results can never mix
// repositories.
type Retriever struct {
	embedder embedding.Embedder
	topK     int
	minScore float64
}

// NewRetriever creates a retriever. topK is the default result count used
// when a query does not specify one; minScore drops weak hits entirely.
func NewRetriever(embedder embedding.Embedder, topK int, minScore float64) *Retriever {
	if topK <= 0 {
		topK = 8
	}
	return &Retriever{embedder: embedder, topK: topK, minScore: minScore}
}

// Retrieve returns up to k chunks ranked by similarity to the question.
// An empty result is valid and means nothing scored above the threshold.
// Results are ordered by score descending; equal scores order by
// (source file, ordinal) ascending so ranking is deterministic.
func (r *Retriever) Retrieve(ctx context.Context, idx vector.Index, chunksByID map[string]*models.Chunk, question string, k int) ([]*models.RetrievedChunk, error) {
	if k <= 0 {
		k = r.topK
	}

	queryVec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := idx.Search(ctx, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]*models.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < r.minScore {
			continue
		}
		chunk, ok := chunksByID[hit.ID]
		if !ok {
			// Index and chunk table are built together; a missing entry
			// means a corrupted snapshot.
			return nil, fmt.Errorf("index references unknown chunk %s", hit.ID)
		}
		results = append(results, &models.RetrievedChunk{Chunk: chunk, Score: hit.Score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.SourceFile != results[j].Chunk.SourceFile {
			return results[i].Chunk.SourceFile < results[j].Chunk.SourceFile
		}
		return results[i].Chunk.Ordinal < results[j].Chunk.Ordinal
	})

	// The index returns everything tied with the k-th score; cut to k here
	// so boundary ties resolve by (source file, ordinal), not index order.
	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

// MinScore returns the configured score threshold.
func (r *Retriever) MinScore() float64 {
	return r.minScore
}
