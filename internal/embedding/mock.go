package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"

	"github.com/kaiseki/kaiseki/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. It returns a
// fixed-dimension unit vector derived from the text hash so that the same
// text always gets the same embedding. It counts calls so tests can assert
// that cached or already-indexed texts are not re-embedded.
type MockEmbedder struct {
	dimensions int
	calls      atomic.Int64
	textsSeen  atomic.Int64
}

// NewMockEmbedder returns an embedder producing deterministic embeddings of
// the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic embedding based on the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	e.textsSeen.Add(1)
	return e.vector(text), nil
}

// EmbedBatch embeds each text deterministically.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.textsSeen.Add(int64(len(texts)))
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vector(text)
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// Calls returns how many Embed/EmbedBatch invocations reached this embedder.
func (e *MockEmbedder) Calls() int64 {
	return e.calls.Load()
}

// TextsSeen returns the total number of texts embedded across all calls.
func (e *MockEmbedder) TextsSeen() int64 {
	return e.textsSeen.Load()
}

func (e *MockEmbedder) vector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(seed%1000003)*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb
}
