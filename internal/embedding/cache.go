package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder wraps an Embedder with an LRU text-to-vector cache so
// repeated chunk texts and repeated queries skip the network.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with a cache of the given capacity.
func NewCachedEmbedder(inner Embedder, capacity int) (*CachedEmbedder, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	cache, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text if present, otherwise delegates.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return v, nil
	}
	v, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	// Never cache an empty vector; a bad response must stay transient.
	if len(v) != 0 {
		e.cache.Add(text, v)
	}
	return v, nil
}

// EmbedBatch embeds texts, serving cached entries and delegating only the
// misses. Results keep input order.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if v, ok := e.cache.Get(text); ok {
			vectors[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return vectors, nil
	}
	fetched, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range fetched {
		if len(v) != 0 {
			e.cache.Add(missTexts[j], v)
		}
		vectors[missIdx[j]] = v
	}
	return vectors, nil
}

// Dimensions returns the wrapped embedder's dimension.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close closes the wrapped embedder.
func (e *CachedEmbedder) Close() error {
	return e.inner.Close()
}
