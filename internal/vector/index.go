// Package vector provides vector index and similarity search.
package vector

import (
	"context"
	"encoding"
)

// Index defines vector storage and similarity search. Each knowledge snapshot
// owns its own index, so vectors of different repositories never share one.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*Result, error)
	Size() int
	Dimensions() int
	Close() error

	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Result is a single vector search hit. ID is the chunk ID.
type Result struct {
	ID    string
	Score float64 // Inner product; cosine similarity for normalized vectors.
}
