package vector

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory vector index using brute-force inner product
// search. One instance is built per knowledge snapshot and never mutated
// after publication.
type MemoryIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		ids:        make([]string, 0),
		vectors:    make([][]float32, 0),
	}, nil
}

// Add appends vectors with the given IDs.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), m.dimensions)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns the top-k vectors by inner product (assumes normalized
// vectors, so scores are cosine similarities). Equal scores keep insertion
// order, which keeps results deterministic across runs. More than k results
// come back when scores tie at the k-th position.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	type scored struct {
		pos   int
		id    string
		score float64
	}
	scores := make([]scored, len(m.ids))
	for i, vec := range m.vectors {
		var dot float64
		for j := 0; j < m.dimensions; j++ {
			dot += float64(query[j] * vec[j])
		}
		scores[i] = scored{pos: i, id: m.ids[i], score: dot}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].pos < scores[j].pos
	})
	if k > len(scores) {
		k = len(scores)
	}
	// Scores tied with the k-th are all returned, so a caller with its own
	// tie ordering decides which of them make the final cut.
	cut := k
	for cut < len(scores) && scores[cut].score == scores[k-1].score {
		cut++
	}
	result := make([]*Result, cut)
	for i := 0; i < cut; i++ {
		result[i] = &Result{ID: scores[i].id, Score: scores[i].score}
	}
	return result, nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}

// MarshalBinary serializes the index. Format: dimensions (4), n (4), then per
// vector: idLen (4), id bytes, vector (dimensions*4 bytes). Little endian.
func (m *MemoryIndex) MarshalBinary() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return nil, fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(m.ids))); err != nil {
		return nil, fmt.Errorf("write count: %w", err)
	}
	for i, id := range m.ids {
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(id))); err != nil {
			return nil, fmt.Errorf("write id len: %w", err)
		}
		buf.WriteString(id)
		buf.Write(float32SliceToBytes(m.vectors[i]))
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the index contents with the serialized form.
func (m *MemoryIndex) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	vecBuf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("read id len: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, vecBuf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		ids = append(ids, string(idBytes))
		vectors = append(vectors, bytesToFloat32Slice(vecBuf))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimensions = int(dim)
	m.ids = ids
	m.vectors = vectors
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
