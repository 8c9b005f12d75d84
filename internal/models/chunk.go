package models

// Chunk is the unit of retrieval: a bounded slice of one file's text.
// Ordinal gives within-file order; chunk IDs are deterministic so that
// re-chunking identical content yields identical IDs.
type Chunk struct {
	ID         string `json:"id"`
	SourceFile string `json:"source_file"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	Text       string `json:"text"`
	Ordinal    int    `json:"ordinal"`
}

// RetrievedChunk is a retrieval hit: a chunk with its similarity score.
type RetrievedChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}
