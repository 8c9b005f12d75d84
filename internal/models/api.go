package models

// IndexState describes the lifecycle state of a repository's knowledge index.
type IndexState string

const (
	StateBuilding IndexState = "building"
	StateReady    IndexState = "ready"
	StatePartial  IndexState = "partial"
	StateEvicted  IndexState = "evicted"
	StateNotFound IndexState = "not_found"
)

// IngestResult is the outcome of one ingestion attempt.
type IngestResult struct {
	Status     IndexState     `json:"status"`
	FileCount  int            `json:"file_count"`
	ChunkCount int            `json:"chunk_count"`
	Warnings   []string       `json:"warnings,omitempty"`
	Languages  map[string]int `json:"languages,omitempty"`
}

// QueryRequest asks a natural-language question about an indexed repository.
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// CitedSource attributes part of an answer to a file and line range.
type CitedSource struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

// Answer is a grounded, source-attributed answer to a query. Confidence is
// derived from the top retrieval score, not from the model's own claims.
type Answer struct {
	AnswerText   string        `json:"answer_text"`
	CitedSources []CitedSource `json:"cited_sources"`
	Confidence   float64       `json:"confidence"`
	NoContext    bool          `json:"no_context,omitempty"`
}

// StatusInfo reports index state and build progress for a fingerprint.
type StatusInfo struct {
	State IndexState `json:"state"`
	// Progress is 0..1 while building, 1 once published.
	Progress   float64 `json:"progress"`
	FileCount  int     `json:"file_count,omitempty"`
	ChunkCount int     `json:"chunk_count,omitempty"`
}
