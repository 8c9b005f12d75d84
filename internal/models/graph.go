package models

// GraphNodeKind classifies graph nodes for visualization.
type GraphNodeKind string

const (
	GraphNodeDirectory GraphNodeKind = "directory"
	GraphNodeFile      GraphNodeKind = "file"
	GraphNodeExternal  GraphNodeKind = "external"
)

// GraphEdgeKind classifies graph edges.
type GraphEdgeKind string

const (
	GraphEdgeContains GraphEdgeKind = "contains"
	GraphEdgeImports  GraphEdgeKind = "imports"
	GraphEdgeDepends  GraphEdgeKind = "depends_on"
)

// GraphNode is a read-only projection of a hierarchy node or external
// dependency target for visualization. Regenerated on demand, never mutated.
type GraphNode struct {
	ID          string        `json:"id"`
	Label       string        `json:"label"`
	Path        string        `json:"path,omitempty"`
	Kind        GraphNodeKind `json:"kind"`
	LanguageTag string        `json:"language_tag,omitempty"`
	Summary     string        `json:"summary,omitempty"`
}

// GraphEdge connects two graph nodes by ID.
type GraphEdge struct {
	From string        `json:"from"`
	To   string        `json:"to"`
	Kind GraphEdgeKind `json:"kind"`
}

// Graph is the topology handed to the visualization layer. Layout is a
// client concern; only topology and per-node metadata are emitted.
type Graph struct {
	Nodes []*GraphNode `json:"nodes"`
	Edges []*GraphEdge `json:"edges"`
}
