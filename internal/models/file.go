// Package models defines core data structures for file records, chunks, dependencies, and API results.
package models

// FileRecord is one source file reconstructed from the ingestion text.
// Records are created once per parse pass and never mutated; re-ingestion
// replaces the whole set.
type FileRecord struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	SizeBytes   int    `json:"size_bytes"`
	LineCount   int    `json:"line_count"`
	LanguageTag string `json:"language_tag"`
	IsBinary    bool   `json:"is_binary"`
}

// HierarchyNode is a directory or file node in the tree reconstructed from
// file paths. Children are kept sorted by name so two trees built from the
// same records compare equal structurally.
type HierarchyNode struct {
	Name     string           `json:"name"`
	Path     string           `json:"path"`
	IsDir    bool             `json:"is_dir"`
	Children []*HierarchyNode `json:"children,omitempty"`
}

// Child returns the child with the given name, or nil.
func (n *HierarchyNode) Child(name string) *HierarchyNode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Walk visits n and every descendant in depth-first, sorted order.
func (n *HierarchyNode) Walk(fn func(*HierarchyNode)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// DependencyKind classifies how a dependency was declared.
type DependencyKind string

const (
	// DependencyImport is an import/include statement in source code.
	DependencyImport DependencyKind = "import"
	// DependencyManifest is an entry in a dependency manifest file.
	DependencyManifest DependencyKind = "manifestDependency"
)

// Dependency is a declared relationship extracted from import statements or
// manifest files. TargetIdentifier is kept verbatim; external packages stay
// unresolved.
type Dependency struct {
	SourceFile       string         `json:"source_file"`
	TargetIdentifier string         `json:"target_identifier"`
	Kind             DependencyKind `json:"kind"`
}
