// Package hierarchy reconstructs a directory tree from parsed file records.
package hierarchy

import (
	"sort"
	"strings"

	"github.com/kaiseki/kaiseki/internal/models"
)

// Build reconstructs the directory tree from file records. Every ancestor
// directory of a file path exists as a node even when not listed explicitly.
// The result is deterministic: children are sorted by name, so building twice
// from the same records yields structurally equal trees.
func Build(files []*models.FileRecord) *models.HierarchyNode {
	root := &models.HierarchyNode{Name: "", Path: "", IsDir: true}
	for _, f := range files {
		insert(root, f.Path)
	}
	sortTree(root)
	return root
}

func insert(root *models.HierarchyNode, path string) {
	segs := strings.Split(path, "/")
	node := root
	for i, seg := range segs {
		isDir := i < len(segs)-1
		child := node.Child(seg)
		if child == nil {
			child = &models.HierarchyNode{
				Name:  seg,
				Path:  strings.Join(segs[:i+1], "/"),
				IsDir: isDir,
			}
			node.Children = append(node.Children, child)
		}
		node = child
	}
}

func sortTree(n *models.HierarchyNode) {
	sort.Slice(n.Children, func(i, j int) bool {
		return n.Children[i].Name < n.Children[j].Name
	})
	for _, c := range n.Children {
		sortTree(c)
	}
}

// Equal reports structural equality of two trees (names, paths, kinds, and
// child order).
func Equal(a, b *models.HierarchyNode) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.Path != b.Path || a.IsDir != b.IsDir || len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}
