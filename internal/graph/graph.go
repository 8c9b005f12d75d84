// Package graph projects a knowledge snapshot into a dependency graph for
// visualization.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kaiseki/kaiseki/internal/models"
)

// Build projects the hierarchy and extracted dependencies into a graph.
// It is a pure function of its inputs: directory and file nodes come from
// the tree, one external node is added per unresolved dependency target,
// containment edges mirror the tree and dependency edges follow the
// extracted imports and manifest entries.
func Build(tree *models.HierarchyNode, files []*models.FileRecord, dependencies []models.Dependency) *models.Graph {
	g := &models.Graph{
		Nodes: []*models.GraphNode{},
		Edges: []*models.GraphEdge{},
	}
	if tree == nil {
		return g
	}

	fileByPath := make(map[string]*models.FileRecord, len(files))
	for _, f := range files {
		fileByPath[f.Path] = f
	}

	nodeIDs := make(map[string]bool)
	addTree(g, tree, fileByPath, nodeIDs)

	externals := make(map[string]bool)
	for _, dep := range dependencies {
		fromID := fileNodeID(dep.SourceFile)
		if !nodeIDs[fromID] {
			continue
		}
		edgeKind := models.GraphEdgeImports
		if dep.Kind == models.DependencyManifest {
			edgeKind = models.GraphEdgeDepends
		}

		if target, ok := resolveTarget(dep.TargetIdentifier, fileByPath); ok {
			g.Edges = append(g.Edges, &models.GraphEdge{
				From: fromID,
				To:   fileNodeID(target),
				Kind: edgeKind,
			})
			continue
		}

		extID := externalNodeID(dep.TargetIdentifier)
		if !externals[extID] {
			externals[extID] = true
			g.Nodes = append(g.Nodes, &models.GraphNode{
				ID:    extID,
				Label: dep.TargetIdentifier,
				Kind:  models.GraphNodeExternal,
			})
		}
		g.Edges = append(g.Edges, &models.GraphEdge{
			From: fromID,
			To:   extID,
			Kind: edgeKind,
		})
	}

	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		if g.Edges[i].To != g.Edges[j].To {
			return g.Edges[i].To < g.Edges[j].To
		}
		return g.Edges[i].Kind < g.Edges[j].Kind
	})

	return g
}

func addTree(g *models.Graph, node *models.HierarchyNode, fileByPath map[string]*models.FileRecord, nodeIDs map[string]bool) {
	node.Walk(func(n *models.HierarchyNode) {
		var gn *models.GraphNode
		if n.IsDir {
			label := n.Name
			if n.Path == "" {
				label = "/"
			}
			gn = &models.GraphNode{
				ID:    dirNodeID(n.Path),
				Label: label,
				Path:  n.Path,
				Kind:  models.GraphNodeDirectory,
			}
		} else {
			gn = &models.GraphNode{
				ID:    fileNodeID(n.Path),
				Label: n.Name,
				Path:  n.Path,
				Kind:  models.GraphNodeFile,
			}
			if rec, ok := fileByPath[n.Path]; ok {
				gn.LanguageTag = rec.LanguageTag
				gn.Summary = fmt.Sprintf("%d lines, %d bytes", rec.LineCount, rec.SizeBytes)
			}
		}
		nodeIDs[gn.ID] = true
		g.Nodes = append(g.Nodes, gn)

		for _, c := range n.Children {
			childID := fileNodeID(c.Path)
			if c.IsDir {
				childID = dirNodeID(c.Path)
			}
			g.Edges = append(g.Edges, &models.GraphEdge{
				From: gn.ID,
				To:   childID,
				Kind: models.GraphEdgeContains,
			})
		}
	})
}

// resolveTarget maps a dependency target onto a known file path when the
// target plainly names one: an exact path, a relative "./x" form, or a
// module-style dotted name whose path variant exists.
func resolveTarget(target string, fileByPath map[string]*models.FileRecord) (string, bool) {
	if _, ok := fileByPath[target]; ok {
		return target, true
	}
	trimmed := strings.TrimPrefix(target, "./")
	for _, candidate := range []string{
		trimmed,
		trimmed + ".py",
		trimmed + ".js",
		trimmed + ".ts",
		strings.ReplaceAll(trimmed, ".", "/") + ".py",
	} {
		if _, ok := fileByPath[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

func dirNodeID(path string) string {
	if path == "" {
		return "dir:/"
	}
	return "dir:" + path
}

func fileNodeID(path string) string {
	return "file:" + path
}

func externalNodeID(target string) string {
	return "ext:" + target
}
