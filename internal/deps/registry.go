// Package deps extracts declared dependencies from parsed file records.
//
// Extraction is best-effort text pattern matching keyed by language tag, not
// full parsing: malformed source never fails extraction, unmatched lines are
// skipped, and unknown languages contribute nothing.
package deps

import (
	"path"
	"sync"

	"github.com/kaiseki/kaiseki/internal/models"
)

// Extractor recognizes dependency declarations in one language's source text.
type Extractor interface {
	Extract(rec *models.FileRecord) []models.Dependency
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(rec *models.FileRecord) []models.Dependency

func (f ExtractorFunc) Extract(rec *models.FileRecord) []models.Dependency {
	return f(rec)
}

// Registry maps language tags and manifest filenames to extractors.
type Registry struct {
	mu        sync.RWMutex
	byTag     map[string]Extractor
	manifests map[string]Extractor // base filename → extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byTag:     make(map[string]Extractor),
		manifests: make(map[string]Extractor),
	}
}

// Register adds an extractor for a language tag.
func (r *Registry) Register(tag string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTag[tag] = e
}

// RegisterManifest adds an extractor keyed by manifest base filename.
func (r *Registry) RegisterManifest(filename string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[filename] = e
}

// Extract runs the matching extractors over every record and returns all
// discovered dependencies in record order. Binary records are skipped.
func (r *Registry) Extract(files []*models.FileRecord) []models.Dependency {
	var out []models.Dependency
	for _, f := range files {
		if f.IsBinary || f.Content == "" {
			continue
		}
		r.mu.RLock()
		manifest := r.manifests[path.Base(f.Path)]
		byTag := r.byTag[f.LanguageTag]
		r.mu.RUnlock()
		if manifest != nil {
			out = append(out, manifest.Extract(f)...)
			continue
		}
		if byTag != nil {
			out = append(out, byTag.Extract(f)...)
		}
	}
	return out
}

// DefaultRegistry returns a registry with all built-in extractors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("python", ExtractorFunc(extractPython))
	r.Register("go", ExtractorFunc(extractGo))
	r.Register("javascript", ExtractorFunc(extractJS))
	r.Register("typescript", ExtractorFunc(extractJS))
	r.RegisterManifest("package.json", ExtractorFunc(extractPackageJSON))
	r.RegisterManifest("requirements.txt", ExtractorFunc(extractRequirements))
	r.RegisterManifest("go.mod", ExtractorFunc(extractGoMod))
	return r
}
