package deps

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/kaiseki/kaiseki/internal/models"
)

// extractPackageJSON reads dependencies and devDependencies from package.json.
// Invalid JSON yields no dependencies (best-effort, never an error).
func extractPackageJSON(rec *models.FileRecord) []models.Dependency {
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(rec.Content), &manifest); err != nil {
		return nil
	}
	var out []models.Dependency
	for _, section := range []map[string]string{manifest.Dependencies, manifest.DevDependencies} {
		// Map order is random; sorted names keep the dependency list (and
		// everything derived from it, like graph nodes) stable across rebuilds.
		names := make([]string, 0, len(section))
		for name := range section {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, models.Dependency{
				SourceFile:       rec.Path,
				TargetIdentifier: name,
				Kind:             models.DependencyManifest,
			})
		}
	}
	return out
}

var requirementName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*`)

// extractRequirements reads package names from a pip requirements file,
// ignoring comments, options, and version specifiers.
func extractRequirements(rec *models.FileRecord) []models.Dependency {
	var out []models.Dependency
	for _, line := range strings.Split(rec.Content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "-") {
			continue
		}
		name := requirementName.FindString(trimmed)
		if name == "" {
			continue
		}
		out = append(out, models.Dependency{
			SourceFile:       rec.Path,
			TargetIdentifier: name,
			Kind:             models.DependencyManifest,
		})
	}
	return out
}

var goModRequire = regexp.MustCompile(`^\s*(?:require\s+)?([\w./-]+\.[\w./-]+)\s+v[\w.+-]+`)

// extractGoMod reads module paths from require lines in go.mod.
func extractGoMod(rec *models.FileRecord) []models.Dependency {
	var out []models.Dependency
	for _, line := range strings.Split(rec.Content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "module ") || strings.HasPrefix(trimmed, "go ") ||
			strings.HasPrefix(trimmed, "//") {
			continue
		}
		if m := goModRequire.FindStringSubmatch(line); m != nil {
			out = append(out, models.Dependency{
				SourceFile:       rec.Path,
				TargetIdentifier: m[1],
				Kind:             models.DependencyManifest,
			})
		}
	}
	return out
}
