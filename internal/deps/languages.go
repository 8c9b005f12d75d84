package deps

import (
	"regexp"
	"strings"

	"github.com/kaiseki/kaiseki/internal/models"
)

var (
	pyImport     = regexp.MustCompile(`^\s*import\s+([\w.]+)`)
	pyFromImport = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\b`)

	goImportSingle = regexp.MustCompile(`^\s*import\s+(?:\w+\s+)?"([^"]+)"`)
	goImportLine   = regexp.MustCompile(`^\s*(?:\w+\s+|\.\s+|_\s+)?"([^"]+)"`)

	jsImportFrom = regexp.MustCompile(`(?:^|\s)import\s+.*?\bfrom\s+['"]([^'"]+)['"]`)
	jsImportBare = regexp.MustCompile(`^\s*import\s+['"]([^'"]+)['"]`)
	jsRequire    = regexp.MustCompile(`\brequire\(\s*['"]([^'"]+)['"]\s*\)`)
)

func extractPython(rec *models.FileRecord) []models.Dependency {
	var out []models.Dependency
	for _, line := range strings.Split(rec.Content, "\n") {
		target := ""
		if m := pyFromImport.FindStringSubmatch(line); m != nil {
			target = m[1]
		} else if m := pyImport.FindStringSubmatch(line); m != nil {
			target = m[1]
		}
		if target != "" {
			out = append(out, models.Dependency{
				SourceFile:       rec.Path,
				TargetIdentifier: target,
				Kind:             models.DependencyImport,
			})
		}
	}
	return out
}

func extractGo(rec *models.FileRecord) []models.Dependency {
	var out []models.Dependency
	inBlock := false
	for _, line := range strings.Split(rec.Content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
			continue
		case inBlock && trimmed == ")":
			inBlock = false
			continue
		}
		var target string
		if inBlock {
			if m := goImportLine.FindStringSubmatch(line); m != nil {
				target = m[1]
			}
		} else if m := goImportSingle.FindStringSubmatch(line); m != nil {
			target = m[1]
		}
		if target != "" {
			out = append(out, models.Dependency{
				SourceFile:       rec.Path,
				TargetIdentifier: target,
				Kind:             models.DependencyImport,
			})
		}
	}
	return out
}

func extractJS(rec *models.FileRecord) []models.Dependency {
	var out []models.Dependency
	seen := make(map[string]bool)
	add := func(target string) {
		if target == "" || seen[target] {
			return
		}
		seen[target] = true
		out = append(out, models.Dependency{
			SourceFile:       rec.Path,
			TargetIdentifier: target,
			Kind:             models.DependencyImport,
		})
	}
	for _, line := range strings.Split(rec.Content, "\n") {
		if m := jsImportFrom.FindStringSubmatch(line); m != nil {
			add(m[1])
		} else if m := jsImportBare.FindStringSubmatch(line); m != nil {
			add(m[1])
		}
		for _, m := range jsRequire.FindAllStringSubmatch(line, -1) {
			add(m[1])
		}
	}
	return out
}
