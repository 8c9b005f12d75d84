package ingest

import (
	"path"
	"strings"
)

var extensionTags = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".rs":    "rust",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".scss":  "scss",
	".md":    "markdown",
	".rst":   "restructuredtext",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".txt":   "text",
}

// Filenames without a meaningful extension that still have a known language.
var filenameTags = map[string]string{
	"go.mod":           "gomod",
	"go.sum":           "gosum",
	"package.json":     "json",
	"requirements.txt": "requirements",
	"dockerfile":       "dockerfile",
	"makefile":         "makefile",
}

// DetectLanguage infers a language tag from the file path.
// Unrecognized extensions yield "unknown".
func DetectLanguage(filePath string) string {
	base := strings.ToLower(path.Base(filePath))
	if tag, ok := filenameTags[base]; ok {
		return tag
	}
	if tag, ok := extensionTags[strings.ToLower(path.Ext(filePath))]; ok {
		return tag
	}
	return "unknown"
}
