// Package chunker splits file contents into line-based chunks for embedding.
package chunker

import (
	"strings"

	"github.com/kaiseki/kaiseki/internal/chunkid"
	"github.com/kaiseki/kaiseki/internal/models"
)

// Chunker splits file content on line boundaries, preferring natural break
// points (blank lines, returns to top level) over hard cuts at the size cap.
type Chunker struct {
	maxChars     int
	minChars     int
	overlapLines int
}

// NewChunker creates a chunker. maxChars is the hard size cap per chunk,
// minChars is the threshold below which a trailing fragment is merged into
// the previous chunk, overlapLines prepends that many lines of the previous
// chunk to each subsequent one (0 keeps chunks disjoint, so joining them in
// ordinal order reproduces the file exactly).
func NewChunker(maxChars, minChars, overlapLines int) *Chunker {
	if maxChars <= 0 {
		maxChars = 1600
	}
	if minChars < 0 {
		minChars = 0
	}
	if overlapLines < 0 {
		overlapLines = 0
	}
	return &Chunker{
		maxChars:     maxChars,
		minChars:     minChars,
		overlapLines: overlapLines,
	}
}

// Chunk splits a file record into chunks. Binary and empty files yield none;
// any other file yields at least one.
func (c *Chunker) Chunk(rec *models.FileRecord) []*models.Chunk {
	if rec.IsBinary || rec.Content == "" {
		return nil
	}
	lines := splitLines(rec.Content)

	type span struct{ start, end int } // line index range, end exclusive
	var spans []span
	for i := 0; i < len(lines); {
		end := i
		size := 0
		lastBreak := -1
		breakSize := 0
		for end < len(lines) {
			n := len(lines[end])
			if size > 0 && size+n > c.maxChars {
				break
			}
			size += n
			end++
			if end < len(lines) && isBreakPoint(lines, end) && size >= c.minChars {
				lastBreak = end
				breakSize = size
			}
		}
		if end < len(lines) && lastBreak > i && breakSize >= c.minChars {
			end = lastBreak
		}
		if end == i {
			// Single line longer than the cap still becomes its own chunk.
			end = i + 1
		}
		spans = append(spans, span{start: i, end: end})
		i = end
	}

	// A trailing fragment below the minimum folds into the previous chunk.
	if len(spans) >= 2 {
		last := spans[len(spans)-1]
		size := 0
		for _, ln := range lines[last.start:last.end] {
			size += len(ln)
		}
		if size < c.minChars {
			spans[len(spans)-2].end = last.end
			spans = spans[:len(spans)-1]
		}
	}

	chunks := make([]*models.Chunk, 0, len(spans))
	for ordinal, sp := range spans {
		start := sp.start
		if c.overlapLines > 0 && ordinal > 0 {
			start = sp.start - c.overlapLines
			if prev := spans[ordinal-1].start; start < prev {
				start = prev
			}
		}
		text := strings.Join(lines[start:sp.end], "")
		chunks = append(chunks, &models.Chunk{
			ID:         chunkid.ChunkID(rec.Path, ordinal, text),
			SourceFile: rec.Path,
			StartLine:  start + 1,
			EndLine:    sp.end,
			Text:       text,
			Ordinal:    ordinal,
		})
	}
	return chunks
}

// splitLines splits content after each newline, keeping the newline attached
// so that concatenating the segments reproduces the input byte for byte.
func splitLines(content string) []string {
	var lines []string
	for len(content) > 0 {
		i := strings.IndexByte(content, '\n')
		if i < 0 {
			lines = append(lines, content)
			break
		}
		lines = append(lines, content[:i+1])
		content = content[i+1:]
	}
	return lines
}

// isBreakPoint reports whether a chunk boundary before lines[i] lands on a
// natural seam: the previous line is blank, or an indented block just ended
// and lines[i] starts a new top-level construct.
func isBreakPoint(lines []string, i int) bool {
	if i <= 0 || i >= len(lines) {
		return false
	}
	prev := strings.TrimRight(lines[i-1], "\r\n")
	if strings.TrimSpace(prev) == "" {
		return true
	}
	cur := lines[i]
	if len(cur) > 0 && cur[0] != ' ' && cur[0] != '\t' &&
		len(prev) > 0 && (prev[0] == ' ' || prev[0] == '\t') {
		return true
	}
	return false
}
