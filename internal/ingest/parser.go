// Package ingest parses raw repository ingestion text into typed file records.
//
// The ingestion collaborator emits a flat text stream: an optional summary
// preamble (including a "Directory structure:" tree, which is skipped),
// followed by one section per file:
//
//	================================================
//	FILE: relative/path.py
//	SIZE: 1234
//	================================================
//	<exactly 1234 bytes of content>
//
// The SIZE header gives unambiguous framing: the body is read by byte count,
// so content may contain anything, including lines that look like separators.
// Binary or excluded files carry a "BINARY: true" header instead of SIZE and
// no body. Sections without a SIZE header (legacy output) fall back to
// delimiter scanning; a bare "FILE: " header found inside such a body makes
// the framing ambiguous and the parse fails rather than corrupt a record.
//
// Parsing is all-or-nothing: any malformed section discards the whole pass.
package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kaiseki/kaiseki/internal/models"
)

const (
	fileHeaderPrefix   = "FILE: "
	sizeHeaderPrefix   = "SIZE: "
	binaryHeaderPrefix = "BINARY: "
)

// ParseError reports malformed ingestion text. ByteOffset points at the
// offending position in the raw input; Reason is structural only and never
// carries file content.
type ParseError struct {
	Reason     string
	ByteOffset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ingestion parse error at byte %d: %s", e.ByteOffset, e.Reason)
}

// Result is the outcome of a successful parse pass.
type Result struct {
	Files []*models.FileRecord
	// Languages counts files per language tag.
	Languages map[string]int
}

// Parse converts raw ingestion text into an ordered list of file records.
// Partial results are never returned: the first malformed section aborts
// the pass with a ParseError.
func Parse(raw string) (*Result, error) {
	p := &parser{input: raw}
	files, err := p.run()
	if err != nil {
		return nil, err
	}
	langs := make(map[string]int)
	for _, f := range files {
		langs[f.LanguageTag]++
	}
	return &Result{Files: files, Languages: langs}, nil
}

type parser struct {
	input string
	pos   int
	seen  map[string]bool
}

// line reads the next line without its trailing newline and advances pos
// past the newline. Returns ok=false at end of input.
func (p *parser) line() (s string, start int, ok bool) {
	if p.pos >= len(p.input) {
		return "", p.pos, false
	}
	start = p.pos
	idx := strings.IndexByte(p.input[p.pos:], '\n')
	if idx < 0 {
		s = p.input[p.pos:]
		p.pos = len(p.input)
		return s, start, true
	}
	s = p.input[p.pos : p.pos+idx]
	p.pos += idx + 1
	return s, start, true
}

// peekLine returns the next line without consuming it.
func (p *parser) peekLine() (string, bool) {
	save := p.pos
	s, _, ok := p.line()
	p.pos = save
	return s, ok
}

func isSeparator(line string) bool {
	if len(line) < 10 {
		return false
	}
	for i := 0; i < len(line); i++ {
		if line[i] != '=' {
			return false
		}
	}
	return true
}

func (p *parser) run() ([]*models.FileRecord, error) {
	p.seen = make(map[string]bool)
	var files []*models.FileRecord

	// Skip preamble (summary text, directory structure tree) until the first
	// separator that opens a FILE header.
	for {
		save := p.pos
		line, _, ok := p.line()
		if !ok {
			if len(files) == 0 && len(strings.TrimSpace(p.input)) != 0 {
				return nil, &ParseError{Reason: "no file sections found", ByteOffset: 0}
			}
			return files, nil
		}
		if isSeparator(line) {
			if next, ok := p.peekLine(); ok && strings.HasPrefix(next, fileHeaderPrefix) {
				p.pos = save
				break
			}
		}
	}

	for {
		rec, err := p.section()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		if p.seen[rec.Path] {
			return nil, &ParseError{Reason: fmt.Sprintf("duplicate path %q", rec.Path), ByteOffset: p.pos}
		}
		p.seen[rec.Path] = true
		files = append(files, rec)
	}
	return files, nil
}

// section parses one file section. Returns (nil, nil) at end of input.
func (p *parser) section() (*models.FileRecord, error) {
	sep, sepStart, ok := p.line()
	if !ok {
		return nil, nil
	}
	if !isSeparator(sep) {
		return nil, &ParseError{Reason: "expected section separator", ByteOffset: sepStart}
	}

	header, headerStart, ok := p.line()
	if !ok || !strings.HasPrefix(header, fileHeaderPrefix) {
		return nil, &ParseError{Reason: "expected FILE header after separator", ByteOffset: headerStart}
	}
	path, err := normalizePath(strings.TrimSpace(header[len(fileHeaderPrefix):]), headerStart)
	if err != nil {
		return nil, err
	}

	size := -1
	binary := false
	for {
		line, start, ok := p.line()
		if !ok {
			return nil, &ParseError{Reason: "unterminated section header", ByteOffset: start}
		}
		if isSeparator(line) {
			break
		}
		switch {
		case strings.HasPrefix(line, sizeHeaderPrefix):
			n, convErr := strconv.Atoi(strings.TrimSpace(line[len(sizeHeaderPrefix):]))
			if convErr != nil || n < 0 {
				return nil, &ParseError{Reason: "invalid SIZE header", ByteOffset: start}
			}
			size = n
		case strings.HasPrefix(line, binaryHeaderPrefix):
			binary = strings.TrimSpace(line[len(binaryHeaderPrefix):]) == "true"
		default:
			return nil, &ParseError{Reason: "unrecognized section header line", ByteOffset: start}
		}
	}

	rec := &models.FileRecord{Path: path, LanguageTag: DetectLanguage(path)}
	switch {
	case binary:
		rec.IsBinary = true
	case size >= 0:
		if err := p.sizedBody(rec, size); err != nil {
			return nil, err
		}
	default:
		if err := p.legacyBody(rec); err != nil {
			return nil, err
		}
	}
	if !rec.IsBinary {
		rec.SizeBytes = len(rec.Content)
		rec.LineCount = countLines(rec.Content)
	}
	return rec, nil
}

// sizedBody reads exactly size bytes and the newline that terminates the body.
func (p *parser) sizedBody(rec *models.FileRecord, size int) error {
	if p.pos+size > len(p.input) {
		return &ParseError{Reason: "unterminated section: body shorter than SIZE", ByteOffset: p.pos}
	}
	rec.Content = p.input[p.pos : p.pos+size]
	p.pos += size
	// The body is followed by a newline (unless it already ends the input),
	// then either EOF or the next separator.
	if p.pos < len(p.input) {
		if p.input[p.pos] != '\n' {
			return &ParseError{Reason: "section body overruns SIZE", ByteOffset: p.pos}
		}
		p.pos++
	}
	if next, ok := p.peekLine(); ok && !isSeparator(next) {
		return &ParseError{Reason: "trailing data after sized body", ByteOffset: p.pos}
	}
	return nil
}

// legacyBody scans lines until the next separator that opens a FILE header.
// A bare FILE header inside the body means the textual delimiters are
// ambiguous; the parse fails rather than silently merge two files.
func (p *parser) legacyBody(rec *models.FileRecord) error {
	var lines []string
	for {
		save := p.pos
		line, start, ok := p.line()
		if !ok {
			break
		}
		if isSeparator(line) {
			if next, ok := p.peekLine(); ok && strings.HasPrefix(next, fileHeaderPrefix) {
				p.pos = save
				break
			}
		}
		if strings.HasPrefix(line, fileHeaderPrefix) {
			return &ParseError{Reason: "ambiguous FILE header inside unsized section", ByteOffset: start}
		}
		lines = append(lines, line)
	}
	// Trailing blank lines belong to the framing, not the file.
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	rec.Content = strings.Join(lines, "\n")
	return nil
}

// normalizePath validates and normalizes a repository-relative path.
func normalizePath(path string, offset int) (string, error) {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "./")
	if path == "" {
		return "", &ParseError{Reason: "empty file path", ByteOffset: offset}
	}
	if strings.HasPrefix(path, "/") {
		return "", &ParseError{Reason: "absolute file path not allowed", ByteOffset: offset}
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return "", &ParseError{Reason: "path traversal segment not allowed", ByteOffset: offset}
		}
		if seg == "" {
			return "", &ParseError{Reason: "empty path segment", ByteOffset: offset}
		}
	}
	return path, nil
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n") + 1
	if strings.HasSuffix(content, "\n") {
		n--
	}
	return n
}
