// Package rag assembles retrieved context and synthesizes grounded answers.
package rag

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kaiseki/kaiseki/internal/llm"
	"github.com/kaiseki/kaiseki/internal/models"
	"github.com/kaiseki/kaiseki/pkg/utils"
)

const systemPrompt = `You are a code analysis assistant. Answer the question using ONLY the provided context excerpts from the repository. If the context does not contain the answer, say so plainly. Cite the files you used as path:startLine-endLine references. End your answer with a line "Sources:" followed by one citation per line.`

// NoContextAnswer is returned verbatim when retrieval finds nothing relevant.
const NoContextAnswer = "No relevant context found in the indexed repository for this question."

// Synthesizer turns retrieved chunks into a source-attributed answer.
type Synthesizer struct {
	client llm.CompletionClient
	budget int
	logger *zap.Logger
}

// NewSynthesizer creates a synthesizer. budget caps the total context
// characters sent to the completion model.
func NewSynthesizer(client llm.CompletionClient, budget int, logger *zap.Logger) *Synthesizer {
	if budget <= 0 {
		budget = 12000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{client: client, budget: budget, logger: logger}
}

// Answer synthesizes an answer from the retrieved chunks. With no retrieval
// results it short-circuits without calling the model. Confidence is the top
// retrieval score, never a model self-assessment.
func (s *Synthesizer) Answer(ctx context.Context, question string, retrieved []*models.RetrievedChunk) (*models.Answer, error) {
	if len(retrieved) == 0 {
		return &models.Answer{
			AnswerText:   NoContextAnswer,
			CitedSources: []models.CitedSource{},
			Confidence:   0,
			NoContext:    true,
		}, nil
	}

	contextText, included := s.assembleContext(retrieved)

	reply, err := s.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Context:\n%s\nQuestion: %s", contextText, question)},
	})
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	answerText, sources := splitSources(reply, included)
	if len(sources) == 0 {
		sources = citationsInText(answerText, included)
	}

	s.logger.Debug("answer synthesized",
		zap.String("question", utils.Truncate(question, 120)),
		zap.String("answer", utils.Truncate(answerText, 200)),
		zap.Int("context_chars", len(contextText)),
		zap.Int("cited_sources", len(sources)),
	)

	confidence := retrieved[0].Score
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return &models.Answer{
		AnswerText:   answerText,
		CitedSources: sources,
		Confidence:   confidence,
	}, nil
}

// assembleContext concatenates chunks in rank order until the budget is
// spent, so the weakest hits are dropped first. Returns the context text and
// the set of file paths it includes.
func (s *Synthesizer) assembleContext(retrieved []*models.RetrievedChunk) (string, map[string]bool) {
	var b strings.Builder
	included := make(map[string]bool)
	dropped := 0
	for _, rc := range retrieved {
		header := fmt.Sprintf("--- %s:%d-%d ---\n", rc.Chunk.SourceFile, rc.Chunk.StartLine, rc.Chunk.EndLine)
		if b.Len()+len(header)+len(rc.Chunk.Text)+1 > s.budget && b.Len() > 0 {
			dropped++
			continue
		}
		b.WriteString(header)
		b.WriteString(rc.Chunk.Text)
		if !strings.HasSuffix(rc.Chunk.Text, "\n") {
			b.WriteByte('\n')
		}
		included[rc.Chunk.SourceFile] = true
	}
	if dropped > 0 {
		s.logger.Debug("context budget dropped chunks",
			zap.Int("dropped", dropped),
			zap.Int("kept", len(retrieved)-dropped))
	}
	return b.String(), included
}

var citationPattern = regexp.MustCompile(`([\w][\w./-]*?):(\d+)-(\d+)`)

// splitSources separates a trailing "Sources:" block from the answer body
// and parses its citations. Citations naming files outside the supplied
// context are discarded.
func splitSources(reply string, included map[string]bool) (string, []models.CitedSource) {
	idx := strings.LastIndex(reply, "Sources:")
	if idx < 0 {
		return strings.TrimSpace(reply), nil
	}
	// The marker must start its line, otherwise it is part of the prose.
	if idx > 0 && reply[idx-1] != '\n' {
		return strings.TrimSpace(reply), nil
	}
	body := strings.TrimSpace(reply[:idx])
	block := reply[idx+len("Sources:"):]

	var sources []models.CitedSource
	seen := make(map[string]bool)
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*"))
		if line == "" {
			continue
		}
		if m := citationPattern.FindStringSubmatch(line); m != nil && included[m[1]] {
			if seen[m[0]] {
				continue
			}
			seen[m[0]] = true
			start, _ := strconv.Atoi(m[2])
			end, _ := strconv.Atoi(m[3])
			sources = append(sources, models.CitedSource{Path: m[1], StartLine: start, EndLine: end})
			continue
		}
		if included[line] && !seen[line] {
			seen[line] = true
			sources = append(sources, models.CitedSource{Path: line})
		}
	}
	return body, sources
}

// citationsInText falls back to scanning the answer body for inline
// path:start-end references that match the supplied context.
func citationsInText(text string, included map[string]bool) []models.CitedSource {
	var sources []models.CitedSource
	seen := make(map[string]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		if !included[m[1]] || seen[m[0]] {
			continue
		}
		seen[m[0]] = true
		start, _ := strconv.Atoi(m[2])
		end, _ := strconv.Atoi(m[3])
		sources = append(sources, models.CitedSource{Path: m[1], StartLine: start, EndLine: end})
	}
	return sources
}
