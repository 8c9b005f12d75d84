package knowledge

import (
	"context"

	"go.uber.org/zap"

	"github.com/kaiseki/kaiseki/internal/graph"
	"github.com/kaiseki/kaiseki/internal/models"
	"github.com/kaiseki/kaiseki/internal/rag"
	"github.com/kaiseki/kaiseki/internal/search"
)

// Service is the top-level API: ingest repositories, answer questions about
// them, and expose their dependency graphs.
type Service struct {
	registry    *Registry
	retriever   *search.Retriever
	synthesizer *rag.Synthesizer
	logger      *zap.Logger
}

// NewService wires the registry, retriever and synthesizer together.
func NewService(registry *Registry, retriever *search.Retriever, synthesizer *rag.Synthesizer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry:    registry,
		retriever:   retriever,
		synthesizer: synthesizer,
		logger:      logger,
	}
}

// Ingest parses, chunks, embeds and publishes the repository identified by
// fingerprint.
func (s *Service) Ingest(ctx context.Context, fingerprint, raw string) (*models.IngestResult, error) {
	return s.registry.Ingest(ctx, fingerprint, raw)
}

// Query answers a natural-language question about an indexed repository.
// Only the snapshot for the given fingerprint is consulted.
func (s *Service) Query(ctx context.Context, fingerprint, question string, topK int) (*models.Answer, error) {
	snap, err := s.registry.Get(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	retrieved, err := s.retriever.Retrieve(ctx, snap.Index, snap.ChunkTable(), question, topK)
	if err != nil {
		return nil, err
	}
	answer, err := s.synthesizer.Answer(ctx, question, retrieved)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("query answered",
		zap.String("fingerprint", fingerprint),
		zap.Int("retrieved", len(retrieved)),
		zap.Float64("confidence", answer.Confidence))
	return answer, nil
}

// Graph returns the dependency graph projection for an indexed repository.
func (s *Service) Graph(ctx context.Context, fingerprint string) (*models.Graph, error) {
	snap, err := s.registry.Get(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	return graph.Build(snap.Tree, snap.Files, snap.Dependencies), nil
}

// Status reports the lifecycle state of a fingerprint's index.
func (s *Service) Status(ctx context.Context, fingerprint string) *models.StatusInfo {
	return s.registry.Status(ctx, fingerprint)
}
