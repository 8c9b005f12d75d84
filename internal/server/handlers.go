package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kaiseki/kaiseki/internal/ingest"
	"github.com/kaiseki/kaiseki/internal/knowledge"
	"github.com/kaiseki/kaiseki/internal/models"
)

type ingestRequest struct {
	RawText string `json:"raw_text"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.RawText == "" {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "raw_text is required")
		return
	}
	s.logger.Debug("ingest request",
		zap.String("fingerprint", fingerprint),
		zap.Int("bytes", len(req.RawText)))

	result, err := s.service.Ingest(r.Context(), fingerprint, req.RawText)
	if err != nil {
		var parseErr *ingest.ParseError
		if errors.As(err, &parseErr) {
			s.respondError(w, http.StatusBadRequest, "parse_error", parseErr.Error())
			return
		}
		s.logger.Error("ingest failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Question == "" {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	answer, err := s.service.Query(r.Context(), fingerprint, req.Question, req.TopK)
	if err != nil {
		s.respondLookupError(w, fingerprint, err)
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	graph, err := s.service.Graph(r.Context(), fingerprint)
	if err != nil {
		s.respondLookupError(w, fingerprint, err)
		return
	}
	s.respondJSON(w, http.StatusOK, graph)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	s.respondJSON(w, http.StatusOK, s.service.Status(r.Context(), fingerprint))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondLookupError maps snapshot lookup and inference failures onto the
// API error contract: 404 not_indexed, 410 evicted, 502 inference_failure.
func (s *Server) respondLookupError(w http.ResponseWriter, fingerprint string, err error) {
	switch {
	case errors.Is(err, knowledge.ErrNotIndexed):
		s.respondError(w, http.StatusNotFound, "not_indexed", "repository is not indexed")
	case errors.Is(err, knowledge.ErrEvicted):
		s.respondError(w, http.StatusGone, "evicted", "repository index was evicted; re-ingest to query again")
	default:
		s.logger.Error("request failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		s.respondError(w, http.StatusBadGateway, "inference_failure", "inference service request failed; retry later")
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, map[string]string{"error": code, "message": message})
}
