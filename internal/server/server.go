// Package server provides the HTTP API for Kaiseki.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kaiseki/kaiseki/internal/config"
	"github.com/kaiseki/kaiseki/internal/knowledge"
)

// Server is the HTTP server for the Kaiseki API.
type Server struct {
	service *knowledge.Service
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(service *knowledge.Service, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		service: service,
		config:  cfg,
		logger:  logger,
	}
}

// Router builds the chi router with all API routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1/repositories/{fingerprint}", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/query", s.handleQuery)
		r.Get("/graph", s.handleGraph)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
