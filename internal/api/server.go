package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docquery/internal/config"
	"github.com/dgallion1/docquery/internal/index"
	"github.com/dgallion1/docquery/internal/llm"
	"github.com/dgallion1/docquery/internal/pipeline"
)

// Engine is the question-answering backend the server exposes.
// *engine.Engine satisfies it.
type Engine interface {
	pipeline.Querier
	Index() *index.ChunkIndex
	Stats() *llm.Stats
	Generator() string
}

// Server is the HTTP API server for docquery.
type Server struct {
	router       chi.Router
	engine       Engine
	orchestrator *pipeline.Orchestrator
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(eng Engine, orch *pipeline.Orchestrator, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		engine:       eng,
		orchestrator: orch,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/query", s.handleQuery)
		r.Post("/api/batch", s.handleBatch)
		r.Get("/api/batch/{jobID}", s.handleBatchStatus)
		r.Get("/api/index", s.handleIndex)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"document":  s.engine.Index().DocumentName,
		"segments":  s.engine.Index().TotalSegments,
		"generator": s.engine.Generator(),
	})
}
