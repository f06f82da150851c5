package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lazypower/secondbrain/internal/config"
	"github.com/lazypower/secondbrain/internal/engine"
	"github.com/lazypower/secondbrain/internal/metrics"
	"github.com/lazypower/secondbrain/internal/store"
)

// Services are the engine components the API exposes.
type Services struct {
	DB       *store.DB
	Heat     *engine.HeatService
	Ranking  *engine.RankingService
	Dedup    *engine.DeduplicationService
	Recorder *engine.Recorder
}

// Server is the secondbrain HTTP API server.
type Server struct {
	svc      Services
	cfg      config.Config
	logger   *zap.Logger
	metrics  *metrics.Manager
	validate *validator.Validate
	router   chi.Router
	version  string
	started  time.Time
}

// New creates a new Server. logger and m may be nil.
func New(svc Services, cfg config.Config, version string, logger *zap.Logger, m *metrics.Manager) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NoOpManager()
	}
	s := &Server{
		svc:      svc,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		validate: validator.New(),
		version:  version,
		started:  time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(recordMetrics(s.metrics))

	if s.cfg.Metrics.Enabled && s.cfg.Metrics.Path != "" {
		r.Handle(s.cfg.Metrics.Path, s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if s.cfg.Server.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
		}

		r.Get("/health", s.handleHealth)

		r.Post("/records", s.handleCreateRecord)
		r.Get("/records/{id}", s.handleGetRecord)
		r.Get("/records/{id}/vector", s.handleGetVector)
		r.Delete("/records/{id}", s.handleDeleteRecord)
		r.Post("/records/{id}/pin", s.handlePin)
		r.Delete("/records/{id}/pin", s.handleUnpin)
		r.Post("/records/{id}/boost", s.handleBoost)

		r.Get("/search", s.handleSearch)

		r.Get("/heat/hot", s.handleHot)
		r.Get("/heat/cold", s.handleCold)
		r.Get("/heat/stats", s.handleStats)
		r.Post("/heat/decay", s.handleDecay)
		r.Post("/heat/boost-related", s.handleBoostRelated)

		r.Get("/duplicates", s.handleDuplicates)
		r.Post("/dedup", s.handleDedup)
		r.Post("/merge", s.handleMerge)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := s.svc.DB.PingContext(ctx) == nil
	count, _ := s.svc.DB.Count(ctx)
	missing, _ := s.svc.DB.CountMissingVectors(ctx)
	schema, _ := s.svc.DB.SchemaVersion()

	embedder := "none"
	if s.svc.Ranking != nil && s.svc.Ranking.HasEmbedder() {
		embedder = s.svc.Ranking.EmbedderModel()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         s.version,
		"uptime":          time.Since(s.started).Seconds(),
		"db":              dbOK,
		"db_path":         s.svc.DB.Path,
		"records":         count,
		"missing_vectors": missing,
		"schema_version":  schema,
		"embedder":        embedder,
	})
}
