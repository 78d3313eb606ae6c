// Package server exposes the engine over a small HTTP control API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ftahirops/xmem/engine"
	"github.com/ftahirops/xmem/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server is the xmem HTTP API server.
type Server struct {
	eng     *engine.Engine
	sched   *engine.Scheduler
	db      *store.DB
	log     *zap.Logger
	router  chi.Router
	version string
	started time.Time
}

// Config wires the server's collaborators. Scheduler and DB are optional.
type Config struct {
	Engine    *engine.Engine
	Scheduler *engine.Scheduler
	DB        *store.DB
	Logger    *zap.Logger
	Version   string
}

// New creates a new Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		eng:     cfg.Engine,
		sched:   cfg.Scheduler,
		db:      cfg.DB,
		log:     cfg.Logger.Named("http"),
		version: cfg.Version,
		started: time.Now(),
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
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/predictions", s.handlePredictions)
		r.Get("/leaks", s.handleLeaks)
		r.Get("/analysis", s.handleAnalysis)
		r.Get("/runs", s.handleRuns)
		r.Get("/episodes", s.handleEpisodes)
		r.Post("/optimize", s.handleOptimize)
		r.Post("/apps/{appID}/prioritize", s.handlePrioritize)
	})
	r.Method(http.MethodGet, "/metrics", s.eng.Metrics().Handler())

	s.router = r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
	}
	if s.db != nil {
		resp["db"] = s.db.PingContext(r.Context()) == nil
		resp["db_path"] = s.db.Path
	}
	if s.sched != nil {
		resp["scheduler"] = s.sched.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
