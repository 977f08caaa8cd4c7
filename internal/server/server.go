// Package server provides the HTTP read layer over orchestrator state:
// worker listings, log tails, the live console and health endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantflow/stratd/internal/auth"
	"github.com/quantflow/stratd/internal/domain"
	"github.com/quantflow/stratd/internal/orchestrator"
)

// Supervisor is the orchestrator surface the handlers read. Everything is a
// snapshot; the server never mutates worker state.
type Supervisor interface {
	GetStatus() orchestrator.Status
	Worker(key domain.WorkerKey) (domain.Worker, bool)
	ConfigFor(key domain.WorkerKey) (domain.StrategyConfig, bool)
	Workers() map[domain.WorkerKey]domain.Worker
}

// Config holds server configuration.
type Config struct {
	Log        zerolog.Logger
	Port       int
	Supervisor Supervisor
	Auth       *auth.Filter

	// PublicHost rewrites stream URLs so clients outside the host's network
	// get a reachable address. Empty disables rewriting.
	PublicHost string

	// LogRoot is where per-worker log files live, for the tail endpoint.
	LogRoot string
}

// Server represents the HTTP server.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	sup        Supervisor
	auth       *auth.Filter
	publicHost string
	logRoot    string
	startedAt  time.Time
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		sup:        cfg.Supervisor,
		auth:       cfg.Auth,
		publicHost: cfg.PublicHost,
		logRoot:    cfg.LogRoot,
		startedAt:  time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes. Worker endpoints sit behind the auth
// middleware; health and status are open.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)

	s.router.Route("/api/workers", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/", s.handleListWorkers)
		r.Get("/console", s.handleConsole)
		r.Get("/{key}", s.handleGetWorker)
		r.Get("/{key}/logs", s.handleWorkerLogs)
	})
}

// Start begins serving in the calling goroutine; it returns on Shutdown or
// on a listener failure.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}
