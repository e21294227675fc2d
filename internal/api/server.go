// Package api provides the HTTP API of the research engine.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service/research"
)

// Researcher starts and resumes research runs and rebuilds reports of
// finished ones.
type Researcher interface {
	Run(ctx context.Context, query string) (*research.Result, error)
	Resume(ctx context.Context, ref string) (*research.Result, error)
	Regenerate(ctx context.Context, runID string) (*research.Result, error)
}

// Checkpoints lists persisted run checkpoints.
type Checkpoints interface {
	List(ctx context.Context, runID string) ([]*core.Checkpoint, error)
	Runs(ctx context.Context) ([]string, error)
}

// Server provides the HTTP endpoints for research runs.
type Server struct {
	router      chi.Router
	researcher  Researcher
	checkpoints Checkpoints
	evidence    research.EvidenceOpener
	eventBus    *events.EventBus
	logger      *logging.Logger
	origins     []string
	timeout     time.Duration
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCheckpoints enables the checkpoint listing endpoints.
func WithCheckpoints(c Checkpoints) ServerOption {
	return func(s *Server) {
		s.checkpoints = c
	}
}

// WithEvidence enables the source listing endpoint.
func WithEvidence(open research.EvidenceOpener) ServerOption {
	return func(s *Server) {
		s.evidence = open
	}
}

// WithEventBus enables the event stream.
func WithEventBus(bus *events.EventBus) ServerOption {
	return func(s *Server) {
		s.eventBus = bus
	}
}

// WithCORSOrigins sets the allowed CORS origins. Defaults to any origin.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithoutCORS disables the CORS middleware.
func WithoutCORS() ServerOption {
	return func(s *Server) {
		s.origins = nil
	}
}

// WithRequestTimeout bounds the short read endpoints. Research and resume
// requests run until the run finishes.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewServer creates a new API server.
func NewServer(researcher Researcher, opts ...ServerOption) *Server {
	s := &Server{
		researcher: researcher,
		logger:     logging.NewNop(),
		origins:    []string{"*"},
		timeout:    60 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	if len(s.origins) > 0 {
		corsHandler := cors.New(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
			AllowCredentials: false,
			MaxAge:           300,
		})
		r.Use(corsHandler.Handler)
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		// Long-running: no request timeout.
		r.Post("/research", s.handleResearch)
		r.Post("/runs/{runID}/resume", s.handleResume)
		r.Post("/runs/{runID}/report", s.handleRegenerate)
		r.Get("/events", s.handleSSE)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.timeout))
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{runID}/checkpoints", s.handleListCheckpoints)
			r.Get("/runs/{runID}/sources", s.handleListSources)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("failed to encode response", "error", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
