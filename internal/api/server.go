// ABOUTME: HTTP server exposing ingest, recommendations, risk, and metrics.
// ABOUTME: Routes are built on chi; every request is logged with zerolog.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/harperreed/coach/internal/ingest"
	"github.com/harperreed/coach/internal/ledger"
	"github.com/harperreed/coach/internal/metrics"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/retention"
	"github.com/rs/zerolog"
)

// Athletes stores athlete profiles.
type Athletes interface {
	UpsertAthlete(ctx context.Context, a *models.Athlete) error
	GetAthlete(ctx context.Context, userID string) (*models.Athlete, error)
}

// Deps are the components the API calls into.
type Deps struct {
	Ledger   *ledger.Ledger
	Pipeline *ingest.Pipeline
	Athletes Athletes
	Sweeper  *retention.Sweeper
	Metrics  *metrics.Registry
	Log      zerolog.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns a local-only listener. The write timeout
// leaves room for a full generation call.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "127.0.0.1:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the coach HTTP API.
type Server struct {
	deps   Deps
	router chi.Router
	server *http.Server
	log    zerolog.Logger
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg ServerConfig, deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  deps.Log.With().Str("component", "api").Logger(),
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogging)

	r.Get("/health", s.health)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/activities", s.ingestActivities)
		r.Post("/activities/{activityID}/rpe", s.setRPE)

		r.Put("/athletes/{userID}", s.putAthlete)
		r.Get("/athletes/{userID}", s.getAthlete)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/observations", s.logObservation)
			r.Post("/recommendations", s.requestRecommendation)
			r.Get("/recommendations/latest", s.latestRecommendation)
			r.Get("/risk", s.riskAssessment)
		})

		r.Post("/admin/prune", s.prune)
		r.Post("/admin/retention", s.sweep)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	return r
}

// requestLogging logs every request with its status and duration.
func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
