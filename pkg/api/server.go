// Package api exposes the catalog over HTTP for the desktop UI and for
// catalogctl.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sketchpacks/plugin-catalog/pkg/cache"
	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
	"github.com/sketchpacks/plugin-catalog/pkg/lifecycle"
)

// Server holds the collaborators behind the HTTP handlers.
type Server struct {
	store    *catalog.Store
	engine   *catalog.Engine
	locks    *catalog.LockToggle
	recorder *lifecycle.Recorder
	cache    *cache.Manager
	outcomes chan<- lifecycle.Outcome
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCache serves view listings and single records through m. A nil
// manager disables caching.
func WithCache(m *cache.Manager) Option {
	return func(s *Server) {
		s.cache = m
	}
}

// WithOutcomes hands lifecycle events to ch instead of applying them inside
// the request. The receiver is expected to run a lifecycle.Recorder.
func WithOutcomes(ch chan<- lifecycle.Outcome) Option {
	return func(s *Server) {
		s.outcomes = ch
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates the API server.
func NewServer(store *catalog.Store, engine *catalog.Engine, opts ...Option) *Server {
	s := &Server{
		store:  store,
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.locks = catalog.NewLockToggle(store, s.logger)
	s.recorder = lifecycle.NewRecorder(store, s.logger)
	return s
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Cache-Control"},
		ExposedHeaders:   []string{"X-Cache"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.cache.ViewsMiddleware()).Get("/plugins", s.listPluginsHandler)
		r.With(s.cache.RecordsMiddleware()).Get("/plugins/{id}", s.getPluginHandler)
		r.Post("/plugins/{id}/lock", s.toggleLockHandler)
		r.Put("/plugins/{id}/installation", s.installSucceededHandler)
		r.Delete("/plugins/{id}/installation", s.installRemovedHandler)
		r.Post("/lifecycle/events", s.lifecycleEventHandler)

		r.Get("/updates", s.updatesHandler)

		r.Post("/sync", s.syncHandler)
		r.Get("/sync/status", s.syncStatusHandler)
	})

	return r
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.Routes()
}
