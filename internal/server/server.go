package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/gomint/internal/logging"
	"github.com/me/gomint/internal/resource"
	"github.com/me/gomint/internal/store"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Config holds status API configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8090".
	Addr string
	// Experiment selects the job and hypers records served.
	Experiment string
}

// Server is the read-only experiment status API.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    Config
	startTime time.Time
	store     store.Store
	resources []resource.Resource
}

// New creates a new Server with all routes registered.
func New(cfg Config, st store.Store, resources []resource.Resource, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logging.Component(logger, "server"),
		config:    cfg,
		startTime: time.Now(),
		store:     st,
		resources: resources,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
		})

		r.Get("/resources", s.handleListResources)
		r.Get("/hypers", s.handleGetHypers)
	})
}
