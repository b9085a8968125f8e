// Package api exposes the engine's commands, snapshot and notifications
// over HTTP for the graphical front-ends.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SirClappington/orderbots/internal/engine"
)

// Server is the orderbots REST API.
type Server struct {
	router        chi.Router
	engine        *engine.Engine
	logger        *zap.Logger
	startTime     time.Time
	settleTimeout time.Duration
	streamBuffer  int
	heartbeat     time.Duration
}

// Option configures optional Server settings.
type Option func(*Server)

// WithSettleTimeout sets the wait used by /v1/settle when the request
// gives none.
func WithSettleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.settleTimeout = d
		}
	}
}

// WithStreamBuffer sets the per-client notification buffer of /v1/events.
func WithStreamBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.streamBuffer = n
		}
	}
}

// WithHeartbeat sets how often idle event streams get a keep-alive comment.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// New creates a Server with all routes registered.
func New(e *engine.Engine, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		engine:        e,
		logger:        logger.With(zap.String("component", "api")),
		startTime:     time.Now(),
		settleTimeout: engine.DefaultSettleTimeout,
		streamBuffer:  64,
		heartbeat:     15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(withRequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/workers", s.handleAddWorker)
		r.Delete("/workers", s.handleRemoveWorker)
		r.Post("/jobs", s.handleAddJob)
		r.Post("/settle", s.handleSettle)
		r.Get("/events", s.handleEvents)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}
