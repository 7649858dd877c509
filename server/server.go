// Package server exposes the workflow controller and session memory over
// HTTP.
package server

import (
	"context"
	"sync"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/ElderMedic/FAIRiAgent-sub001/engine"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Server hosts the HTTP API. Asynchronous sessions run on a context owned by
// the server so they outlive the request that started them.
type Server struct {
	app        *fiber.App
	controller *engine.Controller
	memory     fairiagent.MemoryService
	gatherer   prometheus.Gatherer
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer sets the registry served on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a server for the controller. Memory endpoints use the
// controller's guarded memory service.
func New(controller *engine.Controller, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		controller: controller,
		memory:     controller.Memory(),
		gatherer:   prometheus.DefaultGatherer,
		logger:     zerolog.Nop(),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName: "fairiagent",
	})
	s.app.Use(recoverer.New())
	s.registerRoutes()
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP on addr until Shutdown is called
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("address", addr).Msg("Starting HTTP server")
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops background sessions at their next stage boundary, waits
// for them, then stops the HTTP listener. Stopped sessions can be resumed.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info().Msg("Shutting down server")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn().Dur("timeout", timeout).Msg("Background sessions still running at shutdown")
	}

	return s.app.ShutdownWithTimeout(timeout)
}

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.app.Group("/api/v1")

	sessions := v1.Group("/sessions")
	sessions.Get("/", s.handleListSessions)
	sessions.Post("/", s.handleStartSession)
	sessions.Get("/:id", s.handleGetSession)
	sessions.Post("/:id/resume", s.handleResumeSession)
	sessions.Post("/:id/cancel", s.handleCancelSession)

	mem := v1.Group("/memory")
	mem.Get("/:session", s.handleSearchMemory)
	mem.Post("/:session", s.handleAddMemory)
	mem.Delete("/:session", s.handleClearMemory)
}

// background runs fn on the server context
func (s *Server) background(sessionID string, fn func(ctx context.Context) (*fairiagent.Result, error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result, err := fn(s.ctx)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("session_id", sessionID).
				Str("code", fairiagent.ErrorCode(err)).
				Msg("Background session ended with error")
			return
		}
		s.logger.Info().
			Str("session_id", sessionID).
			Str("status", result.Status.String()).
			Msg("Background session finished")
	}()
}
