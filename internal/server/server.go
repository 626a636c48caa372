package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/transitwatch/internal/app"
	"github.com/ternarybob/transitwatch/internal/handlers"
)

// Server manages the HTTP server and routes
type Server struct {
	app    *app.App
	router *http.ServeMux
	server *http.Server

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// New creates a new HTTP server with the given app
func New(application *app.App) *Server {
	s := &Server{
		app: application,
	}

	// Setup routes
	s.router = s.setupRoutes()

	// WriteTimeout stays zero: websocket connections are long lived
	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.withMiddleware(s.router),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// SetShutdownChannel sets the channel closed when shutdown is requested over HTTP
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}

// ShutdownHandler handles POST /api/shutdown
func (s *Server) ShutdownHandler(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, "POST") {
		return
	}
	if s.shutdownChan == nil {
		handlers.WriteError(w, http.StatusNotImplemented, "Shutdown endpoint not enabled")
		return
	}

	s.app.Logger.Info().Str("remote", r.RemoteAddr).Msg("Shutdown requested via HTTP")
	handlers.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "shutting_down",
		"message": "Server is shutting down",
	})

	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
