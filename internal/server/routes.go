package server

import (
	"net/http"

	"github.com/ternarybob/transitwatch/internal/metrics"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Arrivals (cache reads only)
	mux.HandleFunc("/api/arrivals", s.app.ArrivalHandler.ListHandler)
	mux.HandleFunc("/api/arrivals/", s.app.ArrivalHandler.GetHandler) // GET /{id}
	mux.HandleFunc("/api/bustimes", s.app.ArrivalHandler.LegacyHandler)

	// API routes - Targets
	mux.HandleFunc("/api/targets", s.handleTargetsRoute) // GET (list), PUT (replace)

	// API routes - Worker
	mux.HandleFunc("/api/worker", s.app.WorkerHandler.StatusHandler)
	mux.HandleFunc("/api/worker/relaunch", s.app.WorkerHandler.RelaunchHandler)
	mux.HandleFunc("/api/worker/recycle", s.app.WorkerHandler.RecycleHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/config", s.app.ConfigHandler.GetConfig)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler)
	mux.Handle("/metrics", metrics.Handler())

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleTargetsRoute routes /api/targets requests
func (s *Server) handleTargetsRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		"GET": s.app.TargetHandler.ListHandler,
		"PUT": s.app.TargetHandler.ReplaceHandler,
	})
}
