package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// basePath prefixes every route and resource link.
const basePath = "/api/v1"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route(basePath, func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/connectors", func(r chi.Router) {
			r.Get("/", s.handleListConnectors)
			r.Post("/", s.handleCreateConnector)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetConnector)
				r.Patch("/", s.handleUpdateConnector)
				r.Get("/devices", s.handleListConnectorDevices)
				r.Post("/discover", s.handleDiscover)
			})
		})

		r.Route("/devices/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetDevice)
			r.Delete("/", s.handleDeleteDevice)
			r.Put("/properties/{property}", s.handleWriteProperty)
		})

		r.Get(s.wsPath, s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status and, for every connector
// with a runtime, whether it is running or pairing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connectors, err := s.registry.ListConnectors(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "degraded",
			"version": s.version,
			"reason":  "device store unavailable",
		})
		return
	}

	runtimes := make(map[string]string, len(connectors))
	for _, c := range connectors {
		rt, ok := s.runtimes.Get(c.ID)
		switch {
		case !ok:
			runtimes[c.ID] = "detached"
		case rt.IsStopped():
			runtimes[c.ID] = "stopped"
		case rt.IsPairing():
			runtimes[c.ID] = "pairing"
		default:
			runtimes[c.ID] = "running"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"connectors":        runtimes,
		"websocket_clients": s.hub.ClientCount(),
	})
}
