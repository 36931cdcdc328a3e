package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smarthome-bridge/internal/metrics"
	"github.com/nerrad567/smarthome-bridge/internal/remote"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrKindMethodNotAllowed, "")
	})

	// Prometheus exposition
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Readings (dashboard table) and device ingest
		r.Get("/", s.handleListReadings)
		r.Post("/", s.handleIngest)

		r.Get("/telemetry/latest", s.handleLatest)
		for _, sensor := range remote.Sensors {
			r.Get("/"+sensor, s.handleSensor(sensor))
		}

		// Desired actuator state, polled by firmware
		r.Get("/control", s.handleGetControl)
		r.Post("/control", s.handleSetControl)

		// Local registry, never proxied
		r.Get("/devices", s.handleListDevices)
		r.Post("/devices", s.handleRegisterDevice)
		r.Get("/devices/{name}", s.handleGetDevice)
		r.Get("/homes", s.handleListHomes)
		r.Post("/homes", s.handleCreateHome)
		r.Get("/metrics/summary", s.handleSummary)

		r.Get("/system", s.handleSystem)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
		"mode":    s.Mode(),
	})
}
