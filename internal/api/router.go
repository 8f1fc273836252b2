package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metricsCfg.Enabled && s.gatherer != nil {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystemMetrics)
		r.Post("/query", s.handleQuery)

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.handleListNodes)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetNode)
				r.Post("/command", s.handleNodeCommand)
				r.Get("/history", s.handleNodeHistory)
				r.Get("/commands", s.handleNodeCommands)
			})
		})

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports API, appliance and transport status.
// It answers 503 while the appliance is degraded.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.status.Health()

	status := http.StatusOK
	if health.Status == autelis.HealthDegraded || health.Status == autelis.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}

	resp := map[string]any{
		"status":    health.Status,
		"version":   s.version,
		"appliance": health,
		"nodes":     s.status.NodeCount(),
		"clients":   s.hub.ClientCount(),
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, status, resp)
}

// handleQuery asks the engine to republish every node on its next poll.
func (s *Server) handleQuery(w http.ResponseWriter, _ *http.Request) {
	s.status.RequestFullReport()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}
