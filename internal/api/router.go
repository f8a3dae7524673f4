package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metricsHandler != nil {
		r.Handle(s.metricsPath, s.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/hosts", s.handleListHosts)

		r.Route("/fields/{moniker}/{field}", func(r chi.Router) {
			r.Get("/", s.handleReadField)
			r.Put("/", s.handleWriteField)
			r.Get("/info", s.handleFieldInfo)
		})

		r.Get("/drivers/{moniker}/state", s.handleDriverState)

		if s.directory != nil {
			r.Route("/directory", func(r chi.Router) {
				r.Get("/", s.handleListDirectory)
				r.Put("/{moniker}", s.handleSetDirectoryEntry)
				r.Delete("/{moniker}", s.handleDeleteDirectoryEntry)
			})
		}

		if s.audit != nil {
			r.Get("/audit", s.handleListAudit)
		}

		wsPath := strings.TrimPrefix(s.wsCfg.Path, "/api/v1")
		if wsPath == "" {
			wsPath = "/ws"
		}
		r.Get(wsPath, s.handleWebSocket)
	})

	return r
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Engine        string            `json:"engine"`
	Components    map[string]string `json:"components,omitempty"`
}

// handleHealth reports engine and component health. A stopped engine
// answers 503; a failing component degrades the status but still answers
// 200 so the poller stays in service while, say, InfluxDB is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Engine:        "running",
	}

	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := check.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	status := http.StatusOK
	if !s.engine.IsRunning() {
		resp.Engine = "stopped"
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleListHosts returns a snapshot of every host the engine tracks,
// ordered by address.
func (s *Server) handleListHosts(w http.ResponseWriter, _ *http.Request) {
	hosts := s.engine.Hosts()
	slices.SortFunc(hosts, func(a, b pollengine.HostInfo) int {
		return strings.Compare(a.Host, b.Host)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"hosts": hosts,
		"count": len(hosts),
	})
}
