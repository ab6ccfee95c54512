package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	GoVersion  string `json:"go_version"`
	Uptime     string `json:"uptime"`
	Experiment string `json:"experiment"`
	Store      string `json:"store"`
	Resources  int    `json:"resources"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	status, storeStatus := "healthy", "ok"
	if _, err := s.store.LoadHypers(r.Context(), s.config.Experiment); err != nil {
		s.logger.Warn("store health check failed", "error", err)
		status, storeStatus = "degraded", "unreachable"
	}

	respondOK(w, reqID, healthResponse{
		Status:     status,
		Version:    Version,
		GoVersion:  runtime.Version(),
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		Experiment: s.config.Experiment,
		Store:      storeStatus,
		Resources:  len(s.resources),
	})
}
