package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// handleHealthz reports liveness. The store is probed with a cheap query so a
// wedged database surfaces here instead of on the first run submission.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if _, err := s.store.GetRunStats(ctx); err != nil {
		s.logger.Error("health check store probe", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Service: "faultline"})
		return
	}

	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Service: "faultline"})
}
