package main

import (
	"encoding/json"
	"net/http"

	"waroom/internal/metrics"
)

// handleMetrics serves a JSON snapshot of the in-process registry. The
// payload is regenerated per request, so caches must stay out of the way.
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(metrics.GetAllMetrics()); err != nil {
			s.logger.WithError(err).Error("Failed to encode metrics snapshot")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
