package inspect

import (
	"net/http"

	"taskgrid/internal/runtime"
	"taskgrid/internal/trace"
)

// statsResponse is the JSON response for GET /v1/stats. It pairs the
// runtime's in-memory counters with the persisted trace totals.
type statsResponse struct {
	Runtime runtime.Stats `json:"runtime"`
	Trace   *trace.Stats  `json:"trace"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	traceStats, err := s.rec.Stats(r.Context())
	if err != nil {
		s.logger.Error("get trace stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Runtime: s.rt.Stats(),
		Trace:   traceStats,
	})
}
