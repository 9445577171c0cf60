package inspect

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"taskgrid/internal/trace"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listLaunchesResponse wraps the paginated list response.
type listLaunchesResponse struct {
	Launches []*trace.Launch `json:"launches"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

func (s *Server) handleListLaunches(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	launches, total, err := s.rec.Launches(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list launches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list launches")
		return
	}

	if launches == nil {
		launches = []*trace.Launch{}
	}

	s.writeJSON(w, http.StatusOK, listLaunchesResponse{
		Launches: launches,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (s *Server) handleGetLaunch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	launch, err := s.rec.GetLaunch(r.Context(), id)
	if errors.Is(err, trace.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "launch not found")
		return
	}
	if err != nil {
		s.logger.Error("get launch", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get launch")
		return
	}

	s.writeJSON(w, http.StatusOK, launch)
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
