package inspect

import (
	"net/http"

	"taskgrid/internal/coll"
)

// registryGroups is one registry's slice of the GET /v1/groups response.
type registryGroups struct {
	Name   string           `json:"name"`
	Groups []coll.GroupInfo `json:"groups"`
}

func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	out := make([]registryGroups, 0, len(s.registries))
	for _, reg := range s.registries {
		groups := reg.Live()
		if groups == nil {
			groups = []coll.GroupInfo{}
		}
		out = append(out, registryGroups{Name: reg.Name(), Groups: groups})
	}
	s.writeJSON(w, http.StatusOK, out)
}
