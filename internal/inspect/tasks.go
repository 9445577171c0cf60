package inspect

import "net/http"

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.rt.Tasks())
}
