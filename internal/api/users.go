package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/studio-core/internal/broadcast"
)

// handleGetTallies returns the current combined tally vector.
func (s *Server) handleGetTallies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tallies": s.broadcast.Tallies()})
}

// handleListUsers returns the roster with each user's current tally status.
func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	users := s.broadcast.Users()
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

// handleUpdateUser changes a user's intercom state or camera assignment.
// Omitted fields are left alone.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	username := pathParam(r, "username")

	var update broadcast.UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if update.CamNumber != nil && *update.CamNumber < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "camNumber must not be negative")
		return
	}

	u, ok := s.broadcast.UpdateUser(username, update)
	if !ok {
		writeNotFound(w, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}
