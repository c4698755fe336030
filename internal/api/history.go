package api

import (
	"net/http"
	"strconv"

	"moodcam/internal/pipeline"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// listHistory returns stored detection sessions, newest first
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "session history is not stored")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	sessions, err := s.history.ListSessions(r.Context(), r.URL.Query().Get("camera_id"), limit)
	if err != nil {
		s.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*pipeline.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, sessions)
}
