package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"moodcam/internal/pipeline"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps pipeline errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrPipelineNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrStartDisabled):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrAcquisition):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
