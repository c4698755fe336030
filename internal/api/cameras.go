package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"moodcam/internal/pipeline"
)

// CameraInfo is a camera with its pipeline state
type CameraInfo struct {
	Camera
	pipeline.PipelineInfo
}

type surfaceRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s *Server) cameraInfo(id string) (*CameraInfo, error) {
	p, err := s.manager.Get(id)
	if err != nil {
		return nil, err
	}
	cam, ok := s.cameras[id]
	if !ok {
		cam = Camera{ID: id, Name: id}
	}
	return &CameraInfo{Camera: cam, PipelineInfo: p.Info()}, nil
}

// listCameras returns all configured cameras with their pipeline state
func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	ids := s.cameraIDs()
	if len(ids) == 0 {
		for _, p := range s.manager.List() {
			ids = append(ids, p.CameraID())
		}
	}

	result := make([]*CameraInfo, 0, len(ids))
	for _, id := range ids {
		info, err := s.cameraInfo(id)
		if err != nil {
			continue
		}
		result = append(result, info)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getCamera(w http.ResponseWriter, r *http.Request) {
	info, err := s.cameraInfo(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// startCamera begins acquisition. Readiness is awaited in the background, so the
// response reports the starting state.
func (s *Server) startCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Start(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.respondInfo(w, id, http.StatusAccepted)
}

func (s *Server) stopCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Stop(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.respondInfo(w, id, http.StatusOK)
}

func (s *Server) rearmCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Rearm(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.respondInfo(w, id, http.StatusOK)
}

func (s *Server) resizeSurface(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req surfaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := s.manager.Get(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if err := s.manager.Resize(id, req.Width, req.Height); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondInfo(w, id, http.StatusOK)
}

func (s *Server) respondInfo(w http.ResponseWriter, id string, status int) {
	info, err := s.cameraInfo(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, status, info)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.manager.Get(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if s.stats == nil {
		writeError(w, http.StatusNotImplemented, "statistics are not collected")
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Snapshot(id))
}

func (s *Server) resetStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.manager.Get(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if s.stats == nil {
		writeError(w, http.StatusNotImplemented, "statistics are not collected")
		return
	}
	s.stats.Reset(id)
	s.logger.Info("statistics reset", "camera", id)
	writeJSON(w, http.StatusOK, s.stats.Snapshot(id))
}
