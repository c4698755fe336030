package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"moodcam/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type authStatusResponse struct {
	Enabled       bool   `json:"enabled"`
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
}

// login exchanges credentials for a JWT
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := s.authenticator.Authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		writeError(w, http.StatusBadRequest, "authentication is disabled")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.logger.Warn("failed login", "username", req.Username, "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

// authStatus tells a client whether it needs to log in, and whether its token is still good
func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	resp := authStatusResponse{Enabled: s.authenticator.IsEnabled()}

	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if claims, err := s.authenticator.ValidateToken(strings.TrimPrefix(header, "Bearer ")); err == nil {
			resp.Authenticated = true
			resp.Username = claims.Username
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
