package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"moodcam/internal/auth"
	"moodcam/internal/middleware"
	"moodcam/internal/pipeline"
)

// HealthChecker reports whether the detector service can take requests
type HealthChecker interface {
	Name() string
	CheckHealth(ctx context.Context) error
}

// Camera describes a configured camera for the control API
type Camera struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Device string `json:"device"`
}

// Options wires the server to the rest of the process. Nil handlers are not mounted.
type Options struct {
	Manager       *pipeline.PipelineManager
	Cameras       []Camera
	Stats         *pipeline.EmotionStats
	History       pipeline.HistoryStore
	Detector      HealthChecker
	Authenticator *auth.Authenticator
	Metrics       http.Handler
	Video         http.Handler // /video/{id}
	Snapshots     http.Handler // /video/snapshot/{id}
	Annotations   http.Handler // /ws/annotations/{id}
	Logger        *slog.Logger
}

// Server is the HTTP control surface
type Server struct {
	manager       *pipeline.PipelineManager
	cameras       map[string]Camera
	stats         *pipeline.EmotionStats
	history       pipeline.HistoryStore
	detector      HealthChecker
	authenticator *auth.Authenticator
	metrics       http.Handler
	video         http.Handler
	snapshots     http.Handler
	annotations   http.Handler
	logger        *slog.Logger
}

// NewServer creates a control API server
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authenticator := opts.Authenticator
	if authenticator == nil {
		authenticator, _ = auth.NewAuthenticator(auth.Config{})
	}

	cameras := make(map[string]Camera, len(opts.Cameras))
	for _, c := range opts.Cameras {
		cameras[c.ID] = c
	}

	return &Server{
		manager:       opts.Manager,
		cameras:       cameras,
		stats:         opts.Stats,
		history:       opts.History,
		detector:      opts.Detector,
		authenticator: authenticator,
		metrics:       opts.Metrics,
		video:         opts.Video,
		snapshots:     opts.Snapshots,
		annotations:   opts.Annotations,
		logger:        logger.With("component", "api"),
	}
}

// Router builds the chi router with every route mounted
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(s.logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Post("/api/auth/login", s.login)
	r.Get("/api/auth/status", s.authStatus)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(s.authenticator))

		r.Route("/api/cameras", func(r chi.Router) {
			r.Get("/", s.listCameras)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getCamera)
				r.Post("/start", s.startCamera)
				r.Post("/stop", s.stopCamera)
				r.Post("/rearm", s.rearmCamera)
				r.Put("/surface", s.resizeSurface)
				r.Get("/stats", s.getStats)
				r.Post("/stats/reset", s.resetStats)
			})
		})
		r.Get("/api/history", s.listHistory)

		if s.snapshots != nil {
			r.Method(http.MethodGet, "/video/snapshot/{id}", s.snapshots)
		}
		if s.video != nil {
			r.Method(http.MethodGet, "/video/{id}", s.video)
		}
		if s.annotations != nil {
			r.Method(http.MethodGet, "/ws/annotations/{id}", s.annotations)
		}
	})

	return r
}

func (s *Server) cameraIDs() []string {
	ids := make([]string, 0, len(s.cameras))
	for id := range s.cameras {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
