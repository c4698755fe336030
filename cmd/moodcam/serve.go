package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"moodcam/internal/api"
	"moodcam/internal/auth"
	"moodcam/internal/camera"
	"moodcam/internal/clock"
	"moodcam/internal/config"
	"moodcam/internal/database"
	"moodcam/internal/detection"
	"moodcam/internal/emitter"
	"moodcam/internal/metrics"
	"moodcam/internal/overlay"
	"moodcam/internal/pipeline"
	"moodcam/internal/stream"
	"moodcam/internal/telegram"
	"moodcam/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection pipelines and the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// history bundles the session store with the optional sqlite camera registry
type history struct {
	store    pipeline.HistoryStore
	registry *database.Database
	close    func()
}

func openHistory(ctx context.Context, s config.StorageConfig) (*history, error) {
	switch s.Driver {
	case "sqlite":
		db, err := database.New(s.Path, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("session history in sqlite", "path", s.Path)
		return &history{store: db, registry: db, close: func() { db.Close() }}, nil

	case "postgres":
		store, err := database.NewPostgresStore(ctx, s.PostgresURL)
		if err != nil {
			return nil, err
		}
		logger.Info("session history in postgres")
		return &history{store: store, close: store.Close}, nil
	}

	logger.Info("session history disabled")
	return &history{close: func() {}}, nil
}

func runServe(ctx context.Context) error {
	logger.Info("starting moodcam", "version", Version, "cameras", len(cfg.Cameras))

	detector, err := detection.New(cfg.DetectorClientConfig(), logger)
	if err != nil {
		return err
	}
	defer detector.Close()

	hist, err := openHistory(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open session history: %w", err)
	}
	defer hist.close()

	var (
		recorder pipeline.Recorder
		metricsH http.Handler
		registry *metrics.Metrics
	)
	if cfg.Metrics.Enabled {
		registry = metrics.New()
		recorder = registry
		metricsH = registry.Handler()
	}

	bus := pipeline.NewEventBus()
	defer bus.Close()

	manager := pipeline.NewPipelineManager(bus, logger)
	streams := stream.NewMJPEGStreamManager(logger)
	hub := ws.NewDetectionHub(logger)
	stats := pipeline.NewEmotionStats()

	bus.Subscribe(hub)
	bus.Subscribe(stats)
	if hist.store != nil {
		bus.Subscribe(pipeline.NewSessionRecorder(hist.store, logger))
	}
	if hist.registry != nil {
		bus.Subscribe(hist.registry)
	}

	cameras := make([]api.Camera, 0, len(cfg.Cameras))
	var autostart []string
	for _, cam := range cfg.Cameras {
		src, err := camera.NewSource(cam.SourceConfig(), logger)
		if err != nil {
			return err
		}

		canvas := overlay.NewCanvas(overlay.Config{
			Width:   cam.SurfaceWidth,
			Height:  cam.SurfaceHeight,
			FPS:     cfg.Stream.FPS,
			Quality: cfg.Stream.Quality,
		}, src, streams.CreateStream(cam.ID), logger.With("camera", cam.ID))

		p := pipeline.NewDetectionPipeline(cfg.PipelineOptions(cam), clock.Real(), src, detector, canvas, bus, recorder, logger)
		if err := manager.Add(p); err != nil {
			return err
		}

		if hist.registry != nil {
			rec := &database.CameraRecord{
				ID:         cam.ID,
				Name:       cam.Name,
				Device:     cam.Device,
				Resolution: fmt.Sprintf("%dx%d", cam.Width, cam.Height),
				FPS:        cam.FPS,
			}
			if err := hist.registry.SaveCamera(rec); err != nil {
				logger.Warn("failed to register camera", "camera", cam.ID, "error", err)
			}
		}

		cameras = append(cameras, api.Camera{ID: cam.ID, Name: cam.Name, Device: cam.Device})
		if cam.Autostart {
			autostart = append(autostart, cam.ID)
		}
	}

	if registry != nil {
		registry.RegisterGaugeFunc("moodcam_ws_clients", "Connected annotation websocket clients", func() float64 {
			return float64(hub.ClientCount())
		})
		registry.RegisterGaugeFunc("moodcam_detector_healthy", "1 when the last detector health check passed", func() float64 {
			if detector.IsHealthy() {
				return 1
			}
			return 0
		})
	}

	authenticator, err := auth.NewAuthenticator(cfg.AuthenticatorConfig())
	if err != nil {
		return err
	}

	server := api.NewServer(api.Options{
		Manager:       manager,
		Cameras:       cameras,
		Stats:         stats,
		History:       hist.store,
		Detector:      detector,
		Authenticator: authenticator,
		Metrics:       metricsH,
		Video:         streams,
		Snapshots:     stream.NewSnapshotHandler(streams),
		Annotations:   ws.NewHandler(hub, manager, logger),
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		detection.MonitorHealth(gctx, detector, cfg.Detector.HealthInterval, logger)
		return nil
	})

	if cfg.MQTT.Enabled {
		em := emitter.NewMQTTEmitter(cfg.EmitterConfig(), logger)
		if err := em.Connect(ctx); err != nil {
			return err
		}
		defer em.Disconnect()

		bus.Subscribe(em)
		g.Go(func() error { return em.Run(gctx) })

		if cfg.MQTT.Commands {
			if err := em.SubscribeCommands(gctx, manager); err != nil {
				return err
			}
		}
	}

	if cfg.Telegram.Enabled {
		bot, err := telegram.NewBot(cfg.BotConfig(), logger)
		if err != nil {
			return err
		}
		notifier := telegram.NewNotifier(bot, streams, cfg.NotifierConfig(), logger)
		bus.Subscribe(notifier)
		g.Go(func() error { return notifier.Run(gctx) })

		if cfg.Telegram.Commands {
			commands := telegram.NewCommandHandler(bot, manager, stats, streams, logger)
			g.Go(func() error { return commands.Run(gctx) })
		}
	}

	if db := hist.registry; db != nil && cfg.Storage.Retention > 0 {
		g.Go(func() error {
			pruneSessions(gctx, db, cfg.Storage.Retention)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Stopping the pipelines first lets the session recorder store the open sessions
		manager.Close()
		hub.Close()
		streams.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown incomplete", "error", err)
		}
		return nil
	})

	manager.StartAll(gctx, autostart)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("exited")
	return nil
}

// pruneSessions deletes sessions older than retention once an hour
func pruneSessions(ctx context.Context, db *database.Database, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := db.DeleteOldSessions(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("failed to prune sessions", "error", err)
		} else if n > 0 {
			logger.Info("pruned sessions", "deleted", n, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
