package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"moodcam/internal/pipeline"
)

var cameraIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Validate checks the configuration and fills defaults
func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.LogLevel) {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
		cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}

	if err := validateDetector(&cfg.Detector); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if err := validatePipeline(&cfg.Pipeline); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := validateCameras(cfg.Cameras); err != nil {
		return err
	}
	if err := validateStorage(&cfg.Storage); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if cfg.Auth.Enabled && cfg.Auth.Password == "" {
		return fmt.Errorf("auth.password is required when auth is enabled")
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = "moodcam"
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if err := validateTelegram(&cfg.Telegram); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	if cfg.Stream.FPS <= 0 {
		cfg.Stream.FPS = 10
	}
	if cfg.Stream.Quality <= 0 || cfg.Stream.Quality > 100 {
		cfg.Stream.Quality = 80
	}

	return nil
}

func validateDetector(d *DetectorConfig) error {
	if d.Transport == "" {
		d.Transport = "http"
	}
	switch d.Transport {
	case "http":
		if d.Endpoint == "" {
			d.Endpoint = "http://localhost:5000"
		}
		u, err := url.Parse(d.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("endpoint %q must be an http(s) URL", d.Endpoint)
		}
	case "grpc":
		if d.Endpoint == "" {
			d.Endpoint = "localhost:50051"
		}
	default:
		return fmt.Errorf("transport must be http or grpc, got %q", d.Transport)
	}

	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	if d.HealthInterval <= 0 {
		d.HealthInterval = 30 * time.Second
	}
	return nil
}

func validatePipeline(p *PipelineConfig) error {
	d := pipeline.DefaultOptions()

	if p.MinInterval < 0 || p.RefreshInterval < 0 || p.StartRetryInterval < 0 || p.MaxExtrapolation < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if p.MinInterval == 0 {
		p.MinInterval = d.MinInterval
	}
	if p.RefreshInterval == 0 {
		p.RefreshInterval = d.RefreshInterval
	}
	if p.StartRetryInterval == 0 {
		p.StartRetryInterval = d.StartRetryInterval
	}
	if p.StartRetries <= 0 {
		p.StartRetries = d.StartRetries
	}
	if p.CaptureWidth < 0 || p.CaptureHeight < 0 {
		return fmt.Errorf("capture size must not be negative")
	}
	if (p.CaptureWidth == 0) != (p.CaptureHeight == 0) {
		return fmt.Errorf("capture_width and capture_height must be set together")
	}
	if p.CaptureWidth == 0 {
		p.CaptureWidth = d.CaptureWidth
		p.CaptureHeight = d.CaptureHeight
	}
	if p.JPEGQuality == 0 {
		p.JPEGQuality = d.JPEGQuality
	}
	if p.JPEGQuality < 1 || p.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be 1-100")
	}

	switch pipeline.Smoothing(p.Smoothing) {
	case "":
		p.Smoothing = string(d.Smoothing)
	case pipeline.SmoothingSnap, pipeline.SmoothingExtrapolate:
	default:
		return fmt.Errorf("smoothing must be snap or extrapolate, got %q", p.Smoothing)
	}
	if p.MaxExtrapolation == 0 {
		p.MaxExtrapolation = d.MaxExtrapolation
	}
	return nil
}

func validateCameras(cameras []CameraConfig) error {
	seen := make(map[string]bool, len(cameras))
	for i := range cameras {
		cam := &cameras[i]
		if cam.ID == "" {
			return fmt.Errorf("cameras[%d]: id is required", i)
		}
		if !cameraIDPattern.MatchString(cam.ID) {
			return fmt.Errorf("camera %q: id must match [A-Za-z0-9_-]+", cam.ID)
		}
		if seen[cam.ID] {
			return fmt.Errorf("camera %q: duplicate id", cam.ID)
		}
		seen[cam.ID] = true

		if cam.Device == "" {
			return fmt.Errorf("camera %q: device is required", cam.ID)
		}
		if cam.Name == "" {
			cam.Name = cam.ID
		}
		if cam.Width <= 0 || cam.Height <= 0 {
			cam.Width, cam.Height = 640, 480
		}
		if cam.FPS <= 0 {
			cam.FPS = 15
		}
		if cam.SurfaceWidth <= 0 || cam.SurfaceHeight <= 0 {
			cam.SurfaceWidth, cam.SurfaceHeight = cam.Width, cam.Height
		}
		if !pipeline.ValidSurface(cam.SurfaceWidth, cam.SurfaceHeight) {
			return fmt.Errorf("camera %q: surface %dx%d exceeds %dx%d", cam.ID,
				cam.SurfaceWidth, cam.SurfaceHeight, pipeline.MaxSurfaceWidth, pipeline.MaxSurfaceHeight)
		}
	}
	return nil
}

func validateStorage(s *StorageConfig) error {
	switch s.Driver {
	case "":
		s.Driver = "sqlite"
		fallthrough
	case "sqlite":
		if s.Path == "" {
			s.Path = "moodcam.db"
		}
	case "postgres":
		if s.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required for the postgres driver")
		}
	case "none":
	default:
		return fmt.Errorf("driver must be sqlite, postgres or none, got %q", s.Driver)
	}
	if s.Retention < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	return nil
}

func validateTelegram(t *TelegramConfig) error {
	if !t.Enabled {
		return nil
	}
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("bot_token and chat_id are required when telegram is enabled")
	}
	if t.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	if t.Cooldown == 0 {
		t.Cooldown = 30 * time.Second
	}
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0, 1]")
	}
	if t.MinConfidence == 0 {
		t.MinConfidence = 0.6
	}
	for _, e := range t.AlertEmotions {
		if !pipeline.ParseEmotion(e).Known() {
			return fmt.Errorf("unknown alert emotion %q", e)
		}
	}
	return nil
}
