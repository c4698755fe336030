package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"moodcam/internal/auth"
	"moodcam/internal/camera"
	"moodcam/internal/detection"
	"moodcam/internal/emitter"
	"moodcam/internal/pipeline"
	"moodcam/internal/telegram"
)

// Config represents the complete moodcam configuration
type Config struct {
	LogLevel string         `yaml:"log_level"` // debug, info, warn, error
	HTTP     HTTPConfig     `yaml:"http"`
	Detector DetectorConfig `yaml:"detector"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Cameras  []CameraConfig `yaml:"cameras"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Telegram TelegramConfig `yaml:"telegram"`
	Stream   StreamConfig   `yaml:"stream"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// HTTPConfig contains the control/stream server settings
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DetectorConfig contains the remote detector settings
type DetectorConfig struct {
	Transport      string        `yaml:"transport"` // http, grpc
	Endpoint       string        `yaml:"endpoint"`
	Timeout        time.Duration `yaml:"timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// PipelineConfig contains the loop timing shared by all cameras
type PipelineConfig struct {
	MinInterval        time.Duration `yaml:"min_interval"`
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
	StartRetryInterval time.Duration `yaml:"start_retry_interval"`
	StartRetries       int           `yaml:"start_retries"`
	CaptureWidth       int           `yaml:"capture_width"`
	CaptureHeight      int           `yaml:"capture_height"`
	JPEGQuality        int           `yaml:"jpeg_quality"`
	Smoothing          string        `yaml:"smoothing"` // snap, extrapolate
	MaxExtrapolation   time.Duration `yaml:"max_extrapolation"`
}

// CameraConfig defines a single camera
type CameraConfig struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Device        string `yaml:"device"` // /dev/videoN, rtsp://, http(s)://, or an image file
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	FPS           int    `yaml:"fps"`
	SurfaceWidth  int    `yaml:"surface_width"`  // Initial render size
	SurfaceHeight int    `yaml:"surface_height"` // Initial render size
	Autostart     bool   `yaml:"autostart"`
}

// StorageConfig selects where session history goes
type StorageConfig struct {
	Driver      string        `yaml:"driver"` // sqlite, postgres, none
	Path        string        `yaml:"path"`
	PostgresURL string        `yaml:"postgres_url"`
	Retention   time.Duration `yaml:"retention"` // sqlite only; 0 keeps everything
}

// AuthConfig contains control API credentials
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

// MQTTConfig contains broker settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Commands    bool   `yaml:"commands"` // Accept start/stop/rearm on <prefix>/<camera>/command
}

// TelegramConfig contains chat alert settings
type TelegramConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BotToken      string        `yaml:"bot_token"`
	ChatID        string        `yaml:"chat_id"`
	Cooldown      time.Duration `yaml:"cooldown"`
	AlertEmotions []string      `yaml:"alert_emotions"` // Dominant emotions that raise an alert
	MinConfidence float64       `yaml:"min_confidence"`
	Commands      bool          `yaml:"commands"` // Answer /status, /on, /off ... from the chat
}

// StreamConfig controls the composited MJPEG output
type StreamConfig struct {
	FPS     int `yaml:"fps"`
	Quality int `yaml:"quality"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration that runs without a file
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Metrics:  MetricsConfig{Enabled: true},
		Storage:  StorageConfig{Driver: "sqlite"},
	}
}

// Load reads and parses a YAML configuration file, applies environment
// overrides and validates the result. An empty path uses Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from MOODCAM_* and the AUTH_*/JWT_* variables
func ApplyEnv(cfg *Config) error {
	str := map[string]*string{
		"MOODCAM_LOG_LEVEL":          &cfg.LogLevel,
		"MOODCAM_HTTP_ADDR":          &cfg.HTTP.Addr,
		"MOODCAM_DETECTOR_TRANSPORT": &cfg.Detector.Transport,
		"MOODCAM_DETECTOR_ENDPOINT":  &cfg.Detector.Endpoint,
		"MOODCAM_STORAGE_DRIVER":     &cfg.Storage.Driver,
		"MOODCAM_STORAGE_PATH":       &cfg.Storage.Path,
		"MOODCAM_POSTGRES_URL":       &cfg.Storage.PostgresURL,
		"MOODCAM_MQTT_BROKER":        &cfg.MQTT.Broker,
		"TELEGRAM_BOT_TOKEN":         &cfg.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":           &cfg.Telegram.ChatID,
		"AUTH_USERNAME":              &cfg.Auth.Username,
		"AUTH_PASSWORD":              &cfg.Auth.Password,
		"JWT_SECRET":                 &cfg.Auth.JWTSecret,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("AUTH_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = enabled
	}
	if v, ok := os.LookupEnv("JWT_EXPIRY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JWT_EXPIRY: %w", err)
		}
		cfg.Auth.JWTExpiry = d
	}
	if v, ok := os.LookupEnv("MOODCAM_MQTT_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MOODCAM_MQTT_ENABLED: %w", err)
		}
		cfg.MQTT.Enabled = enabled
	}
	if v, ok := os.LookupEnv("TELEGRAM_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TELEGRAM_ENABLED: %w", err)
		}
		cfg.Telegram.Enabled = enabled
	}
	return nil
}

// PipelineOptions returns the pipeline options for one camera
func (c *Config) PipelineOptions(cam CameraConfig) pipeline.Options {
	return pipeline.Options{
		CameraID:           cam.ID,
		MinInterval:        c.Pipeline.MinInterval,
		RefreshInterval:    c.Pipeline.RefreshInterval,
		StartRetryInterval: c.Pipeline.StartRetryInterval,
		StartRetries:       c.Pipeline.StartRetries,
		CaptureWidth:       c.Pipeline.CaptureWidth,
		CaptureHeight:      c.Pipeline.CaptureHeight,
		JPEGQuality:        c.Pipeline.JPEGQuality,
		Smoothing:          pipeline.Smoothing(c.Pipeline.Smoothing),
		MaxExtrapolation:   c.Pipeline.MaxExtrapolation,
	}
}

// SourceConfig returns the frame source settings for one camera
func (c CameraConfig) SourceConfig() camera.Config {
	return camera.Config{
		ID:     c.ID,
		Name:   c.Name,
		Device: c.Device,
		Width:  c.Width,
		Height: c.Height,
		FPS:    c.FPS,
	}
}

// DetectorClientConfig returns the detector transport settings
func (c *Config) DetectorClientConfig() detection.Config {
	return detection.Config{
		Transport: c.Detector.Transport,
		Endpoint:  c.Detector.Endpoint,
		Timeout:   c.Detector.Timeout,
	}
}

// AuthenticatorConfig returns the control API credentials
func (c *Config) AuthenticatorConfig() auth.Config {
	return auth.Config{
		Enabled:   c.Auth.Enabled,
		Username:  c.Auth.Username,
		Password:  c.Auth.Password,
		JWTSecret: c.Auth.JWTSecret,
		JWTExpiry: c.Auth.JWTExpiry,
	}
}

// EmitterConfig returns the MQTT emitter settings
func (c *Config) EmitterConfig() emitter.Config {
	return emitter.Config{
		Broker:      c.MQTT.Broker,
		ClientID:    c.MQTT.ClientID,
		Username:    c.MQTT.Username,
		Password:    c.MQTT.Password,
		TopicPrefix: c.MQTT.TopicPrefix,
		QoS:         c.MQTT.QoS,
	}
}

// BotConfig returns the Telegram bot settings
func (c *Config) BotConfig() telegram.Config {
	return telegram.Config{
		BotToken: c.Telegram.BotToken,
		ChatID:   c.Telegram.ChatID,
		Cooldown: c.Telegram.Cooldown,
	}
}

// NotifierConfig returns the Telegram alert rules. Emotions were checked by Validate.
func (c *Config) NotifierConfig() telegram.NotifierConfig {
	emotions := make([]pipeline.Emotion, 0, len(c.Telegram.AlertEmotions))
	for _, e := range c.Telegram.AlertEmotions {
		emotions = append(emotions, pipeline.ParseEmotion(e))
	}
	return telegram.NotifierConfig{
		AlertEmotions: emotions,
		MinConfidence: c.Telegram.MinConfidence,
	}
}
