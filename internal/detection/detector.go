package detection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"moodcam/internal/pipeline"
)

// Client is a detector transport that can also report service health
type Client interface {
	pipeline.Detector
	CheckHealth(ctx context.Context) error
	IsHealthy() bool
	Close() error
}

// Config selects and configures the detector transport
type Config struct {
	Transport string // "http" or "grpc"
	Endpoint  string
	Timeout   time.Duration
}

// New creates the configured client
func New(cfg Config, logger *slog.Logger) (Client, error) {
	switch cfg.Transport {
	case "", "http":
		return NewEmotionClient(EmotionClientConfig{Endpoint: cfg.Endpoint, Timeout: cfg.Timeout}, logger), nil
	case "grpc":
		return NewGRPCClient(GRPCClientConfig{Endpoint: cfg.Endpoint, Timeout: cfg.Timeout}, logger)
	default:
		return nil, fmt.Errorf("unknown detector transport %q", cfg.Transport)
	}
}

// MonitorHealth checks the client every interval until ctx is done, logging transitions
func MonitorHealth(ctx context.Context, client Client, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "detector_health", "detector", client.Name())

	check := func(last bool) bool {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		err := client.CheckHealth(checkCtx)
		healthy := err == nil
		if healthy != last {
			if healthy {
				logger.Info("detector healthy")
			} else {
				logger.Warn("detector unhealthy", "error", err)
			}
		}
		return healthy
	}

	healthy := check(true)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			healthy = check(healthy)
		}
	}
}
