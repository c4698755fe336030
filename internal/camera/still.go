package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"moodcam/internal/pipeline"
)

// StillSource serves a single image file as a camera that never changes
type StillSource struct {
	cfg    Config
	logger *slog.Logger
	latest latestFrame
}

// NewStillSource creates a source for the image at cfg.Device
func NewStillSource(cfg Config, logger *slog.Logger) *StillSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &StillSource{
		cfg:    cfg,
		logger: logger.With("component", "still_source"),
	}
}

// Open loads the image file
func (s *StillSource) Open(ctx context.Context) error {
	data, err := os.ReadFile(s.cfg.Device)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: %v", pipeline.ErrAcquisition, err)
		}
		return fmt.Errorf("failed to read %s: %w", s.cfg.Device, err)
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %s is not an image: %v", pipeline.ErrAcquisition, s.cfg.Device, err)
	}

	s.latest.store(data, time.Now())
	s.logger.Debug("loaded still image", "path", s.cfg.Device, "bytes", len(data))
	return nil
}

func (s *StillSource) Close() error {
	s.latest.reset()
	return nil
}

func (s *StillSource) ReadyState() pipeline.ReadyState {
	return s.latest.readyState()
}

func (s *StillSource) CurrentFrame() (image.Image, error) {
	return s.latest.image()
}
