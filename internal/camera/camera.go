package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"moodcam/internal/pipeline"
)

// Config describes one camera device
type Config struct {
	ID     string
	Name   string
	Device string // /dev/videoN, rtsp://, http(s):// stream or snapshot URL, or an image file
	Width  int
	Height int
	FPS    int
}

// NewSource picks the frame source matching the device string
func NewSource(cfg Config, logger *slog.Logger) (pipeline.FrameSource, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("camera %s: no device configured", cfg.ID)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("camera", cfg.ID)

	switch {
	case isStillImage(cfg.Device):
		return NewStillSource(cfg, logger), nil
	case isHTTPImageEndpoint(cfg.Device):
		return NewSnapshotSource(cfg, nil, logger), nil
	default:
		return NewFFmpegSource(cfg, logger), nil
	}
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// isHTTPImageEndpoint matches URLs that return one still image per request
func isHTTPImageEndpoint(device string) bool {
	return (strings.HasPrefix(device, "http://") || strings.HasPrefix(device, "https://")) &&
		(strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg") ||
			strings.Contains(device, "snapshot") || strings.Contains(device, "image"))
}

func isStillImage(device string) bool {
	if isNetworkSource(device) {
		return false
	}
	switch strings.ToLower(filepath.Ext(device)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// checkDevice verifies a local device exists and can be opened for reading.
// Failures wrap pipeline.ErrAcquisition since no retry can fix them.
func checkDevice(device string) error {
	if isNetworkSource(device) {
		return nil
	}

	if _, err := os.Stat(device); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: device %s does not exist", pipeline.ErrAcquisition, device)
		}
		return fmt.Errorf("%w: %v", pipeline.ErrAcquisition, err)
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: permission denied on %s", pipeline.ErrAcquisition, device)
		}
		return fmt.Errorf("%w: %v", pipeline.ErrAcquisition, err)
	}
	file.Close()
	return nil
}

// lookupFFmpeg resolves the ffmpeg binary; a missing binary is an acquisition failure
func lookupFFmpeg(binary string) (string, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found: %v", pipeline.ErrAcquisition, binary, err)
	}
	return path, nil
}
