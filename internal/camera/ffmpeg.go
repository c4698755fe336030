package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"moodcam/internal/pipeline"
)

// FFmpegSource captures MJPEG frames from a v4l2 device or network stream through ffmpeg
type FFmpegSource struct {
	cfg    Config
	binary string
	logger *slog.Logger
	latest latestFrame
	frames atomic.Uint64

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFFmpegSource creates a source; nothing is started before Open
func NewFFmpegSource(cfg Config, logger *slog.Logger) *FFmpegSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegSource{
		cfg:    cfg,
		binary: "ffmpeg",
		logger: logger.With("component", "ffmpeg_source"),
	}
}

// Open checks the device and starts the ffmpeg process
func (s *FFmpegSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := checkDevice(s.cfg.Device); err != nil {
		return err
	}
	binary, err := lookupFFmpeg(s.binary)
	if err != nil {
		return err
	}

	// The process outlives the Open call, so it gets its own context
	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, binary, buildFFmpegArgs(s.cfg)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s.latest.reset()
	if !isNetworkSource(s.cfg.Device) && s.cfg.Width > 0 && s.cfg.Height > 0 {
		s.latest.setSize(s.cfg.Width, s.cfg.Height)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.done = make(chan struct{})

	tail := &stderrTail{}
	go tail.consume(stderr)
	go s.readFrames(stdout, cmd, tail, s.done)

	s.logger.Info("started ffmpeg capture", "device", s.cfg.Device, "fps", s.cfg.FPS)
	return nil
}

func (s *FFmpegSource) readFrames(stdout io.Reader, cmd *exec.Cmd, tail *stderrTail, done chan struct{}) {
	defer close(done)

	buffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&buffer)
				if frame == nil {
					break
				}
				s.latest.store(frame, time.Now())
				if seq := s.frames.Add(1); seq%100 == 0 {
					s.logger.Debug("capture progress", "frames", seq)
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("error reading ffmpeg output", "error", err)
			}
			break
		}
	}

	if err := cmd.Wait(); err != nil && s.frames.Load() == 0 {
		s.logger.Error("ffmpeg exited before the first frame", "error", err, "stderr", tail.String())
	}
}

// Close stops ffmpeg and forgets the last frame
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cmd, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("ffmpeg did not exit for camera %s", s.cfg.ID)
	}

	s.latest.reset()
	s.logger.Info("stopped ffmpeg capture", "frames", s.frames.Load())
	return nil
}

func (s *FFmpegSource) ReadyState() pipeline.ReadyState {
	return s.latest.readyState()
}

func (s *FFmpegSource) CurrentFrame() (image.Image, error) {
	return s.latest.image()
}

// buildFFmpegArgs returns the ffmpeg arguments for an MJPEG image2pipe on stdout
func buildFFmpegArgs(cfg Config) []string {
	fps := fmt.Sprintf("%d", cfg.FPS)

	var args []string
	switch {
	case strings.HasPrefix(cfg.Device, "rtsp://"):
		args = []string{"-rtsp_transport", "tcp", "-i", cfg.Device}
	case strings.HasPrefix(cfg.Device, "http://"), strings.HasPrefix(cfg.Device, "https://"):
		args = []string{"-i", cfg.Device}
	default:
		// V4L2 device (USB camera)
		args = []string{"-f", "v4l2"}
		if cfg.Width > 0 && cfg.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
		}
		args = append(args, "-framerate", fps, "-i", cfg.Device)
	}

	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-r", fps, "-q:v", "5", "-")
	return append([]string{"-hide_banner", "-loglevel", "error"}, args...)
}

// stderrTail keeps the last lines ffmpeg wrote for error reports
type stderrTail struct {
	mu    sync.Mutex
	lines []string
}

func (t *stderrTail) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		t.mu.Lock()
		t.lines = append(t.lines, scanner.Text())
		if len(t.lines) > 5 {
			t.lines = t.lines[1:]
		}
		t.mu.Unlock()
	}
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "; ")
}
