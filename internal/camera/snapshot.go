package camera

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"moodcam/internal/pipeline"
)

// SnapshotSource polls an HTTP endpoint that returns one JPEG per request
type SnapshotSource struct {
	cfg      Config
	client   *http.Client
	interval time.Duration
	logger   *slog.Logger
	latest   latestFrame

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSnapshotSource creates a polling source. client may be nil.
func NewSnapshotSource(cfg Config, client *http.Client, logger *slog.Logger) *SnapshotSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	interval := time.Second
	if cfg.FPS > 0 {
		interval = time.Second / time.Duration(cfg.FPS)
	}
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	return &SnapshotSource{
		cfg:      cfg,
		client:   client,
		interval: interval,
		logger:   logger.With("component", "snapshot_source"),
	}
}

// Open fetches one frame to prove the endpoint is reachable, then starts polling.
// An unreachable or refusing endpoint is an acquisition failure.
func (s *SnapshotSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	s.latest.reset()
	data, err := s.fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrAcquisition, err)
	}
	s.latest.store(data, time.Now())

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.poll(runCtx, s.done)

	s.logger.Info("started snapshot polling", "url", s.cfg.Device, "interval", s.interval)
	return nil
}

func (s *SnapshotSource) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := s.fetch(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("error fetching frame", "url", s.cfg.Device, "error", err)
				}
				continue
			}
			s.latest.store(data, time.Now())
		}
	}
}

func (s *SnapshotSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Device, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return data, nil
}

// Close stops polling
func (s *SnapshotSource) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.latest.reset()
	return nil
}

func (s *SnapshotSource) ReadyState() pipeline.ReadyState {
	return s.latest.readyState()
}

func (s *SnapshotSource) CurrentFrame() (image.Image, error) {
	return s.latest.image()
}
