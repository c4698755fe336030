package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EmotionCount is the tally of one label
type EmotionCount struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// StatsSnapshot is the per-camera emotion statistics
type StatsSnapshot struct {
	CameraID        string                   `json:"camera_id"`
	TotalDetections int                      `json:"total_detections"`
	Emotions        map[Emotion]EmotionCount `json:"emotions"`
	MostCommon      Emotion                  `json:"most_common"`
	Since           time.Time                `json:"since"`
}

type emotionCounts struct {
	counts map[Emotion]int
	total  int
	since  time.Time
}

func newEmotionCounts(since time.Time) *emotionCounts {
	counts := make(map[Emotion]int, len(Emotions))
	for _, e := range Emotions {
		counts[e] = 0
	}
	return &emotionCounts{counts: counts, since: since}
}

func (c *emotionCounts) add(faces []FaceDetection) {
	for _, f := range faces {
		if !f.Emotion.Known() {
			continue
		}
		c.counts[f.Emotion]++
		c.total++
	}
}

func (c *emotionCounts) mostCommon() Emotion {
	if c.total == 0 {
		return EmotionNeutral
	}
	best := EmotionNeutral
	bestCount := -1
	for _, e := range Emotions {
		if c.counts[e] > bestCount {
			best = e
			bestCount = c.counts[e]
		}
	}
	return best
}

// EmotionStats aggregates per-face emotion counts from result events.
// Labels outside the fixed set are not counted.
type EmotionStats struct {
	mu      sync.RWMutex
	cameras map[string]*emotionCounts
	now     func() time.Time
}

// NewEmotionStats creates an empty aggregator
func NewEmotionStats() *EmotionStats {
	return &EmotionStats{
		cameras: make(map[string]*emotionCounts),
		now:     time.Now,
	}
}

// OnEvent counts the faces of result events
func (s *EmotionStats) OnEvent(event Event) {
	if event.Type != EventResult || event.Result == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cameras[event.CameraID]
	if !ok {
		c = newEmotionCounts(event.Time)
		s.cameras[event.CameraID] = c
	}
	c.add(event.Result.Faces)
}

// Snapshot returns the statistics of one camera
func (s *EmotionStats) Snapshot(cameraID string) StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cameras[cameraID]
	if !ok {
		c = newEmotionCounts(time.Time{})
	}

	total := c.total
	if total == 0 {
		total = 1
	}

	emotions := make(map[Emotion]EmotionCount, len(c.counts))
	for e, n := range c.counts {
		emotions[e] = EmotionCount{
			Count:      n,
			Percentage: float64(n) / float64(total) * 100,
		}
	}

	return StatsSnapshot{
		CameraID:        cameraID,
		TotalDetections: c.total,
		Emotions:        emotions,
		MostCommon:      c.mostCommon(),
		Since:           c.since,
	}
}

// Reset zeroes the statistics of one camera
func (s *EmotionStats) Reset(cameraID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameras[cameraID] = newEmotionCounts(s.now())
}

// SessionRecord summarizes one started..stopped span of a pipeline. No frames are kept.
type SessionRecord struct {
	ID        string          `json:"id"`
	CameraID  string          `json:"camera_id"`
	StartedAt time.Time       `json:"started_at"`
	StoppedAt time.Time       `json:"stopped_at"`
	Results   int             `json:"results"`
	Faces     int             `json:"faces"`
	Failures  int             `json:"failures"`
	Counts    map[Emotion]int `json:"counts"`
	Dominant  Emotion         `json:"dominant_emotion"`
	LastError string          `json:"last_error,omitempty"`
}

// SessionRecorder turns pipeline events into SessionRecords and saves them on stop
type SessionRecorder struct {
	store   HistoryStore
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	open   map[string]*SessionRecord
	counts map[string]*emotionCounts
}

// NewSessionRecorder creates a recorder persisting into store
func NewSessionRecorder(store HistoryStore, logger *slog.Logger) *SessionRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRecorder{
		store:   store,
		logger:  logger.With("component", "session_recorder"),
		timeout: 5 * time.Second,
		open:    make(map[string]*SessionRecord),
		counts:  make(map[string]*emotionCounts),
	}
}

// OnEvent implements EventHandler
func (r *SessionRecorder) OnEvent(event Event) {
	switch event.Type {
	case EventStarted:
		r.mu.Lock()
		r.open[event.CameraID] = &SessionRecord{
			ID:        uuid.New().String(),
			CameraID:  event.CameraID,
			StartedAt: event.Time,
		}
		r.counts[event.CameraID] = newEmotionCounts(event.Time)
		r.mu.Unlock()

	case EventResult:
		r.mu.Lock()
		if rec, ok := r.open[event.CameraID]; ok && event.Result != nil {
			rec.Results++
			rec.Faces += len(event.Result.Faces)
			r.counts[event.CameraID].add(event.Result.Faces)
		}
		r.mu.Unlock()

	case EventError:
		r.mu.Lock()
		if rec, ok := r.open[event.CameraID]; ok {
			rec.Failures++
			if event.Err != nil {
				rec.LastError = event.Err.Error()
			}
		}
		r.mu.Unlock()

	case EventStopped:
		r.mu.Lock()
		rec, ok := r.open[event.CameraID]
		counts := r.counts[event.CameraID]
		delete(r.open, event.CameraID)
		delete(r.counts, event.CameraID)
		r.mu.Unlock()
		if !ok {
			return
		}

		rec.StoppedAt = event.Time
		rec.Counts = counts.counts
		rec.Dominant = counts.mostCommon()
		r.save(rec)
	}
}

func (r *SessionRecorder) save(rec *SessionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.SaveSession(ctx, rec); err != nil {
		r.logger.Error("failed to save session", "session", rec.ID, "camera", rec.CameraID, "error", err)
		return
	}
	r.logger.Debug("saved session", "session", rec.ID, "camera", rec.CameraID, "results", rec.Results)
}
