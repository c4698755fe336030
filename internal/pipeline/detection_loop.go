package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"moodcam/internal/clock"
)

// DetectionLoop drives FrameSource and DetectionChannel at a bounded cadence
// and resolves outcomes into the AnnotationState
type DetectionLoop struct {
	cameraID    string
	clock       clock.Clock
	source      FrameSource
	encoder     *Encoder
	channel     *DetectionChannel
	state       *AnnotationState
	events      *EventBus
	recorder    Recorder
	logger      *slog.Logger
	minInterval time.Duration

	mu         sync.Mutex
	active     bool
	lastSubmit time.Time
	tracked    *Pending
	ctx        context.Context
	cancel     context.CancelFunc

	inflight sync.WaitGroup
}

// NewDetectionLoop wires a loop for one camera. events and recorder may be nil.
func NewDetectionLoop(
	opts Options,
	clk clock.Clock,
	source FrameSource,
	detector Detector,
	state *AnnotationState,
	events *EventBus,
	recorder Recorder,
	logger *slog.Logger,
) *DetectionLoop {
	opts = opts.withDefaults()
	if clk == nil {
		clk = clock.Real()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DetectionLoop{
		cameraID:    opts.CameraID,
		clock:       clk,
		source:      source,
		encoder:     NewEncoder(opts.CameraID, opts.CaptureWidth, opts.CaptureHeight, opts.JPEGQuality),
		channel:     NewDetectionChannel(detector, clk),
		state:       state,
		events:      events,
		recorder:    recorder,
		logger:      logger.With("component", "detection_loop"),
		minInterval: opts.MinInterval,
	}
}

// begin arms the loop; ticks before begin or after Halt do nothing
func (l *DetectionLoop) begin() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active {
		return
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.active = true
	l.lastSubmit = time.Time{}
	l.tracked = nil
}

// Tick submits a new frame unless the last issue was less than minInterval ago.
// Returns true when a request was dispatched.
func (l *DetectionLoop) Tick(now time.Time) bool {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return false
	}
	if !l.lastSubmit.IsZero() && now.Sub(l.lastSubmit) < l.minInterval {
		l.mu.Unlock()
		return false
	}
	// Paced by issue time, not by completion
	l.lastSubmit = now
	l.mu.Unlock()

	frame, err := l.capture(now)
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			l.logger.Debug("frame not ready, skipping cycle")
			return false
		}
		l.logger.Warn("frame capture failed", "error", err)
		l.recorder.Failed(l.cameraID, KindCapture)
		l.publishError(now, err, KindCapture)
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Halted while encoding
	if !l.active {
		return false
	}

	if prev := l.tracked; prev != nil && prev.Cancel() {
		l.recorder.Cancelled(l.cameraID)
	}
	p := l.channel.Submit(l.ctx, frame)
	l.tracked = p
	l.recorder.Submitted(l.cameraID)

	l.inflight.Add(1)
	go l.await(p)
	return true
}

func (l *DetectionLoop) capture(now time.Time) (*Frame, error) {
	img, err := l.source.CurrentFrame()
	if err != nil {
		return nil, err
	}
	return l.encoder.Encode(img, now)
}

func (l *DetectionLoop) await(p *Pending) {
	defer l.inflight.Done()

	result, err := p.Outcome()
	l.resolve(p, result, err)
}

func (l *DetectionLoop) resolve(p *Pending, result *DetectionResult, err error) {
	if errors.Is(err, ErrCancelled) {
		return
	}

	l.mu.Lock()
	if !l.active || l.tracked != p {
		l.mu.Unlock()
		l.recorder.Discarded(l.cameraID)
		l.logger.Debug("discarding superseded result", "request", p.ID)
		return
	}

	if err != nil {
		l.mu.Unlock()
		kind := KindOf(err)
		l.recorder.Failed(l.cameraID, kind)
		l.logger.Warn("detection failed", "request", p.ID, "kind", kind, "error", err)
		l.publishError(l.clock.Now(), err, kind)
		return
	}

	l.state.Merge(result)
	snapshot := l.state.Snapshot()
	l.mu.Unlock()

	l.recorder.Applied(l.cameraID, len(result.Faces), result.Latency)
	if l.events != nil {
		l.events.Publish(Event{
			Type:        EventResult,
			CameraID:    l.cameraID,
			Time:        result.ResolvedAt,
			Result:      result,
			Annotations: &snapshot,
		})
	}
}

func (l *DetectionLoop) publishError(now time.Time, err error, kind ErrorKind) {
	if l.events == nil {
		return
	}
	l.events.Publish(Event{
		Type:     EventError,
		CameraID: l.cameraID,
		Time:     now,
		Err:      err,
		Kind:     kind,
	})
}

// Halt cancels the in-flight request, clears the annotation state and resets the cadence
func (l *DetectionLoop) Halt() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.active = false
	if l.tracked != nil && l.tracked.Cancel() {
		l.recorder.Cancelled(l.cameraID)
	}
	l.tracked = nil
	l.channel.Cancel()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.lastSubmit = time.Time{}
	l.state.Clear()
}

// Wait blocks until every outcome handed out so far has been resolved or discarded
func (l *DetectionLoop) Wait() {
	l.inflight.Wait()
}

// Tracked returns the request whose outcome the loop will apply, or nil
func (l *DetectionLoop) Tracked() *Pending {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracked
}
