package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"moodcam/internal/clock"
)

// Resizable is implemented by surfaces whose render size can be changed from outside
type Resizable interface {
	Resize(width, height int)
}

// DetectionPipeline is the per-camera instance holding both loops, the annotation
// state and the idle/starting/running state machine
type DetectionPipeline struct {
	opts     Options
	clock    clock.Clock
	source   FrameSource
	surface  Surface
	state    *AnnotationState
	detect   *DetectionLoop
	render   *RenderLoop
	events   *EventBus
	recorder Recorder
	logger   *slog.Logger

	// held for a whole refresh tick so Stop can wait out a tick in progress
	tickMu sync.Mutex

	mu        sync.Mutex
	status    Status
	ticker    clock.Timer
	retry     clock.Timer
	attempts  int
	fault     error // acquisition failure, blocks Start until Rearm
	startedAt time.Time
}

// PipelineInfo is a point-in-time view of one pipeline
type PipelineInfo struct {
	CameraID    string      `json:"camera_id"`
	Status      Status      `json:"status"`
	Running     bool        `json:"running"`
	Disabled    bool        `json:"disabled"`
	Fault       string      `json:"fault,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	Annotations Annotations `json:"annotations"`
}

// NewDetectionPipeline creates an idle pipeline. events, recorder and logger may be nil.
func NewDetectionPipeline(
	opts Options,
	clk clock.Clock,
	source FrameSource,
	detector Detector,
	surface Surface,
	events *EventBus,
	recorder Recorder,
	logger *slog.Logger,
) *DetectionPipeline {
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
	logger = logger.With("camera", opts.CameraID)

	width, height := surface.Size()
	state := NewAnnotationState(width, height)

	return &DetectionPipeline{
		opts:     opts,
		clock:    clk,
		source:   source,
		surface:  surface,
		state:    state,
		detect:   NewDetectionLoop(opts, clk, source, detector, state, events, recorder, logger),
		render:   NewRenderLoop(opts, state, surface, recorder),
		events:   events,
		recorder: recorder,
		logger:   logger.With("component", "pipeline"),
		status:   StatusIdle,
	}
}

// CameraID returns the camera this pipeline serves
func (p *DetectionPipeline) CameraID() string {
	return p.opts.CameraID
}

// Options returns the effective options
func (p *DetectionPipeline) Options() Options {
	return p.opts
}

// Start acquires the camera and begins detection once the source can deliver frames.
// It is a no-op unless idle. After an acquisition failure it returns ErrStartDisabled
// until Rearm is called.
func (p *DetectionPipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.status != StatusIdle {
		p.mu.Unlock()
		return nil
	}
	if p.fault != nil {
		fault := p.fault
		p.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrStartDisabled, fault)
	}
	p.status = StatusStarting
	p.attempts = 0
	p.mu.Unlock()

	p.logger.Info("starting detection pipeline")

	if err := p.source.Open(ctx); err != nil {
		kind := KindCapture
		p.mu.Lock()
		p.status = StatusIdle
		if errors.Is(err, ErrAcquisition) {
			kind = KindAcquisition
			p.fault = err
		}
		p.mu.Unlock()

		p.logger.Error("failed to open frame source", "kind", kind, "error", err)
		p.recorder.Failed(p.opts.CameraID, kind)
		p.publish(Event{Type: EventError, Err: err, Kind: kind})
		return fmt.Errorf("failed to open frame source: %w", err)
	}

	p.mu.Lock()
	if p.status != StatusStarting {
		// Stopped while the source was opening
		p.mu.Unlock()
		p.closeSource()
		return nil
	}
	p.mu.Unlock()

	p.tryStart()
	return nil
}

// tryStart checks source readiness and either goes running, re-arms the retry
// timer, or gives up after StartRetries checks
func (p *DetectionPipeline) tryStart() {
	p.mu.Lock()
	if p.status != StatusStarting {
		p.mu.Unlock()
		return
	}
	p.retry = nil

	if p.source.ReadyState() >= ReadyCurrentFrame {
		p.status = StatusRunning
		p.startedAt = p.clock.Now()
		p.state.Clear()
		p.detect.begin()
		p.ticker = p.clock.Every(p.opts.RefreshInterval, p.tick)
		startedAt := p.startedAt
		p.mu.Unlock()

		p.recorder.SetRunning(p.opts.CameraID, true)
		p.logger.Info("detection pipeline running", "min_interval", p.opts.MinInterval, "refresh", p.opts.RefreshInterval)
		p.publish(Event{Type: EventStarted, Time: startedAt})
		return
	}

	p.attempts++
	if p.attempts >= p.opts.StartRetries {
		attempts := p.attempts
		p.status = StatusIdle
		p.mu.Unlock()

		err := fmt.Errorf("camera not ready after %d attempts: %w", attempts, ErrNotReady)
		p.closeSource()
		p.logger.Warn("giving up waiting for frame source", "attempts", attempts)
		p.recorder.Failed(p.opts.CameraID, KindCapture)
		p.publish(Event{Type: EventError, Err: err, Kind: KindCapture})
		return
	}

	p.logger.Debug("frame source not ready, retrying", "attempt", p.attempts, "ready_state", p.source.ReadyState())
	p.retry = p.clock.AfterFunc(p.opts.StartRetryInterval, p.tryStart)
	p.mu.Unlock()
}

func (p *DetectionPipeline) tick(now time.Time) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	p.mu.Lock()
	running := p.status == StatusRunning
	p.mu.Unlock()
	if !running {
		return
	}

	p.detect.Tick(now)
	p.render.Tick(now)
}

// Stop cancels the in-flight request, halts both loops, clears the annotation state
// and releases the camera. Safe to call repeatedly.
func (p *DetectionPipeline) Stop() {
	p.mu.Lock()
	prev := p.status
	if prev == StatusIdle {
		p.mu.Unlock()
		return
	}

	if p.retry != nil {
		p.retry.Stop()
		p.retry = nil
	}
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
	p.status = StatusIdle
	p.detect.Halt()
	p.mu.Unlock()

	// A tick that saw the running state finishes before the surface is wiped;
	// later ticks see idle and draw nothing
	p.tickMu.Lock()
	p.surface.Clear()
	if f, ok := p.surface.(Flusher); ok {
		f.Flush(p.clock.Now())
	}
	p.tickMu.Unlock()

	// Outcomes already handed out resolve as cancelled
	p.detect.Wait()
	p.closeSource()

	if prev == StatusRunning {
		p.recorder.SetRunning(p.opts.CameraID, false)
		p.logger.Info("detection pipeline stopped")
		p.publish(Event{Type: EventStopped, Time: p.clock.Now()})
	}
}

func (p *DetectionPipeline) closeSource() {
	if err := p.source.Close(); err != nil {
		p.logger.Warn("failed to close frame source", "error", err)
	}
}

// Rearm clears a previous acquisition failure so Start may be attempted again
func (p *DetectionPipeline) Rearm() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fault != nil {
		p.logger.Info("re-armed after acquisition failure", "fault", p.fault)
	}
	p.fault = nil
}

// IsRunning reports whether both loops are active
func (p *DetectionPipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == StatusRunning
}

// Status returns the control state
func (p *DetectionPipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Fault returns the acquisition failure that disabled Start, or nil
func (p *DetectionPipeline) Fault() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fault
}

// Resize changes the render surface size; the next render tick maps to it.
// Sizes beyond MaxSurfaceWidth x MaxSurfaceHeight are rejected and the surface is left as is.
func (p *DetectionPipeline) Resize(width, height int) error {
	if !ValidSurface(width, height) {
		return fmt.Errorf("%w: %dx%d (max %dx%d)", ErrInvalidSurface, width, height, MaxSurfaceWidth, MaxSurfaceHeight)
	}
	if r, ok := p.surface.(Resizable); ok {
		r.Resize(width, height)
	}
	p.state.SetSurface(width, height)
	return nil
}

// Annotations returns a snapshot of the current annotation state
func (p *DetectionPipeline) Annotations() Annotations {
	return p.state.Snapshot()
}

// Info returns a point-in-time view for the control API
func (p *DetectionPipeline) Info() PipelineInfo {
	p.mu.Lock()
	info := PipelineInfo{
		CameraID: p.opts.CameraID,
		Status:   p.status,
		Running:  p.status == StatusRunning,
		Disabled: p.fault != nil,
	}
	if p.fault != nil {
		info.Fault = p.fault.Error()
	}
	if p.status == StatusRunning {
		startedAt := p.startedAt
		info.StartedAt = &startedAt
	}
	p.mu.Unlock()

	info.Annotations = p.state.Snapshot()
	return info
}

func (p *DetectionPipeline) publish(event Event) {
	if p.events == nil {
		return
	}
	event.CameraID = p.opts.CameraID
	if event.Time.IsZero() {
		event.Time = p.clock.Now()
	}
	p.events.Publish(event)
}
