package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"moodcam/internal/clock"
)

// OutcomeState is the lifecycle of one detection request
type OutcomeState int32

const (
	StatePending OutcomeState = iota
	StateResolved
	StateFailed
	StateCancelled
)

func (s OutcomeState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Pending is one in-flight detection request and its single outcome.
// The first of resolve, fail or cancel wins; later transitions are ignored.
type Pending struct {
	ID       uint64
	Frame    *Frame
	IssuedAt time.Time

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	// written once by the winning transition, read after done is closed
	result *DetectionResult
	err    error
}

func newPending(id uint64, frame *Frame, issuedAt time.Time, cancel context.CancelFunc) *Pending {
	return &Pending{
		ID:       id,
		Frame:    frame,
		IssuedAt: issuedAt,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Cancel aborts the request. Idempotent; a no-op once the outcome is settled.
// Returns true only for the call that actually cancelled.
func (p *Pending) Cancel() bool {
	if !p.state.CompareAndSwap(int32(StatePending), int32(StateCancelled)) {
		return false
	}
	p.err = ErrCancelled
	p.cancel()
	close(p.done)
	return true
}

// Done is closed once the outcome is settled
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// State returns the current outcome state
func (p *Pending) State() OutcomeState {
	return OutcomeState(p.state.Load())
}

// Outcome returns the settled result. It blocks until Done is closed.
// A cancelled request always returns ErrCancelled, whatever the transport produced.
func (p *Pending) Outcome() (*DetectionResult, error) {
	<-p.done
	switch p.State() {
	case StateResolved:
		return p.result, nil
	case StateCancelled:
		return nil, ErrCancelled
	default:
		return nil, p.err
	}
}

func (p *Pending) settle(result *DetectionResult, err error) bool {
	to := StateResolved
	if err != nil {
		to = StateFailed
	}
	if !p.state.CompareAndSwap(int32(StatePending), int32(to)) {
		return false
	}
	p.result = result
	p.err = err
	p.cancel()
	close(p.done)
	return true
}

// DetectionChannel sends frames to a Detector with at most one request live at a time
type DetectionChannel struct {
	detector Detector
	clock    clock.Clock

	mu      sync.Mutex
	current *Pending
	nextID  uint64
}

// NewDetectionChannel creates a channel over detector
func NewDetectionChannel(detector Detector, clk clock.Clock) *DetectionChannel {
	if clk == nil {
		clk = clock.Real()
	}
	return &DetectionChannel{
		detector: detector,
		clock:    clk,
	}
}

// Submit cancels any still-pending request, then dispatches frame.
// The returned Pending is the only live outcome of this channel until the next Submit.
func (c *DetectionChannel) Submit(ctx context.Context, frame *Frame) *Pending {
	c.mu.Lock()
	if c.current != nil {
		c.current.Cancel()
	}

	c.nextID++
	reqCtx, cancel := context.WithCancel(ctx)
	p := newPending(c.nextID, frame, c.clock.Now(), cancel)
	c.current = p
	c.mu.Unlock()

	go c.run(reqCtx, p)
	return p
}

// Cancel cancels the live request, if any
func (c *DetectionChannel) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Cancel()
		c.current = nil
	}
}

// Current returns the most recently submitted request, which may already be settled
func (c *DetectionChannel) Current() *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *DetectionChannel) run(ctx context.Context, p *Pending) {
	result, err := c.detector.Detect(ctx, p.Frame)

	if ctx.Err() != nil && p.State() == StateCancelled {
		return
	}
	if err != nil {
		err = c.classify(err)
	} else if result == nil {
		err = TransportError(c.detector.Name(), errors.New("empty response"))
	} else {
		result.CameraID = p.Frame.CameraID
		result.FrameSeq = p.Frame.Seq
		result.CaptureWidth = p.Frame.Width
		result.CaptureHeight = p.Frame.Height
		result.ResolvedAt = c.clock.Now()
		result.Latency = result.ResolvedAt.Sub(p.IssuedAt)
	}

	p.settle(result, err)
}

func (c *DetectionChannel) classify(err error) error {
	var de *DetectionError
	if errors.As(err, &de) {
		return err
	}
	return TransportError(c.detector.Name(), err)
}
