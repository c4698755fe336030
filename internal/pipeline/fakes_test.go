package pipeline

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"
)

// fakeSource is a FrameSource serving a solid raster
type fakeSource struct {
	mu      sync.Mutex
	ready   ReadyState
	openErr error
	opened  int
	closed  int
	width   int
	height  int
}

func newFakeSource(width, height int) *fakeSource {
	return &fakeSource{ready: ReadyCurrentFrame, width: width, height: height}
}

func (s *fakeSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opened++
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSource) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSource) setReady(r ReadyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = r
}

func (s *fakeSource) CurrentFrame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready < ReadyCurrentFrame {
		return nil, ErrNotReady
	}
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.White)
	return img, nil
}

// call is one Detect invocation held until the test answers it
type call struct {
	frame  *Frame
	ctx    context.Context
	answer chan answer
}

type answer struct {
	result *DetectionResult
	err    error
}

// scriptedDetector blocks each Detect until the test replies on the call.
// With ignoreCancel set it behaves like a transport that still returns data after the abort signal.
type scriptedDetector struct {
	calls        chan *call
	ignoreCancel bool
}

func newScriptedDetector() *scriptedDetector {
	return &scriptedDetector{calls: make(chan *call, 16)}
}

func (d *scriptedDetector) Name() string { return "scripted" }

func (d *scriptedDetector) Detect(ctx context.Context, frame *Frame) (*DetectionResult, error) {
	c := &call{frame: frame, ctx: ctx, answer: make(chan answer, 1)}
	d.calls <- c
	select {
	case a := <-c.answer:
		return a.result, a.err
	case <-ctx.Done():
		if !d.ignoreCancel {
			return nil, ctx.Err()
		}
		a := <-c.answer
		return a.result, a.err
	}
}

func (d *scriptedDetector) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-d.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for detector call")
		return nil
	}
}

func (c *call) reply(result *DetectionResult, err error) {
	c.answer <- answer{result: result, err: err}
}

// recordingSurface records draw calls of the last tick
type recordingSurface struct {
	mu      sync.Mutex
	width   int
	height  int
	clears  int
	drawn   []drawCall
	present int
}

type drawCall struct {
	box     BBox
	label   string
	emotion Emotion
}

func newRecordingSurface(width, height int) *recordingSurface {
	return &recordingSurface{width: width, height: height}
}

func (s *recordingSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *recordingSurface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
}

func (s *recordingSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.drawn = nil
}

func (s *recordingSurface) DrawBox(box BBox, label string, emotion Emotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawn = append(s.drawn, drawCall{box: box, label: label, emotion: emotion})
}

func (s *recordingSurface) Present(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present++
}

func (s *recordingSurface) draws() []drawCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]drawCall, len(s.drawn))
	copy(out, s.drawn)
	return out
}

// eventLog collects events published on a bus
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func oneFace(emotion Emotion, confidence float64, box BBox) *DetectionResult {
	return &DetectionResult{
		Success:    true,
		Faces:      []FaceDetection{{Box: box, Emotion: emotion, Label: string(emotion), Confidence: confidence}},
		Dominant:   emotion,
		Confidence: confidence,
	}
}

func noFaces() *DetectionResult {
	return &DetectionResult{Success: true, Dominant: EmotionNeutral}
}

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
