package pipeline

import (
	"errors"
	"testing"
	"time"

	"moodcam/internal/clock"
)

func waitEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
			return Event{}
		}
	}
}

type loopFixture struct {
	loop     *DetectionLoop
	detector *scriptedDetector
	state    *AnnotationState
	events   <-chan Event
	clock    *clock.Manual
}

func newLoopFixture(t *testing.T, minInterval time.Duration) *loopFixture {
	t.Helper()

	clk := clock.NewManual(epoch)
	det := newScriptedDetector()
	state := NewAnnotationState(640, 480)
	bus := NewEventBus()
	events, unsubscribe := bus.SubscribeChannel("cam1", 32)
	t.Cleanup(unsubscribe)

	opts := Options{CameraID: "cam1", MinInterval: minInterval, CaptureWidth: 320, CaptureHeight: 240}
	loop := NewDetectionLoop(opts, clk, newFakeSource(640, 480), det, state, bus, nil, nil)
	loop.begin()
	t.Cleanup(func() {
		loop.Halt()
		loop.Wait()
	})

	return &loopFixture{loop: loop, detector: det, state: state, events: events, clock: clk}
}

func TestDetectionLoopCadenceGate(t *testing.T) {
	f := newLoopFixture(t, 50*time.Millisecond)

	if !f.loop.Tick(epoch) {
		t.Fatal("first tick should dispatch")
	}
	if f.loop.Tick(epoch.Add(10 * time.Millisecond)) {
		t.Error("tick 10ms after the last issue should be gated")
	}
	if !f.loop.Tick(epoch.Add(60 * time.Millisecond)) {
		t.Error("tick 60ms after the last issue should dispatch")
	}

	f.detector.next(t)
	f.detector.next(t)
	select {
	case c := <-f.detector.calls:
		t.Errorf("unexpected extra dispatch of frame %d", c.frame.Seq)
	default:
	}
}

func TestDetectionLoopPacedByIssueTime(t *testing.T) {
	f := newLoopFixture(t, 50*time.Millisecond)

	f.loop.Tick(epoch)
	c := f.detector.next(t)

	// A slow response resolving late does not reset the gate
	c.reply(noFaces(), nil)
	waitEvent(t, f.events, EventResult)

	if f.loop.Tick(epoch.Add(40 * time.Millisecond)) {
		t.Error("gate should be measured from issue time")
	}
	if !f.loop.Tick(epoch.Add(50 * time.Millisecond)) {
		t.Error("tick at exactly the minimum interval should dispatch")
	}
	f.detector.next(t)
}

func TestDetectionLoopEncodesCaptureSize(t *testing.T) {
	f := newLoopFixture(t, 50*time.Millisecond)

	f.loop.Tick(epoch)
	c := f.detector.next(t)
	if c.frame.Width != 320 || c.frame.Height != 240 {
		t.Errorf("frame size = %dx%d, want 320x240", c.frame.Width, c.frame.Height)
	}
	if len(c.frame.Data) < 4 || c.frame.Data[0] != 0xFF || c.frame.Data[1] != 0xD8 {
		t.Error("frame is not a JPEG")
	}
	if !c.frame.CapturedAt.Equal(epoch) {
		t.Errorf("captured at %v, want %v", c.frame.CapturedAt, epoch)
	}
}

func TestDetectionLoopStaleResultNeverApplied(t *testing.T) {
	f := newLoopFixture(t, 50*time.Millisecond)
	f.detector.ignoreCancel = true

	f.loop.Tick(epoch)
	c1 := f.detector.next(t)
	p1 := f.loop.Tracked()

	f.loop.Tick(epoch.Add(60 * time.Millisecond))
	c2 := f.detector.next(t)

	if p1.State() != StateCancelled {
		t.Fatalf("superseded request state = %s, want cancelled", p1.State())
	}

	c2.reply(oneFace(EmotionSad, 0.7, BBox{1, 1, 5, 5}), nil)
	waitEvent(t, f.events, EventResult)

	// The superseded request resolves after the newer one
	c1.reply(oneFace(EmotionHappy, 0.9, BBox{10, 10, 50, 50}), nil)
	time.Sleep(20 * time.Millisecond)

	boxes := f.state.Snapshot().Boxes
	if len(boxes) != 1 || boxes[0].Emotion != EmotionSad {
		t.Errorf("state = %+v, want the newer sad result", boxes)
	}
}

func TestDetectionLoopStaleResultBeforeNewer(t *testing.T) {
	f := newLoopFixture(t, 50*time.Millisecond)
	f.detector.ignoreCancel = true

	f.loop.Tick(epoch)
	c1 := f.detector.next(t)

	f.loop.Tick(epoch.Add(60 * time.Millisecond))
	c2 := f.detector.next(t)

	// Stale data arrives first
	c1.reply(oneFace(EmotionHappy, 0.9, BBox{10, 10, 50, 50}), nil)
	time.Sleep(20 * time.Millisecond)
	if n := f.state.Len(); n != 0 {
		t.Fatalf("stale result applied, state has %d boxes", n)
	}

	c2.reply(oneFace(EmotionAngry, 0.6, BBox{2, 2, 8, 8}), nil)
	e := waitEvent(t, f.events, EventResult)
	if e.Result.Faces[0].Emotion != EmotionAngry {
		t.Errorf("result event emotion = %s, want angry", e.Result.Faces[0].Emotion)
	}
}

func TestDetectionLoopFailureReportedAndStateKept(t *testing.T) {
	f := newLoopFixture(t, 50*time.Millisecond)

	f.loop.Tick(epoch)
	f.detector.next(t).reply(oneFace(EmotionHappy, 0.8, BBox{1, 1, 2, 2}), nil)
	waitEvent(t, f.events, EventResult)
	before := f.state.Snapshot()

	f.loop.Tick(epoch.Add(60 * time.Millisecond))
	f.detector.next(t).reply(nil, errors.New("connection reset"))
	e := waitEvent(t, f.events, EventError)
	if e.Kind != KindTransport {
		t.Errorf("kind = %s, want transport", e.Kind)
	}

	f.loop.Tick(epoch.Add(120 * time.Millisecond))
	f.detector.next(t).reply(nil, ApplicationError("scripted", "model not loaded"))
	e = waitEvent(t, f.events, EventError)
	if e.Kind != KindApplication {
		t.Errorf("kind = %s, want application", e.Kind)
	}

	after := f.state.Snapshot()
	if after.Version != before.Version {
		t.Error("failures must not mutate annotation state")
	}

	// The loop keeps going
	if !f.loop.Tick(epoch.Add(180 * time.Millisecond)) {
		t.Error("loop stopped dispatching after failures")
	}
	f.detector.next(t)
}

func TestDetectionLoopCancellationIsSilent(t *testing.T) {
	f := newLoopFixture(t, 50*time.Millisecond)

	f.loop.Tick(epoch)
	f.detector.next(t)
	f.loop.Tick(epoch.Add(60 * time.Millisecond))
	f.detector.next(t).reply(noFaces(), nil)
	waitEvent(t, f.events, EventResult)

	f.loop.Wait()
	select {
	case e := <-f.events:
		if e.Type == EventError {
			t.Errorf("cancellation surfaced as error: %v", e.Err)
		}
	default:
	}
}

func TestDetectionLoopHalt(t *testing.T) {
	f := newLoopFixture(t, 50*time.Millisecond)

	f.loop.Tick(epoch)
	f.detector.next(t).reply(oneFace(EmotionHappy, 0.8, BBox{1, 1, 2, 2}), nil)
	waitEvent(t, f.events, EventResult)

	f.loop.Tick(epoch.Add(60 * time.Millisecond))
	c := f.detector.next(t)
	p := f.loop.Tracked()

	f.loop.Halt()
	f.loop.Wait()

	if p.State() != StateCancelled {
		t.Errorf("in-flight state = %s, want cancelled", p.State())
	}
	if c.ctx.Err() == nil {
		t.Error("transport was not signalled to abort")
	}
	if f.state.Len() != 0 {
		t.Error("halt must clear the annotation state")
	}
	if f.loop.Tick(epoch.Add(200 * time.Millisecond)) {
		t.Error("halted loop dispatched a request")
	}
}

func TestDetectionLoopSkipsWhenSourceNotReady(t *testing.T) {
	clk := clock.NewManual(epoch)
	det := newScriptedDetector()
	src := newFakeSource(64, 48)
	src.setReady(ReadyMetadata)

	loop := NewDetectionLoop(Options{CameraID: "cam1"}, clk, src, det, NewAnnotationState(64, 48), nil, nil, nil)
	loop.begin()
	defer loop.Halt()

	if loop.Tick(epoch) {
		t.Error("tick dispatched without a frame")
	}
}
