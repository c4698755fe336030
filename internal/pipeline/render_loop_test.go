package pipeline

import (
	"testing"
	"time"
)

func TestRenderLoopDrawsMappedBoxes(t *testing.T) {
	state := NewAnnotationState(640, 480)
	surface := newRecordingSurface(640, 480)
	r := NewRenderLoop(Options{CameraID: "cam1"}, state, surface, nil)

	res := oneFace(EmotionHappy, 0.82, BBox{0, 0, 160, 120})
	res.CaptureWidth, res.CaptureHeight = 320, 240
	res.ResolvedAt = epoch
	state.Merge(res)

	if n := r.Tick(epoch); n != 1 {
		t.Fatalf("drawn = %d, want 1", n)
	}

	draws := surface.draws()
	if draws[0].box != (BBox{0, 0, 320, 240}) {
		t.Errorf("box = %+v, want [0,0,320,240]", draws[0].box)
	}
	if draws[0].label != "happy 82%" {
		t.Errorf("label = %q, want %q", draws[0].label, "happy 82%")
	}
	if surface.present != 1 {
		t.Errorf("present = %d, want 1", surface.present)
	}
}

func TestRenderLoopEmptyStateLeavesSurfaceClear(t *testing.T) {
	state := NewAnnotationState(640, 480)
	surface := newRecordingSurface(640, 480)
	r := NewRenderLoop(Options{}, state, surface, nil)

	if n := r.Tick(epoch); n != 0 {
		t.Errorf("drawn = %d, want 0", n)
	}
	if surface.clears != 1 {
		t.Errorf("clears = %d, want 1", surface.clears)
	}
	if len(surface.draws()) != 0 {
		t.Error("nothing should be drawn")
	}
}

func TestRenderLoopFollowsSurfaceResize(t *testing.T) {
	state := NewAnnotationState(640, 480)
	surface := newRecordingSurface(640, 480)
	r := NewRenderLoop(Options{}, state, surface, nil)

	res := oneFace(EmotionSad, 0.5, BBox{0, 0, 160, 120})
	res.CaptureWidth, res.CaptureHeight = 320, 240
	res.ResolvedAt = epoch
	state.Merge(res)

	r.Tick(epoch)
	surface.Resize(320, 240)
	r.Tick(epoch.Add(16 * time.Millisecond))

	if got := surface.draws()[0].box; got != (BBox{0, 0, 160, 120}) {
		t.Errorf("after resize box = %+v, want [0,0,160,120]", got)
	}
}

func TestRenderLoopDoesNotMutateState(t *testing.T) {
	state := NewAnnotationState(640, 480)
	surface := newRecordingSurface(640, 480)
	r := NewRenderLoop(Options{Smoothing: SmoothingExtrapolate}, state, surface, nil)

	res := oneFace(EmotionHappy, 0.9, BBox{0, 0, 10, 10})
	res.ResolvedAt = epoch
	state.Merge(res)
	before := state.Snapshot()

	for i := 0; i < 10; i++ {
		r.Tick(epoch.Add(time.Duration(i) * 16 * time.Millisecond))
	}

	after := state.Snapshot()
	if after.Version != before.Version || after.Boxes[0] != before.Boxes[0] {
		t.Error("render loop mutated annotation state")
	}
}

func TestRenderLoopExtrapolationIsCapped(t *testing.T) {
	state := NewAnnotationState(100, 100)
	surface := newRecordingSurface(100, 100)
	opts := Options{Smoothing: SmoothingExtrapolate, MaxExtrapolation: 100 * time.Millisecond}
	r := NewRenderLoop(opts, state, surface, nil)

	r1 := oneFace(EmotionHappy, 0.9, BBox{0, 0, 10, 10})
	r1.CaptureWidth, r1.CaptureHeight = 100, 100
	r1.ResolvedAt = epoch
	state.Merge(r1)

	r2 := oneFace(EmotionHappy, 0.9, BBox{10, 0, 20, 10})
	r2.CaptureWidth, r2.CaptureHeight = 100, 100
	r2.ResolvedAt = epoch.Add(100 * time.Millisecond)
	state.Merge(r2)

	// velocity is 0.1 px/ms on x; 50ms later the box has moved 5px
	r.Tick(r2.ResolvedAt.Add(50 * time.Millisecond))
	if got := surface.draws()[0].box.X1; !closeTo(got, 15) {
		t.Errorf("X1 at +50ms = %v, want 15", got)
	}

	// 1s later the cap holds it at +100ms
	r.Tick(r2.ResolvedAt.Add(time.Second))
	if got := surface.draws()[0].box.X1; !closeTo(got, 20) {
		t.Errorf("X1 at +1s = %v, want 20", got)
	}
}

func TestFormatLabel(t *testing.T) {
	tests := []struct {
		box  DisplayBox
		want string
	}{
		{DisplayBox{Emotion: EmotionHappy, Confidence: 0.82}, "happy 82%"},
		{DisplayBox{Emotion: EmotionSurprised, Confidence: 0.996}, "surprised 100%"},
		{DisplayBox{Emotion: EmotionUnknown, Label: "contempt", Confidence: 0.4}, "contempt 40%"},
		{DisplayBox{Emotion: EmotionUnknown, Confidence: 0}, "unknown 0%"},
	}
	for _, tt := range tests {
		if got := FormatLabel(tt.box); got != tt.want {
			t.Errorf("FormatLabel(%+v) = %q, want %q", tt.box, got, tt.want)
		}
	}
}
