package pipeline

import (
	"math"
	"testing"
	"time"
)

func TestAnnotationStateEmptyResultRetainsBoxes(t *testing.T) {
	s := NewAnnotationState(640, 480)
	boxA := BBox{10, 10, 50, 50}

	first := oneFace(EmotionHappy, 0.82, boxA)
	first.ResolvedAt = epoch
	if !s.Merge(first) {
		t.Fatal("non-empty result should be applied")
	}
	before := s.Snapshot()

	empty := noFaces()
	empty.ResolvedAt = epoch.Add(100 * time.Millisecond)
	if s.Merge(empty) {
		t.Error("empty result should not be applied")
	}

	after := s.Snapshot()
	if len(after.Boxes) != 1 {
		t.Fatalf("boxes = %d, want 1", len(after.Boxes))
	}
	if after.Boxes[0] != before.Boxes[0] {
		t.Errorf("box changed: %+v -> %+v", before.Boxes[0], after.Boxes[0])
	}
	if after.Version != before.Version {
		t.Errorf("version moved on an empty result: %d -> %d", before.Version, after.Version)
	}
}

func TestAnnotationStateVelocity(t *testing.T) {
	s := NewAnnotationState(320, 240)

	r1 := oneFace(EmotionNeutral, 0.5, BBox{0, 0, 100, 100})
	r1.ResolvedAt = epoch
	s.Merge(r1)

	if v := s.Snapshot().Boxes[0].Velocity; v != (Velocity{}) {
		t.Errorf("first result velocity = %+v, want zero", v)
	}

	r2 := oneFace(EmotionNeutral, 0.5, BBox{10, 20, 110, 120})
	r2.ResolvedAt = epoch.Add(100 * time.Millisecond)
	s.Merge(r2)

	v := s.Snapshot().Boxes[0].Velocity
	want := Velocity{X1: 0.1, Y1: 0.2, X2: 0.1, Y2: 0.2}
	if !closeTo(v.X1, want.X1) || !closeTo(v.Y1, want.Y1) || !closeTo(v.X2, want.X2) || !closeTo(v.Y2, want.Y2) {
		t.Errorf("velocity = %+v, want %+v", v, want)
	}
}

func TestAnnotationStateVelocityIndexAligned(t *testing.T) {
	s := NewAnnotationState(320, 240)

	r1 := oneFace(EmotionHappy, 0.9, BBox{0, 0, 10, 10})
	r1.ResolvedAt = epoch
	s.Merge(r1)

	r2 := &DetectionResult{
		Success: true,
		Faces: []FaceDetection{
			{Box: BBox{5, 0, 15, 10}, Emotion: EmotionHappy, Confidence: 0.9},
			{Box: BBox{100, 100, 120, 120}, Emotion: EmotionSad, Confidence: 0.4},
		},
		ResolvedAt: epoch.Add(50 * time.Millisecond),
	}
	s.Merge(r2)

	boxes := s.Snapshot().Boxes
	if len(boxes) != 2 {
		t.Fatalf("boxes = %d, want 2", len(boxes))
	}
	if !closeTo(boxes[0].Velocity.X1, 0.1) {
		t.Errorf("box 0 velocity X1 = %v, want 0.1", boxes[0].Velocity.X1)
	}
	if boxes[1].Velocity != (Velocity{}) {
		t.Errorf("box without predecessor has velocity %+v", boxes[1].Velocity)
	}
}

func TestAnnotationStateClear(t *testing.T) {
	s := NewAnnotationState(640, 480)
	r := oneFace(EmotionFear, 0.3, BBox{1, 1, 2, 2})
	r.ResolvedAt = epoch
	s.Merge(r)

	s.Clear()
	snap := s.Snapshot()
	if len(snap.Boxes) != 0 {
		t.Errorf("boxes after clear = %d", len(snap.Boxes))
	}
	if snap.SurfaceWidth != 640 || snap.SurfaceHeight != 480 {
		t.Errorf("surface size lost on clear: %dx%d", snap.SurfaceWidth, snap.SurfaceHeight)
	}
}

func TestAnnotationSnapshotIsCopy(t *testing.T) {
	s := NewAnnotationState(640, 480)
	r := oneFace(EmotionHappy, 0.5, BBox{1, 1, 2, 2})
	r.ResolvedAt = epoch
	s.Merge(r)

	snap := s.Snapshot()
	snap.Boxes[0].Box.X1 = 999

	if s.Snapshot().Boxes[0].Box.X1 == 999 {
		t.Error("snapshot aliases internal state")
	}
}

func TestMapBox(t *testing.T) {
	tests := []struct {
		name       string
		box        BBox
		capW, capH int
		surW, surH int
		want       BBox
	}{
		{"double", BBox{0, 0, 160, 120}, 320, 240, 640, 480, BBox{0, 0, 320, 240}},
		{"identity", BBox{10, 20, 30, 40}, 320, 240, 320, 240, BBox{10, 20, 30, 40}},
		{"independent axes", BBox{100, 100, 200, 200}, 400, 400, 800, 200, BBox{200, 50, 400, 100}},
		{"unknown capture size", BBox{1, 2, 3, 4}, 0, 0, 640, 480, BBox{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapBox(tt.box, tt.capW, tt.capH, tt.surW, tt.surH)
			if got != tt.want {
				t.Errorf("MapBox = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtrapolate(t *testing.T) {
	box := BBox{0, 0, 10, 10}
	v := Velocity{X1: 0.1, Y1: 0, X2: 0.1, Y2: 0}

	got := Extrapolate(box, v, 50)
	if !closeTo(got.X1, 5) || !closeTo(got.X2, 15) || got.Y1 != 0 {
		t.Errorf("Extrapolate = %+v", got)
	}
	if Extrapolate(box, v, 0) != box {
		t.Error("zero elapsed must not move the box")
	}
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
