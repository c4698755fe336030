package pipeline

import (
	"sync"
	"time"
)

// AnnotationState is what the render loop draws right now.
// Only the detection loop writes it; readers take snapshots.
type AnnotationState struct {
	mu sync.RWMutex

	boxes         []DisplayBox
	dominant      Emotion
	confidence    float64
	captureWidth  int
	captureHeight int
	surfaceWidth  int
	surfaceHeight int
	updatedAt     time.Time
	version       uint64
}

// NewAnnotationState creates an empty state for a surface of the given size
func NewAnnotationState(surfaceWidth, surfaceHeight int) *AnnotationState {
	return &AnnotationState{
		surfaceWidth:  surfaceWidth,
		surfaceHeight: surfaceHeight,
	}
}

// Merge applies a resolved result. A result with no faces leaves the boxes untouched
// and reports false; otherwise the boxes are replaced and velocities recomputed
// against the previous boxes by index.
func (s *AnnotationState) Merge(result *DetectionResult) bool {
	if result == nil || len(result.Faces) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dt := float64(result.ResolvedAt.Sub(s.updatedAt)) / float64(time.Millisecond)
	prev := s.boxes

	boxes := make([]DisplayBox, len(result.Faces))
	for i, face := range result.Faces {
		boxes[i] = DisplayBox{
			Box:        face.Box,
			Emotion:    face.Emotion,
			Label:      face.Label,
			Confidence: face.Confidence,
		}
		if i < len(prev) && dt > 0 && !s.updatedAt.IsZero() {
			boxes[i].Velocity = Velocity{
				X1: (face.Box.X1 - prev[i].Box.X1) / dt,
				Y1: (face.Box.Y1 - prev[i].Box.Y1) / dt,
				X2: (face.Box.X2 - prev[i].Box.X2) / dt,
				Y2: (face.Box.Y2 - prev[i].Box.Y2) / dt,
			}
		}
	}

	s.boxes = boxes
	s.dominant = result.Dominant
	s.confidence = result.Confidence
	if result.CaptureWidth > 0 && result.CaptureHeight > 0 {
		s.captureWidth = result.CaptureWidth
		s.captureHeight = result.CaptureHeight
	}
	s.updatedAt = result.ResolvedAt
	s.version++
	return true
}

// SetSurface records the current render surface size
func (s *AnnotationState) SetSurface(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surfaceWidth = width
	s.surfaceHeight = height
}

// Clear drops all boxes. The surface size is kept.
func (s *AnnotationState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.boxes = nil
	s.dominant = ""
	s.confidence = 0
	s.captureWidth = 0
	s.captureHeight = 0
	s.updatedAt = time.Time{}
	s.version++
}

// Len returns the number of display boxes
func (s *AnnotationState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.boxes)
}

// Snapshot returns a copy safe to hold across ticks
func (s *AnnotationState) Snapshot() Annotations {
	s.mu.RLock()
	defer s.mu.RUnlock()

	boxes := make([]DisplayBox, len(s.boxes))
	copy(boxes, s.boxes)

	return Annotations{
		Boxes:         boxes,
		Dominant:      s.dominant,
		Confidence:    s.confidence,
		CaptureWidth:  s.captureWidth,
		CaptureHeight: s.captureHeight,
		SurfaceWidth:  s.surfaceWidth,
		SurfaceHeight: s.surfaceHeight,
		UpdatedAt:     s.updatedAt,
		Version:       s.version,
	}
}
