package pipeline

import (
	"fmt"
	"math"
	"time"
)

// RenderLoop redraws the overlay from AnnotationState on every refresh tick.
// It only reads the state and never blocks.
type RenderLoop struct {
	cameraID         string
	state            *AnnotationState
	surface          Surface
	recorder         Recorder
	smoothing        Smoothing
	maxExtrapolation time.Duration
}

// NewRenderLoop creates a render loop drawing state onto surface
func NewRenderLoop(opts Options, state *AnnotationState, surface Surface, recorder Recorder) *RenderLoop {
	opts = opts.withDefaults()
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &RenderLoop{
		cameraID:         opts.CameraID,
		state:            state,
		surface:          surface,
		recorder:         recorder,
		smoothing:        opts.Smoothing,
		maxExtrapolation: opts.MaxExtrapolation,
	}
}

// Tick draws one frame of the overlay and returns the number of boxes drawn
func (r *RenderLoop) Tick(now time.Time) int {
	r.surface.Clear()

	snap := r.state.Snapshot()
	drawn := 0
	if len(snap.Boxes) > 0 {
		// Re-read every tick, the surface can be resized at any time
		width, height := r.surface.Size()

		var elapsedMs float64
		if r.smoothing == SmoothingExtrapolate && !snap.UpdatedAt.IsZero() {
			elapsed := now.Sub(snap.UpdatedAt)
			if elapsed > r.maxExtrapolation {
				elapsed = r.maxExtrapolation
			}
			elapsedMs = float64(elapsed) / float64(time.Millisecond)
		}

		for _, b := range snap.Boxes {
			box := b.Box
			if elapsedMs > 0 {
				box = Extrapolate(box, b.Velocity, elapsedMs)
			}
			mapped := MapBox(box, snap.CaptureWidth, snap.CaptureHeight, width, height)
			r.surface.DrawBox(mapped, FormatLabel(b), b.Emotion)
			drawn++
		}
	}

	if p, ok := r.surface.(Presenter); ok {
		p.Present(now)
	}
	r.recorder.Rendered(r.cameraID, drawn)
	return drawn
}

// FormatLabel renders "<emotion> <pct>%"
func FormatLabel(b DisplayBox) string {
	name := string(b.Emotion)
	if b.Emotion == EmotionUnknown && b.Label != "" {
		name = b.Label
	}
	if name == "" {
		name = string(EmotionUnknown)
	}
	return fmt.Sprintf("%s %d%%", name, int(math.Round(b.Confidence*100)))
}
