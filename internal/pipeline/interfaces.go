package pipeline

import (
	"context"
	"image"
	"time"
)

// Detector is the remote classifier boundary. Implementations must honor ctx cancellation.
type Detector interface {
	// Name returns the detector identifier (e.g., "http", "grpc")
	Name() string

	// Detect classifies one encoded frame. success=false responses are returned as
	// an ApplicationError, everything else that fails as a TransportError.
	Detect(ctx context.Context, frame *Frame) (*DetectionResult, error)
}

// FrameSource exposes the current camera frame as a raster
type FrameSource interface {
	// Open acquires the device. Errors wrapping ErrAcquisition are fatal to starting.
	Open(ctx context.Context) error

	// Close releases the device. Safe to call when not open.
	Close() error

	// ReadyState reports whether dimensions and a frame are available
	ReadyState() ReadyState

	// CurrentFrame returns the latest frame, or ErrNotReady before the first capture
	CurrentFrame() (image.Image, error)
}

// Surface is the overlay the render loop draws on
type Surface interface {
	// Size returns the current render-space dimensions; it may change between ticks
	Size() (width, height int)

	// Clear erases the whole overlay
	Clear()

	// DrawBox draws a box outline in render space with its text label
	DrawBox(box BBox, label string, emotion Emotion)
}

// Presenter is implemented by surfaces that push each finished tick somewhere (a stream)
type Presenter interface {
	Present(now time.Time)
}

// Flusher is implemented by presenting surfaces that can push their current
// contents immediately, bypassing any frame rate limit
type Flusher interface {
	Flush(now time.Time)
}

// EventHandler receives pipeline events
type EventHandler interface {
	// OnEvent is called synchronously from the publishing goroutine
	OnEvent(event Event)
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(event Event)

func (f EventHandlerFunc) OnEvent(event Event) { f(event) }

// Recorder receives loop instrumentation. Implemented by the metrics package.
type Recorder interface {
	Submitted(cameraID string)
	Cancelled(cameraID string)
	Discarded(cameraID string)
	Applied(cameraID string, faces int, latency time.Duration)
	Failed(cameraID string, kind ErrorKind)
	Rendered(cameraID string, boxes int)
	SetRunning(cameraID string, running bool)
}

type nopRecorder struct{}

func (nopRecorder) Submitted(string)                   {}
func (nopRecorder) Cancelled(string)                   {}
func (nopRecorder) Discarded(string)                   {}
func (nopRecorder) Applied(string, int, time.Duration) {}
func (nopRecorder) Failed(string, ErrorKind)           {}
func (nopRecorder) Rendered(string, int)               {}
func (nopRecorder) SetRunning(string, bool)            {}

// HistoryStore persists finished detection sessions
type HistoryStore interface {
	SaveSession(ctx context.Context, session *SessionRecord) error
	ListSessions(ctx context.Context, cameraID string, limit int) ([]*SessionRecord, error)
}
