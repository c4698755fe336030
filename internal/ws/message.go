package ws

import (
	"time"

	"moodcam/internal/pipeline"
)

// Message types sent to clients
const (
	TypeAnnotations = "annotations"
	TypeStatus      = "status"
	TypeError       = "error"
)

// Message types accepted from clients
const (
	TypeResize = "resize"
)

// AnnotationMessage carries the annotation state after a merged result.
// Boxes are in capture space; clients scale them with frame_width/frame_height.
type AnnotationMessage struct {
	Type            string           `json:"type"` // "annotations"
	CameraID        string           `json:"camera_id"`
	Timestamp       time.Time        `json:"timestamp"`
	FrameWidth      int              `json:"frame_width"`
	FrameHeight     int              `json:"frame_height"`
	DominantEmotion string           `json:"dominant_emotion"`
	Confidence      float64          `json:"confidence"`
	Faces           []FaceAnnotation `json:"faces"`
	LatencyMs       int64            `json:"latency_ms,omitempty"`
}

// FaceAnnotation is one face of an AnnotationMessage
type FaceAnnotation struct {
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2] in pixels
	Emotion    string    `json:"emotion"`
	Label      string    `json:"label"` // Rendered text, e.g. "happy 82%"
	Confidence float64   `json:"confidence"`
	Velocity   []float64 `json:"velocity"` // px/ms per edge, same order as bbox
}

// StatusMessage reports a pipeline start or stop
type StatusMessage struct {
	Type      string    `json:"type"` // "status"
	CameraID  string    `json:"camera_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"` // "started", "stopped"
}

// ErrorMessage reports a classified detection or acquisition failure
type ErrorMessage struct {
	Type      string    `json:"type"` // "error"
	CameraID  string    `json:"camera_id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
}

// ClientMessage is anything a client sends; only resize is understood
type ClientMessage struct {
	Type   string `json:"type"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// NewAnnotationMessage builds a message from an annotation snapshot
func NewAnnotationMessage(cameraID string, ann *pipeline.Annotations, ts time.Time) *AnnotationMessage {
	msg := &AnnotationMessage{
		Type:            TypeAnnotations,
		CameraID:        cameraID,
		Timestamp:       ts,
		FrameWidth:      ann.CaptureWidth,
		FrameHeight:     ann.CaptureHeight,
		DominantEmotion: string(ann.Dominant),
		Confidence:      ann.Confidence,
		Faces:           make([]FaceAnnotation, 0, len(ann.Boxes)),
	}

	for _, b := range ann.Boxes {
		msg.AddFace(b)
	}
	return msg
}

// AddFace appends one display box to the message
func (m *AnnotationMessage) AddFace(b pipeline.DisplayBox) {
	m.Faces = append(m.Faces, FaceAnnotation{
		BBox:       []float64{b.Box.X1, b.Box.Y1, b.Box.X2, b.Box.Y2},
		Emotion:    string(b.Emotion),
		Label:      pipeline.FormatLabel(b),
		Confidence: b.Confidence,
		Velocity:   []float64{b.Velocity.X1, b.Velocity.Y1, b.Velocity.X2, b.Velocity.Y2},
	})
}

// NewStatusMessage creates a status message
func NewStatusMessage(cameraID, status string, ts time.Time) *StatusMessage {
	return &StatusMessage{
		Type:      TypeStatus,
		CameraID:  cameraID,
		Timestamp: ts,
		Status:    status,
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(cameraID string, kind pipeline.ErrorKind, err error, ts time.Time) *ErrorMessage {
	msg := &ErrorMessage{
		Type:      TypeError,
		CameraID:  cameraID,
		Timestamp: ts,
		Kind:      string(kind),
	}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}
