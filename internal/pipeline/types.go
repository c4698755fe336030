package pipeline

import (
	"strings"
	"time"
)

// Emotion is a classifier label. The fixed set is closed; anything else is EmotionUnknown.
type Emotion string

const (
	EmotionAngry     Emotion = "angry"
	EmotionDisgust   Emotion = "disgust"
	EmotionFear      Emotion = "fear"
	EmotionHappy     Emotion = "happy"
	EmotionNeutral   Emotion = "neutral"
	EmotionSad       Emotion = "sad"
	EmotionSurprised Emotion = "surprised"
	EmotionUnknown   Emotion = "unknown"
)

// Emotions lists the fixed label set in display order
var Emotions = []Emotion{
	EmotionAngry,
	EmotionDisgust,
	EmotionFear,
	EmotionHappy,
	EmotionNeutral,
	EmotionSad,
	EmotionSurprised,
}

// ParseEmotion normalizes a detector label. Unrecognized labels become EmotionUnknown.
func ParseEmotion(label string) Emotion {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "angry", "anger":
		return EmotionAngry
	case "disgust", "disgusted":
		return EmotionDisgust
	case "fear", "fearful":
		return EmotionFear
	case "happy", "happiness":
		return EmotionHappy
	case "neutral":
		return EmotionNeutral
	case "sad", "sadness":
		return EmotionSad
	case "surprise", "surprised":
		return EmotionSurprised
	default:
		return EmotionUnknown
	}
}

// Known reports whether e belongs to the fixed label set
func (e Emotion) Known() bool {
	for _, known := range Emotions {
		if e == known {
			return true
		}
	}
	return false
}

// BBox is a box in pixel coordinates: (X1,Y1) top-left, (X2,Y2) bottom-right
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Frame is one encoded capture sent to the detector. It is never mutated after creation.
type Frame struct {
	CameraID   string    // Camera identifier
	Data       []byte    // JPEG frame data
	Seq        uint64    // Frame sequence number
	CapturedAt time.Time // Capture timestamp
	Width      int       // Capture width in pixels
	Height     int       // Capture height in pixels
}

// FaceDetection is one classified face in capture space
type FaceDetection struct {
	Box        BBox    `json:"box"`
	Emotion    Emotion `json:"emotion"`
	Label      string  `json:"label"`      // Label as sent by the detector
	Confidence float64 `json:"confidence"` // [0-1]
}

// DetectionResult is the full response to one resolved request
type DetectionResult struct {
	CameraID      string          `json:"camera_id"`
	FrameSeq      uint64          `json:"frame_seq"`
	Faces         []FaceDetection `json:"faces"`
	Dominant      Emotion         `json:"dominant_emotion"`
	Confidence    float64         `json:"confidence"`
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
	ResolvedAt    time.Time       `json:"resolved_at"`
	CaptureWidth  int             `json:"capture_width"`
	CaptureHeight int             `json:"capture_height"`
	Latency       time.Duration   `json:"latency"`
}

// Velocity is the rate of change of each box edge in pixels per millisecond
type Velocity struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// DisplayBox is a face that is currently eligible for drawing
type DisplayBox struct {
	Box        BBox     `json:"box"`
	Emotion    Emotion  `json:"emotion"`
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Velocity   Velocity `json:"velocity"`
}

// Annotations is a read-only snapshot of AnnotationState
type Annotations struct {
	Boxes         []DisplayBox `json:"boxes"`
	Dominant      Emotion      `json:"dominant_emotion"`
	Confidence    float64      `json:"confidence"`
	CaptureWidth  int          `json:"capture_width"`
	CaptureHeight int          `json:"capture_height"`
	SurfaceWidth  int          `json:"surface_width"`
	SurfaceHeight int          `json:"surface_height"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Version       uint64       `json:"version"`
}

// Status is the control state of a DetectionPipeline
type Status string

const (
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
)

// ReadyState mirrors how far a frame source has come: nothing, dimensions known, frame available
type ReadyState int

const (
	ReadyNothing ReadyState = iota
	ReadyMetadata
	ReadyCurrentFrame
)

func (r ReadyState) String() string {
	switch r {
	case ReadyMetadata:
		return "metadata"
	case ReadyCurrentFrame:
		return "current_frame"
	default:
		return "nothing"
	}
}

// Smoothing selects how the render loop positions boxes between results
type Smoothing string

const (
	// SmoothingSnap draws the latest detected box as-is
	SmoothingSnap Smoothing = "snap"
	// SmoothingExtrapolate advances boxes along their velocity, capped by MaxExtrapolation
	SmoothingExtrapolate Smoothing = "extrapolate"
)

// Largest render surface accepted from clients (8K UHD)
const (
	MaxSurfaceWidth  = 7680
	MaxSurfaceHeight = 4320
)

// ValidSurface reports whether width x height is a drawable surface size
func ValidSurface(width, height int) bool {
	return width > 0 && height > 0 && width <= MaxSurfaceWidth && height <= MaxSurfaceHeight
}

// Options configures one DetectionPipeline
type Options struct {
	CameraID           string
	MinInterval        time.Duration // Minimum time between submissions
	RefreshInterval    time.Duration // Render tick period
	StartRetryInterval time.Duration // Wait between readiness checks on Start
	StartRetries       int           // Readiness checks before Start gives up
	CaptureWidth       int           // Snapshot width sent to the detector (0 = native)
	CaptureHeight      int           // Snapshot height sent to the detector (0 = native)
	JPEGQuality        int           // 1-100
	Smoothing          Smoothing
	MaxExtrapolation   time.Duration
}

// DefaultOptions returns the defaults used when a field is zero
func DefaultOptions() Options {
	return Options{
		MinInterval:        60 * time.Millisecond,
		RefreshInterval:    time.Second / 60,
		StartRetryInterval: 200 * time.Millisecond,
		StartRetries:       25,
		CaptureWidth:       320,
		CaptureHeight:      240,
		JPEGQuality:        80,
		Smoothing:          SmoothingSnap,
		MaxExtrapolation:   120 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultOptions
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinInterval <= 0 {
		o.MinInterval = d.MinInterval
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = d.RefreshInterval
	}
	if o.StartRetryInterval <= 0 {
		o.StartRetryInterval = d.StartRetryInterval
	}
	if o.StartRetries <= 0 {
		o.StartRetries = d.StartRetries
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = d.JPEGQuality
	}
	if o.Smoothing == "" {
		o.Smoothing = d.Smoothing
	}
	if o.MaxExtrapolation <= 0 {
		o.MaxExtrapolation = d.MaxExtrapolation
	}
	return o
}
