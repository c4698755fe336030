package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled marks an outcome that was superseded or stopped. It is routine, never reported.
	ErrCancelled = errors.New("detection cancelled")

	// ErrTransport matches network, timeout and protocol failures talking to the detector
	ErrTransport = errors.New("detector transport failure")

	// ErrApplication matches responses where the detector reported success=false
	ErrApplication = errors.New("detector reported failure")

	// ErrNotReady is returned by frame sources that have not captured a frame yet
	ErrNotReady = errors.New("frame source not ready")

	// ErrAcquisition marks camera absence or permission failures. Retrying cannot fix it.
	ErrAcquisition = errors.New("camera acquisition failed")

	// ErrStartDisabled is returned by Start after an acquisition failure until Rearm is called
	ErrStartDisabled = errors.New("start disabled after acquisition failure")

	// ErrPipelineNotFound is returned by the manager for unknown camera ids
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrInvalidSurface is returned by Resize for sizes outside 1x1 .. MaxSurfaceWidth x MaxSurfaceHeight
	ErrInvalidSurface = errors.New("invalid surface size")
)

// ErrorKind classifies failures reported through error events
type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"
	KindApplication ErrorKind = "application"
	KindAcquisition ErrorKind = "acquisition"
	KindCapture     ErrorKind = "capture"
)

// DetectionError is a classified failure of one detection cycle
type DetectionError struct {
	Kind     ErrorKind
	Detector string
	Err      error
}

func (e *DetectionError) Error() string {
	if e.Detector != "" {
		return fmt.Sprintf("%s %s error: %v", e.Detector, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransport) and errors.Is(err, ErrApplication) match on kind
func (e *DetectionError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrApplication:
		return e.Kind == KindApplication
	case ErrAcquisition:
		return e.Kind == KindAcquisition
	}
	return false
}

// TransportError wraps err as a transport failure of the named detector
func TransportError(detector string, err error) error {
	return &DetectionError{Kind: KindTransport, Detector: detector, Err: err}
}

// ApplicationError builds an application failure from the detector's error message
func ApplicationError(detector, message string) error {
	if message == "" {
		message = "success=false"
	}
	return &DetectionError{Kind: KindApplication, Detector: detector, Err: errors.New(message)}
}

// KindOf returns the kind of a reported error; unclassified errors count as transport
func KindOf(err error) ErrorKind {
	var de *DetectionError
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, ErrAcquisition) {
		return KindAcquisition
	}
	if errors.Is(err, ErrNotReady) {
		return KindCapture
	}
	return KindTransport
}
