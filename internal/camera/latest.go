package camera

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"moodcam/internal/pipeline"
)

// latestFrame keeps the most recent encoded frame and decodes it on demand
type latestFrame struct {
	mu       sync.RWMutex
	data     []byte
	seq      uint64
	at       time.Time
	width    int
	height   int
	decoded  image.Image
	decodedN uint64
}

func (l *latestFrame) setSize(width, height int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.width, l.height = width, height
}

// store records a new encoded frame
func (l *latestFrame) store(data []byte, at time.Time) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))

	l.mu.Lock()
	defer l.mu.Unlock()

	l.data = data
	l.seq++
	l.at = at
	if err == nil {
		l.width, l.height = cfg.Width, cfg.Height
	}
}

func (l *latestFrame) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.data = nil
	l.decoded = nil
	l.decodedN = 0
	l.at = time.Time{}
}

func (l *latestFrame) readyState() pipeline.ReadyState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch {
	case len(l.data) > 0:
		return pipeline.ReadyCurrentFrame
	case l.width > 0 && l.height > 0:
		return pipeline.ReadyMetadata
	default:
		return pipeline.ReadyNothing
	}
}

// image returns the decoded latest frame, decoding at most once per frame
func (l *latestFrame) image() (image.Image, error) {
	l.mu.RLock()
	if len(l.data) == 0 {
		l.mu.RUnlock()
		return nil, pipeline.ErrNotReady
	}
	if l.decoded != nil && l.decodedN == l.seq {
		img := l.decoded
		l.mu.RUnlock()
		return img, nil
	}
	data, seq := l.data, l.seq
	l.mu.RUnlock()

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	l.mu.Lock()
	if seq >= l.decodedN {
		l.decoded = img
		l.decodedN = seq
	}
	l.mu.Unlock()
	return img, nil
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := bytes.Index(*buffer, []byte{0xFF, 0xD8})
	if startIdx == -1 {
		// Keep the last byte, it may be the first half of a marker
		*buffer = (*buffer)[len(*buffer)-1:]
		return nil
	}

	// Find JPEG end marker (FFD9)
	endRel := bytes.Index((*buffer)[startIdx+2:], []byte{0xFF, 0xD9})
	if endRel == -1 {
		return nil
	}
	endIdx := startIdx + 2 + endRel + 2

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}
