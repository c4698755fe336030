package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"
)

// Encoder turns the current raster into a fixed-size JPEG Frame
type Encoder struct {
	cameraID string
	width    int // 0 keeps the source width
	height   int // 0 keeps the source height
	quality  int
	seq      atomic.Uint64
}

// NewEncoder creates an encoder producing width x height frames at the given JPEG quality
func NewEncoder(cameraID string, width, height, quality int) *Encoder {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Encoder{
		cameraID: cameraID,
		width:    width,
		height:   height,
		quality:  quality,
	}
}

// Encode scales img to the capture size and JPEG-encodes it
func (e *Encoder) Encode(img image.Image, capturedAt time.Time) (*Frame, error) {
	if img == nil {
		return nil, ErrNotReady
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, ErrNotReady
	}

	w, h := e.width, e.height
	if w <= 0 {
		w = bounds.Dx()
	}
	if h <= 0 {
		h = bounds.Dy()
	}

	src := img
	if w != bounds.Dx() || h != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	return &Frame{
		CameraID:   e.cameraID,
		Data:       buf.Bytes(),
		Seq:        e.seq.Add(1),
		CapturedAt: capturedAt,
		Width:      w,
		Height:     h,
	}, nil
}
