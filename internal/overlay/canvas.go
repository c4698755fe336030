// Package overlay rasterizes the annotation overlay and composites it onto the live camera frame.
package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"math"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"moodcam/internal/pipeline"
)

// Publisher receives composited JPEG frames, typically an MJPEG stream
type Publisher interface {
	Publish(frame []byte)
}

// Config controls the canvas size and how often Present encodes a frame
type Config struct {
	Width   int
	Height  int
	FPS     int // Composite frames per second sent to the publisher (0 = every tick)
	Quality int // JPEG quality 1-100
}

var (
	knownColor   = color.RGBA{0, 255, 0, 255}
	unknownColor = color.RGBA{255, 165, 0, 255}
	labelColor   = color.RGBA{255, 255, 255, 255}
	labelBgColor = color.RGBA{0, 0, 0, 180}
)

// BoxColor returns the outline color for an emotion
func BoxColor(e pipeline.Emotion) color.RGBA {
	if e.Known() {
		return knownColor
	}
	return unknownColor
}

// Canvas is a transparent RGBA overlay implementing pipeline.Surface.
// With a background source and a publisher, each Present composites the
// overlay on the current camera frame and publishes it as JPEG.
type Canvas struct {
	mu      sync.Mutex
	overlay *image.RGBA
	boxes   int

	background pipeline.FrameSource
	out        Publisher
	quality    int
	interval   time.Duration
	last       time.Time
	logger     *slog.Logger
}

// NewCanvas creates a canvas; background and out may be nil
func NewCanvas(cfg Config, background pipeline.FrameSource, out Publisher, logger *slog.Logger) *Canvas {
	if !pipeline.ValidSurface(cfg.Width, cfg.Height) {
		cfg.Width, cfg.Height = 640, 480
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 80
	}
	if logger == nil {
		logger = slog.Default()
	}

	var interval time.Duration
	if cfg.FPS > 0 {
		interval = time.Second / time.Duration(cfg.FPS)
	}

	return &Canvas{
		overlay:    image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
		background: background,
		out:        out,
		quality:    cfg.Quality,
		interval:   interval,
		logger:     logger.With("component", "overlay"),
	}
}

// Size implements pipeline.Surface
func (c *Canvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.overlay.Bounds()
	return b.Dx(), b.Dy()
}

// Resize replaces the overlay with an empty one of the new size.
// Sizes pipeline.ValidSurface rejects are ignored.
func (c *Canvas) Resize(width, height int) {
	if !pipeline.ValidSurface(width, height) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlay = image.NewRGBA(image.Rect(0, 0, width, height))
	c.boxes = 0
}

// Clear implements pipeline.Surface
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.overlay.Pix)
	c.boxes = 0
}

// DrawBox implements pipeline.Surface. Coordinates far outside the canvas are
// clamped to just beyond its edges; boxes with non-finite coordinates are skipped.
func (c *Canvas) DrawBox(box pipeline.BBox, label string, emotion pipeline.Emotion) {
	for _, v := range []float64{box.X1, box.Y1, box.X2, box.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return
		}
	}
	col := BoxColor(emotion)

	c.mu.Lock()
	defer c.mu.Unlock()

	bounds := c.overlay.Bounds()
	x1 := clampCoord(box.X1, bounds.Dx())
	y1 := clampCoord(box.Y1, bounds.Dy())
	x2 := clampCoord(box.X2, bounds.Dx())
	y2 := clampCoord(box.Y2, bounds.Dy())
	drawBox(c.overlay, x1, y1, x2-x1, y2-y1, col, 2)
	drawLabel(c.overlay, x1, y1-15, label)
	c.boxes++
}

// Boxes returns how many boxes were drawn since the last Clear
func (c *Canvas) Boxes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boxes
}

// Overlay returns a copy of the overlay layer
func (c *Canvas) Overlay() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := image.NewRGBA(c.overlay.Bounds())
	copy(cp.Pix, c.overlay.Pix)
	return cp
}

// Present implements pipeline.Presenter
func (c *Canvas) Present(now time.Time) {
	c.present(now, false)
}

// Flush implements pipeline.Flusher; it publishes even inside the rate limit
func (c *Canvas) Flush(now time.Time) {
	c.present(now, true)
}

func (c *Canvas) present(now time.Time, force bool) {
	if c.out == nil {
		return
	}

	c.mu.Lock()
	if !force && c.interval > 0 && !c.last.IsZero() && now.Sub(c.last) < c.interval {
		c.mu.Unlock()
		return
	}
	c.last = now
	frame := c.composite()
	c.mu.Unlock()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: c.quality}); err != nil {
		c.logger.Warn("failed to encode composite frame", "error", err)
		return
	}
	c.out.Publish(buf.Bytes())
}

// composite draws the background scaled to the overlay size with the overlay on top.
// Called with c.mu held.
func (c *Canvas) composite() *image.RGBA {
	bounds := c.overlay.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.NewUniform(color.Black), image.Point{}, draw.Src)

	if c.background != nil {
		if img, err := c.background.CurrentFrame(); err == nil && img != nil {
			if img.Bounds().Size() == bounds.Size() {
				draw.Draw(dst, bounds, img, img.Bounds().Min, draw.Src)
			} else {
				xdraw.ApproxBiLinear.Scale(dst, bounds, img, img.Bounds(), xdraw.Src, nil)
			}
		}
	}

	draw.Draw(dst, bounds, c.overlay, bounds.Min, draw.Over)
	return dst
}

// drawBox draws a rectangle outline clipped to the image. Only the visible part
// of each edge is filled.
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(x, y, x+w+1, y+thickness),         // top
		image.Rect(x, y+h-thickness+1, x+w+1, y+h+1), // bottom
		image.Rect(x, y, x+thickness, y+h+1),         // left
		image.Rect(x+w-thickness+1, y, x+w+1, y+h+1), // right
	}
	for _, r := range edges {
		r = r.Canon().Intersect(bounds)
		if !r.Empty() {
			draw.Draw(img, r, src, image.Point{}, draw.Src)
		}
	}
}

// clampCoord converts v to a pixel coordinate kept within a small margin of [0, size]
func clampCoord(v float64, size int) int {
	const margin = 16
	if v < -margin {
		return -margin
	}
	if v > float64(size+margin) {
		return size + margin
	}
	return int(v)
}

// drawLabel draws white text on a dark background; labels are kept inside the image
func drawLabel(img *image.RGBA, x, y int, label string) {
	if y < 2 {
		y = 2
	}
	if x < 0 {
		x = 0
	}

	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()
	bg := image.Rect(x-2, y-2, x+textWidth+2, y+12).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(labelBgColor), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}

var (
	_ pipeline.Surface   = (*Canvas)(nil)
	_ pipeline.Presenter = (*Canvas)(nil)
	_ pipeline.Flusher   = (*Canvas)(nil)
	_ pipeline.Resizable = (*Canvas)(nil)
)
