package pipeline

// MapBox converts a capture-space box to render space by independent x/y scaling.
// With unknown capture dimensions the box is returned unchanged.
func MapBox(box BBox, captureWidth, captureHeight, surfaceWidth, surfaceHeight int) BBox {
	if captureWidth <= 0 || captureHeight <= 0 {
		return box
	}

	sx := float64(surfaceWidth) / float64(captureWidth)
	sy := float64(surfaceHeight) / float64(captureHeight)

	return BBox{
		X1: box.X1 * sx,
		Y1: box.Y1 * sy,
		X2: box.X2 * sx,
		Y2: box.Y2 * sy,
	}
}

// Extrapolate advances box along v for elapsedMs milliseconds
func Extrapolate(box BBox, v Velocity, elapsedMs float64) BBox {
	if elapsedMs <= 0 {
		return box
	}
	return BBox{
		X1: box.X1 + v.X1*elapsedMs,
		Y1: box.Y1 + v.Y1*elapsedMs,
		X2: box.X2 + v.X2*elapsedMs,
		Y2: box.Y2 + v.Y2*elapsedMs,
	}
}
