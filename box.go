package yoloconv

import "math"

// YOLOBox converts a box in percent to the normalized YOLO center, width and height. It returns
// false if the box has no geometry.
func YOLOBox(b *BoxGeometry) (x, y, w, h float64, ok bool) {
	if b == nil {
		return 0, 0, 0, 0, false
	}

	x = (b.X + b.Width/2) / 100
	y = (b.Y + b.Height/2) / 100
	w = b.Width / 100
	h = b.Height / 100
	return x, y, w, h, true
}

// YOLOOBB returns the normalized corners top-left, top-right, bottom-right and bottom-left of a
// box rotated by b.Rotation degrees about its top-left corner.
//
// The rotation is applied in pixel space, so the image size must be known. It returns false if
// the box has no geometry or no image size.
func YOLOOBB(b *BoxGeometry) (corners [4]Point, ok bool) {
	if b == nil || b.OriginalWidth <= 0 || b.OriginalHeight <= 0 {
		return corners, false
	}

	imgW := float64(b.OriginalWidth)
	imgH := float64(b.OriginalHeight)
	x := b.X / 100 * imgW
	y := b.Y / 100 * imgH
	w := b.Width / 100 * imgW
	h := b.Height / 100 * imgH

	rad := b.Rotation * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)

	// Offsets from the top-left corner before rotation.
	offsets := [4]Point{{0, 0}, {w, 0}, {w, h}, {0, h}}
	for i, o := range offsets {
		corners[i] = Point{
			X: (x + o.X*cos - o.Y*sin) / imgW,
			Y: (y + o.X*sin + o.Y*cos) / imgH,
		}
	}
	return corners, true
}
