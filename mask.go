package yoloconv

// Brush mask decoding and contour extraction.

import (
	"image"

	"github.com/pkg/errors"
)

// ContourExtractor turns an RLE mask of width x height pixels into polygon contours.
//
// Each contour is a flat pixel-space coordinate list [x0, y0, x1, y1, ...]. The bounding boxes
// ([x, y, w, h]) and areas are auxiliary outputs, one per contour.
type ContourExtractor interface {
	Contours(rle []byte, width, height int) (contours [][]float64, bboxes [][4]float64,
		areas []float64, err error)
}

// ContourFunc adapts a function to a ContourExtractor.
type ContourFunc func(rle []byte, width, height int) ([][]float64, [][4]float64, []float64, error)

// Contours calls f(rle, width, height).
func (f ContourFunc) Contours(rle []byte, width, height int) (
	[][]float64, [][4]float64, []float64, error) {
	return f(rle, width, height)
}

// minContourPoints is the number of vertices below which a contour is not a polygon.
const minContourPoints = 3

// rleBitReader reads big-endian bit fields from an RLE buffer.
type rleBitReader struct {
	data []byte
	pos  int // In bits.
}

func (r *rleBitReader) read(n int) (uint32, error) {
	if r.pos+n > 8*len(r.data) {
		return 0, errors.Errorf("rle stream truncated at bit %d", r.pos)
	}

	var v uint32
	for i := 0; i < n; i++ {
		bit := r.data[r.pos>>3] >> (7 - uint(r.pos&7)) & 1
		v = v<<1 | uint32(bit)
		r.pos++
	}
	return v, nil
}

// DecodeRLE decodes a Label Studio brush RLE stream into its flat RGBA byte buffer.
//
// The stream starts with the value count (32 bits), the word size minus one (5 bits) and four
// run-length field widths minus one (4 bits each). Each run follows as a repeat flag (1 bit), a
// width selector (2 bits), the run length minus one, and either one repeated word or one word per
// value.
func DecodeRLE(rle []byte) ([]byte, error) {
	r := &rleBitReader{data: rle}

	num, err := r.read(32)
	if err != nil {
		return nil, err
	}
	wordSize, err := r.read(5)
	if err != nil {
		return nil, err
	}
	wordSize++

	var runWidths [4]uint32
	for i := range runWidths {
		w, err := r.read(4)
		if err != nil {
			return nil, err
		}
		runWidths[i] = w + 1
	}

	out := make([]byte, num)
	for i := uint32(0); i < num; {
		repeat, err := r.read(1)
		if err != nil {
			return nil, err
		}
		sel, err := r.read(2)
		if err != nil {
			return nil, err
		}
		n, err := r.read(int(runWidths[sel]))
		if err != nil {
			return nil, err
		}
		j := i + 1 + n
		if j > num || j < i {
			j = num
		}

		if repeat == 1 {
			v, err := r.read(int(wordSize))
			if err != nil {
				return nil, err
			}
			for ; i < j; i++ {
				out[i] = byte(v)
			}
		} else {
			for ; i < j; i++ {
				v, err := r.read(int(wordSize))
				if err != nil {
					return nil, err
				}
				out[i] = byte(v)
			}
		}
	}

	return out, nil
}

// decodeMask decodes rle and returns the foreground (alpha > 0) of the width x height mask.
func decodeMask(rle []byte, width, height int) ([]bool, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid mask size %dx%d", width, height)
	}
	rgba, err := DecodeRLE(rle)
	if err != nil {
		return nil, err
	}
	if len(rgba) != 4*width*height {
		return nil, errors.Errorf("rle holds %d values, want %d for a %dx%d RGBA mask",
			len(rgba), 4*width*height, width, height)
	}

	fg := make([]bool, width*height)
	for i := range fg {
		fg[i] = rgba[4*i+3] > 0
	}
	return fg, nil
}

// BorderTracer extracts the outer contours of a decoded mask in pure Go.
//
// It matches OpenCV's findContours with RETR_EXTERNAL and CHAIN_APPROX_SIMPLE: only borders of
// 8-connected foreground regions that are not enclosed by another region are returned, with the
// points of horizontal, vertical and diagonal runs reduced to their end points. Contours are
// returned in raster order of their top-left pixel.
type BorderTracer struct{}

// Contours implements ContourExtractor.
func (BorderTracer) Contours(rle []byte, width, height int) (
	[][]float64, [][4]float64, []float64, error) {

	fg, err := decodeMask(rle, width, height)
	if err != nil {
		return nil, nil, nil, err
	}
	contours, bboxes, areas := flattenContours(TraceContours(fg, width, height))
	return contours, bboxes, areas, nil
}

// flattenContours converts point contours into flat coordinate lists with bounding boxes and
// areas, dropping contours that are not polygons.
func flattenContours(contours [][]image.Point) ([][]float64, [][4]float64, []float64) {
	var flat [][]float64
	var bboxes [][4]float64
	var areas []float64

	for _, c := range contours {
		if len(c) < minContourPoints {
			continue
		}

		coords := make([]float64, 0, 2*len(c))
		minX, minY, maxX, maxY := c[0].X, c[0].Y, c[0].X, c[0].Y
		var twiceArea int
		for i, p := range c {
			coords = append(coords, float64(p.X), float64(p.Y))
			if p.X < minX {
				minX = p.X
			} else if p.X > maxX {
				maxX = p.X
			}
			if p.Y < minY {
				minY = p.Y
			} else if p.Y > maxY {
				maxY = p.Y
			}

			q := c[(i+1)%len(c)]
			twiceArea += p.X*q.Y - q.X*p.Y
		}
		if twiceArea < 0 {
			twiceArea = -twiceArea
		}

		flat = append(flat, coords)
		bboxes = append(bboxes, [4]float64{
			float64(minX), float64(minY), float64(maxX - minX + 1), float64(maxY - minY + 1)})
		areas = append(areas, float64(twiceArea)/2)
	}

	return flat, bboxes, areas
}

// Neighbour offsets in counter-clockwise order, as seen on screen with y pointing down.
var ccwNeighbours = [8]image.Point{
	{1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1}, {0, 1}, {1, 1},
}

// TraceContours returns the chain-approximated outer borders of the 8-connected foreground
// regions of the width x height mask fg that are reachable from outside the image.
func TraceContours(fg []bool, width, height int) [][]image.Point {
	at := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < width && y < height && fg[y*width+x]
	}

	outside := outerBackground(fg, width, height)
	label := make([]int, len(fg)) // Component number + 1, zero for unlabelled.

	var contours [][]image.Point
	var queue []int
	for idx, isFg := range fg {
		if !isFg || label[idx] != 0 {
			continue
		}

		// Label the component and find whether it borders the outer background.
		comp := idx + 1
		external := false
		label[idx] = comp
		queue = append(queue[:0], idx)
		for len(queue) > 0 {
			cur := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := cur%width, cur/width

			for d, o := range ccwNeighbours {
				nx, ny := x+o.X, y+o.Y
				if nx < 0 || ny < 0 || nx >= width || ny >= height {
					if d%2 == 0 {
						external = true
					}
					continue
				}
				n := ny*width + nx
				if fg[n] {
					if label[n] == 0 {
						label[n] = comp
						queue = append(queue, n)
					}
				} else if d%2 == 0 && outside[n] {
					external = true
				}
			}
		}

		if external {
			start := image.Point{X: idx % width, Y: idx / width}
			contours = append(contours, approxSimple(traceBorder(start, at)))
		}
	}

	return contours
}

// outerBackground marks the background pixels 4-connected to the image border.
func outerBackground(fg []bool, width, height int) []bool {
	outside := make([]bool, len(fg))
	var queue []int
	push := func(x, y int) {
		if x < 0 || y < 0 || x >= width || y >= height {
			return
		}
		if n := y*width + x; !fg[n] && !outside[n] {
			outside[n] = true
			queue = append(queue, n)
		}
	}

	for x := 0; x < width; x++ {
		push(x, 0)
		push(x, height-1)
	}
	for y := 0; y < height; y++ {
		push(0, y)
		push(width-1, y)
	}
	for len(queue) > 0 {
		cur := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := cur%width, cur/width
		push(x+1, y)
		push(x-1, y)
		push(x, y+1)
		push(x, y-1)
	}

	return outside
}

// traceBorder follows the outer border of the region containing start, which must be its
// top-left pixel, using Moore-neighbour tracing with Jacob's stopping criterion. The region is
// kept on the left, so the border runs down its left side first.
func traceBorder(start image.Point, at func(x, y int) bool) []image.Point {
	points := []image.Point{start}
	p := start
	search := 4 // West of the top-left pixel is background.
	first := -1

	for {
		k := -1
		for i := 0; i < 8; i++ {
			d := (search + i) % 8
			if n := p.Add(ccwNeighbours[d]); at(n.X, n.Y) {
				k = d
				break
			}
		}
		if k < 0 {
			break // Isolated pixel.
		}
		if p == start && k == first {
			break
		}
		if first < 0 {
			first = k
		}

		p = p.Add(ccwNeighbours[k])
		points = append(points, p)

		// Resume at the background pixel examined just before p.
		if k%2 == 0 {
			search = (k + 6) % 8
		} else {
			search = (k + 5) % 8
		}
	}

	if n := len(points); n > 1 && points[n-1] == start {
		points = points[:n-1]
	}
	return points
}

// approxSimple keeps only the points of a closed border where the step direction changes.
func approxSimple(points []image.Point) []image.Point {
	n := len(points)
	if n <= 2 {
		return points
	}

	kept := make([]image.Point, 0, n)
	for i, p := range points {
		prev := points[(i+n-1)%n]
		next := points[(i+1)%n]
		if p.Sub(prev) != next.Sub(p) {
			kept = append(kept, p)
		}
	}
	return kept
}
