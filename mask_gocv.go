//go:build gocv
// +build gocv

package yoloconv

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// CVContours extracts contours with OpenCV's findContours (RETR_EXTERNAL, CHAIN_APPROX_SIMPLE).
// It requires building with the gocv tag and an installed OpenCV.
type CVContours struct{}

// Contours implements ContourExtractor.
func (CVContours) Contours(rle []byte, width, height int) (
	[][]float64, [][4]float64, []float64, error) {

	fg, err := decodeMask(rle, width, height)
	if err != nil {
		return nil, nil, nil, err
	}

	pixels := make([]byte, len(fg))
	for i, v := range fg {
		if v {
			pixels[i] = 255
		}
	}
	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC1, pixels)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "cannot create mask matrix")
	}
	defer mat.Close()

	found := gocv.FindContours(mat, gocv.RetrievalExternal, gocv.ChainApproxSimple)

	var contours [][]float64
	var bboxes [][4]float64
	var areas []float64
	for _, c := range found {
		if len(c) < minContourPoints {
			continue
		}
		coords := make([]float64, 0, 2*len(c))
		for _, p := range c {
			coords = append(coords, float64(p.X), float64(p.Y))
		}
		r := gocv.BoundingRect(c)
		contours = append(contours, coords)
		bboxes = append(bboxes, rectToBBox(r))
		areas = append(areas, gocv.ContourArea(c))
	}
	return contours, bboxes, areas, nil
}

func rectToBBox(r image.Rectangle) [4]float64 {
	return [4]float64{float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy())}
}
