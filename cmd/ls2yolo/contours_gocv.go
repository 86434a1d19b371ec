//go:build gocv
// +build gocv

package main

import "github.com/sensorable/yoloconv"

func init() {
	contourExtractor = yoloconv.CVContours{}
}
