// Package detection provides person and face detection on decoded frames
// using OpenCV's DNN module and Haar cascades.
package detection

import (
	"errors"
	"fmt"
	"image"
	"os"
)

// ErrModelLoad is returned when model or cascade artifacts are missing or unreadable.
var ErrModelLoad = errors.New("detection: model load failed")

// Artifact file names expected in the model cache.
const (
	YOLOConfigFile  = "yolov3.cfg"
	YOLOWeightsFile = "yolov3.weights"
	FaceCascadeFile = "haarcascade_frontalface_default.xml"
)

// Detection represents a detected object in pixel coordinates.
type Detection struct {
	Box        image.Rectangle
	Confidence float64 // class-conditional score (0-1), 0 for cascade hits
}

// Center returns the center point of the detection
func (d Detection) Center() image.Point {
	return image.Pt(d.Box.Min.X+d.Box.Dx()/2, d.Box.Min.Y+d.Box.Dy()/2)
}

// MaxConfidence returns the highest confidence among dets, or 0.
func MaxConfidence(dets []Detection) float64 {
	best := 0.0
	for _, d := range dets {
		if d.Confidence > best {
			best = d.Confidence
		}
	}
	return best
}

// requireFile fails with ErrModelLoad unless path names a readable file.
func requireFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrModelLoad)
	}
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	if st.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrModelLoad, path)
	}
	return nil
}
