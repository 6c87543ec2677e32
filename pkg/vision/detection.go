// Package vision provides object detection over camera frames.
package vision

import "github.com/teslashibe/go-rover/pkg/camera"

// Detection is a single detected object in frame pixel space.
type Detection struct {
	X, Y       float64 // top-left corner
	W, H       float64 // extent
	Confidence float64
	Label      string
}

// Area returns the bounding box area in pixels.
func (d Detection) Area() float64 {
	return d.W * d.H
}

// CenterX returns the horizontal center of the bounding box.
func (d Detection) CenterX() float64 {
	return d.X + d.W/2
}

// Detector is the interface for object detection backends.
//
// An inference failure is never fatal to the control loop: the caller
// logs it and treats the cycle as having no detections.
type Detector interface {
	// Infer finds objects in the frame. May return an empty slice.
	Infer(frame *camera.Frame) ([]Detection, error)

	// Close releases detector resources.
	Close() error
}
