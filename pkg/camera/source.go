package camera

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// FrameSource captures raw frames. Implementations may fail transiently;
// the pipeline retries with backoff rather than propagating failures to
// consumers.
type FrameSource interface {
	// Capture grabs one frame. Blocking.
	Capture() (*Frame, error)

	// Close releases the underlying device.
	Close() error
}

// Webcam is a FrameSource backed by a V4L2 device via gocv.
type Webcam struct {
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// OpenWebcam opens the given capture device and configures its resolution.
func OpenWebcam(device, width, height int) (*Webcam, error) {
	cap, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		return nil, fmt.Errorf("open capture device %d: %w", device, err)
	}

	cap.Set(gocv.VideoCaptureFrameWidth, float64(width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(height))

	return &Webcam{
		cap: cap,
		mat: gocv.NewMat(),
	}, nil
}

// Capture reads one frame from the device and returns it JPEG-encoded.
func (w *Webcam) Capture() (*Frame, error) {
	if ok := w.cap.Read(&w.mat); !ok {
		return nil, fmt.Errorf("capture device read failed")
	}
	if w.mat.Empty() {
		return nil, fmt.Errorf("capture returned empty frame")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, w.mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// Copy out of the native buffer; the frame outlives this call.
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	return &Frame{
		Data:      data,
		Width:     w.mat.Cols(),
		Height:    w.mat.Rows(),
		Timestamp: time.Now(),
	}, nil
}

// Close releases the capture device.
func (w *Webcam) Close() error {
	w.mat.Close()
	return w.cap.Close()
}
