// Package camera provides frame capture and latest-wins frame delivery.
//
// The pipeline decouples the capture rate from the consumption rate:
// a single producer publishes into a one-slot buffer and any number of
// readers observe the most recent frame without consuming it for each
// other. New frames replace unconsumed ones; nothing is ever queued.
package camera

import "time"

// Frame is a single captured image.
//
// Frames are shared by reference between the pipeline and its readers.
// Data must not be modified after the frame is published.
type Frame struct {
	// Data contains the JPEG-encoded frame bytes.
	Data []byte

	// Width and Height in pixels.
	Width  int
	Height int

	// Timestamp is the capture time, not the processing time.
	Timestamp time.Time

	// Seq is a monotonically increasing sequence number assigned by the
	// pipeline at publish time. Readers use it to detect new frames.
	Seq uint64
}
