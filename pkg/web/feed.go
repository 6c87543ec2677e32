package web

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/camera"
)

// FrameFeed is the slice of the frame pipeline the camera stream
// needs. Satisfied by *camera.Pipeline.
type FrameFeed interface {
	RegisterConsumer(name string) string
	UnregisterConsumer(id string)
	Next(ctx context.Context, after uint64) (*camera.Frame, error)
}

// broadcastFrames forwards pipeline frames to camera clients, capped
// at the configured stream rate. Frames produced faster than the cap
// are skipped, never queued.
func (s *Server) broadcastFrames(ctx context.Context, feed FrameFeed) {
	id := feed.RegisterConsumer("web-stream")
	defer feed.UnregisterConsumer(id)

	minGap := time.Duration(0)
	if s.cfg.Web.StreamFPS > 0 {
		minGap = time.Second / time.Duration(s.cfg.Web.StreamFPS)
	}

	var lastSeq uint64
	var lastSent time.Time
	for {
		frame, err := feed.Next(ctx, lastSeq)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("frame feed ended", "err", err)
			}
			return
		}
		lastSeq = frame.Seq

		if s.cameraHub.ClientCount() == 0 {
			continue
		}
		if gap := time.Since(lastSent); gap < minGap {
			continue
		}
		lastSent = time.Now()
		s.cameraHub.BroadcastBinary(frame.Data)
	}
}
