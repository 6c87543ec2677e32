package strategy

import (
	"math"
	"sort"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/vision"
)

// Memory is the only state the decider carries across cycles.
// It is mutated solely by Decide.
type Memory struct {
	NoDetectionCount int
	LastArea         float64
	LastSeenValid    bool
}

// Reset clears the memory to its initial state.
func (m *Memory) Reset() {
	*m = Memory{}
}

// Decide returns the next movement command for the given detections.
//
// This is a stateful hysteresis policy: repeated calls with the same
// instantaneous input can yield different commands depending on mem.
// Given the same (dets, mem, cfg) the result is deterministic. The
// policy never idles; there is always a command.
func Decide(dets []vision.Detection, mem *Memory, cfg *config.Config) Command {
	if len(dets) > 0 {
		return decideOnTarget(selectTarget(dets, cfg), mem, cfg)
	}

	// No detection this cycle.
	mem.NoDetectionCount++

	// If we just lost a target that was close, take a single blind step
	// forward. LastSeenValid is cleared so the lunge never repeats.
	if mem.LastSeenValid && mem.LastArea/cfg.Motion.TargetArea >= cfg.Motion.Thresholds.Recovery {
		mem.LastSeenValid = false
		log.Debug("decide: recovery forward",
			"last_ratio", mem.LastArea/cfg.Motion.TargetArea)
		return RecoveryForward
	}

	if mem.NoDetectionCount >= cfg.Motion.MaxNoBall {
		mem.NoDetectionCount = 0
		mem.LastSeenValid = false
		log.Debug("decide: search, counter reset")
		return Search
	}

	log.Debug("decide: search", "no_detection_count", mem.NoDetectionCount)
	return Search
}

// selectTarget picks one detection to act on.
//
// The largest detection wins unless others are within the similarity
// fraction of its area; among such near-ties the one closest to frame
// center wins. Breaking ties by centering convenience avoids
// oscillating between two near-identical targets by area alone.
func selectTarget(dets []vision.Detection, cfg *config.Config) vision.Detection {
	if len(dets) == 1 {
		return dets[0]
	}

	sorted := make([]vision.Detection, len(dets))
	copy(sorted, dets)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Area() > sorted[j].Area()
	})

	largest := sorted[0]
	cutoff := largest.Area() * cfg.Motion.SimilarityThreshold
	if sorted[1].Area() < cutoff {
		return largest
	}

	best := largest
	bestOffset := math.Abs(offset(largest, cfg))
	for _, d := range sorted[1:] {
		if d.Area() < cutoff {
			break
		}
		if o := math.Abs(offset(d, cfg)); o < bestOffset {
			best = d
			bestOffset = o
		}
	}
	return best
}

// offset is the target's horizontal distance from frame center,
// corrected for the camera's lens offset. Negative means left of center.
func offset(d vision.Detection, cfg *config.Config) float64 {
	return d.CenterX() - float64(cfg.Vision.CameraOffset) - float64(cfg.Vision.FrameWidth)/2
}

func decideOnTarget(target vision.Detection, mem *Memory, cfg *config.Config) Command {
	off := offset(target, cfg)
	area := target.Area()
	ratio := area / cfg.Motion.TargetArea

	mem.NoDetectionCount = 0
	mem.LastArea = area
	mem.LastSeenValid = true

	// Close enough: stop.
	if ratio >= cfg.Motion.Thresholds.Stop {
		log.Debug("decide: stop", "ratio", ratio)
		return Stop
	}

	// Centered: move forward, gently when already close.
	if math.Abs(off) <= cfg.Motion.CenterThreshold {
		if ratio >= cfg.Motion.Thresholds.Micro {
			log.Debug("decide: micro forward", "ratio", ratio, "offset", off)
			return MicroForward
		}
		log.Debug("decide: small forward", "ratio", ratio, "offset", off)
		return SmallForward
	}

	// Off-center: rotate toward the target, step size by how far off.
	var cmd Command
	if math.Abs(off) > cfg.Motion.CenterThreshold*2 {
		if off < 0 {
			cmd = StepLeft
		} else {
			cmd = StepRight
		}
	} else {
		if off < 0 {
			cmd = MicroLeft
		} else {
			cmd = MicroRight
		}
	}
	log.Debug("decide: rotate", "command", cmd, "offset", off, "ratio", ratio)
	return cmd
}
