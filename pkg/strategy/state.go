package strategy

import (
	"math"
	"sync"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/vision"
)

// State is the coarse behavioral phase of the search/approach/stop
// cycle, independent of the fine-grained movement command.
type State int

const (
	Initializing State = iota
	Searching
	Centering
	Approaching
	Recovering
	Stopped
	Error
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Searching:
		return "searching"
	case Centering:
		return "centering"
	case Approaching:
		return "approaching"
	case Recovering:
		return "recovering"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// StateMachine tracks the behavioral phase from the detection stream.
//
// The machine is advisory: it never issues commands. The orchestrator
// records actuator faults into it and reports its phase through the
// status surface; Error is terminal until Reset.
type StateMachine struct {
	cfg *config.Config

	mu               sync.Mutex
	current          State
	previous         State
	errMsg           string
	searchCycles     int
	recoveryAttempts int
}

// NewStateMachine creates a machine in the Initializing state.
// Reset moves it to Searching.
func NewStateMachine(cfg *config.Config) *StateMachine {
	return &StateMachine{cfg: cfg, current: Initializing}
}

// Update advances the machine with a new detection cycle.
// While in Error, updates are no-ops until Reset.
func (sm *StateMachine) Update(dets []vision.Detection) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.current == Error {
		return
	}
	if sm.current == Initializing {
		sm.transition(Searching)
	}

	if len(dets) == 0 {
		sm.handleNoDetection()
		return
	}
	sm.handleDetection(dets)
}

func (sm *StateMachine) handleNoDetection() {
	switch sm.current {
	case Approaching, Centering:
		sm.recoveryAttempts = 0
		sm.transition(Recovering)
	case Stopped:
		sm.transition(Searching)
	case Recovering:
		sm.recoveryAttempts++
		if sm.recoveryAttempts >= sm.cfg.Motion.MaxRecoveryAttempts {
			sm.recoveryAttempts = 0
			sm.transition(Searching)
		}
	case Searching:
		sm.searchCycles++ // telemetry only
	}
}

func (sm *StateMachine) handleDetection(dets []vision.Detection) {
	target := selectTarget(dets, sm.cfg)
	off := offset(target, sm.cfg)
	ratio := target.Area() / sm.cfg.Motion.TargetArea

	switch sm.current {
	case Searching:
		sm.searchCycles = 0
		sm.transition(Centering)
	case Recovering:
		sm.recoveryAttempts = 0
		sm.transition(Centering)
	case Centering:
		if math.Abs(off) < sm.cfg.Motion.CenterThreshold {
			sm.transition(Approaching)
		}
	case Approaching:
		if ratio >= sm.cfg.Motion.Thresholds.Stop {
			sm.transition(Stopped)
		}
	}
}

// transition moves to next, retaining the previous state for logging.
// Caller holds sm.mu.
func (sm *StateMachine) transition(next State) {
	if next == sm.current {
		return
	}
	sm.previous = sm.current
	sm.current = next
	log.Info("behavior state transition",
		"from", sm.previous.String(), "to", sm.current.String())
}

// RecordError moves the machine into the terminal Error state.
func (sm *StateMachine) RecordError(msg string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.errMsg = msg
	sm.transition(Error)
	log.Error("behavior state machine entered error state", "err", msg)
}

// Reset restores Searching and clears all counters and the error.
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.previous = sm.current
	sm.current = Searching
	sm.errMsg = ""
	sm.searchCycles = 0
	sm.recoveryAttempts = 0
	log.Info("behavior state machine reset")
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// Previous returns the state before the last transition.
func (sm *StateMachine) Previous() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.previous
}

// ErrorMessage returns the recorded error, empty when not in Error.
func (sm *StateMachine) ErrorMessage() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.errMsg
}

// ShouldStop reports whether the rover has reached its target.
func (sm *StateMachine) ShouldStop() bool {
	return sm.State() == Stopped
}

// InError reports whether the machine is in the terminal Error state.
func (sm *StateMachine) InError() bool {
	return sm.State() == Error
}

// SearchCycles returns the telemetry counter of consecutive search
// cycles without a detection.
func (sm *StateMachine) SearchCycles() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.searchCycles
}
