// Package rover wires the camera pipeline, detector, decision policy
// and actuator into a single supervised control loop.
package rover

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/camera"
	"github.com/teslashibe/go-rover/pkg/strategy"
	"github.com/teslashibe/go-rover/pkg/vision"
)

// RunState tracks the controller's lifecycle, separate from the
// behavior state machine.
type RunState int32

const (
	NotStarted RunState = iota
	Initializing
	Running
	EmergencyStopping
	CleaningUp
	Stopped
)

func (s RunState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case EmergencyStopping:
		return "emergency_stopping"
	case CleaningUp:
		return "cleaning_up"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Actuator is the slice of the motion layer the controller drives.
type Actuator interface {
	Init() error
	Verify() error
	Apply(ctx context.Context, cmd strategy.Command) error
	Stop() error
	FinsOn(duty int) error
	Cleanup() error
}

// Status is a point-in-time snapshot of the controller, safe to
// serialize for the monitoring endpoints.
type Status struct {
	RunState      string `json:"run_state"`
	BehaviorState string `json:"behavior_state"`
	LastCommand   string `json:"last_command"`
	CameraHealthy bool   `json:"camera_healthy"`
	Consumers     int    `json:"consumers"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// CleanupError aggregates the failures of a best-effort teardown.
// Every stage runs regardless of earlier failures.
type CleanupError struct {
	Errs []error
}

func (e *CleanupError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("cleanup failed: %s", strings.Join(msgs, "; "))
}

// Controller runs the perceive/decide/act loop. Construct with
// NewController, then Initialize, then Run. Cleanup is safe to call
// at any point and from any goroutine.
type Controller struct {
	cfg      *config.Config
	pipeline *camera.Pipeline
	source   camera.FrameSource
	detector vision.Detector
	actuator Actuator
	machine  *strategy.StateMachine
	dev      bool

	mem strategy.Memory

	runState  atomic.Int32
	emergency atomic.Bool

	cmdMu   sync.Mutex
	lastCmd strategy.Command

	cleanupMu  sync.Mutex
	cleaned    bool
	cleanupErr error
}

func NewController(cfg *config.Config, source camera.FrameSource, detector vision.Detector, actuator Actuator, dev bool) *Controller {
	return &Controller{
		cfg:      cfg,
		pipeline: camera.NewPipeline(source, camera.PipelineConfig{
			CaptureBackoff: cfg.Pipeline.Backoff(),
			MaxFailures:    cfg.Pipeline.MaxFailures,
		}),
		source:   source,
		detector: detector,
		actuator: actuator,
		machine:  strategy.NewStateMachine(cfg),
		dev:      dev,
	}
}

// Pipeline exposes the frame pipeline for monitoring consumers.
func (c *Controller) Pipeline() *camera.Pipeline {
	return c.pipeline
}

// Initialize brings up the capture pipeline and the actuator. On any
// failure it tears down whatever came up and returns the cause.
func (c *Controller) Initialize(ctx context.Context) error {
	c.runState.Store(int32(Initializing))

	c.pipeline.Start(ctx)

	if err := c.actuator.Init(); err != nil {
		c.failInit()
		return fmt.Errorf("actuator init: %w", err)
	}
	if err := c.actuator.Verify(); err != nil {
		c.failInit()
		return fmt.Errorf("actuator verify: %w", err)
	}
	if err := c.actuator.FinsOn(0); err != nil {
		c.failInit()
		return fmt.Errorf("fins on: %w", err)
	}

	c.mem.Reset()
	c.machine.Reset()

	log.Info("controller initialized", "dev", c.dev)
	return nil
}

func (c *Controller) failInit() {
	if err := c.Cleanup(); err != nil {
		log.Error("cleanup after failed init", "err", err)
	}
}

// Run executes the control loop until ctx is cancelled or an
// emergency stop fires. Always leaves the hardware stopped and
// released before returning.
func (c *Controller) Run(ctx context.Context) error {
	c.runState.Store(int32(Running))
	consumerID := c.pipeline.RegisterConsumer("control-loop")
	defer c.pipeline.UnregisterConsumer(consumerID)
	log.Info("control loop started")

	for {
		select {
		case <-ctx.Done():
			c.EmergencyStop()
			if err := c.Cleanup(); err != nil {
				log.Error("cleanup on shutdown", "err", err)
			}
			return ctx.Err()
		default:
		}

		if c.emergency.Load() {
			log.Warn("emergency stop observed, leaving control loop")
			if err := c.Cleanup(); err != nil {
				log.Error("cleanup after emergency stop", "err", err)
			}
			return nil
		}

		dets := c.perceive(ctx)

		// Cancellation while waiting on a frame takes the emergency
		// path at the loop top, not one last command.
		if ctx.Err() != nil {
			continue
		}

		c.machine.Update(dets)
		cmd := strategy.Decide(dets, &c.mem, c.cfg)

		c.cmdMu.Lock()
		c.lastCmd = cmd
		c.cmdMu.Unlock()

		// Actuator write failures end the run: a partially applied
		// motor command is unsafe to leave standing and motor writes
		// are never retried blindly.
		if err := c.actuator.Apply(ctx, cmd); err != nil {
			c.machine.RecordError(err.Error())
			log.Error("actuator apply failed, ending run", "command", cmd.String(), "err", err)
			c.EmergencyStop()
			if cleanErr := c.Cleanup(); cleanErr != nil {
				log.Error("cleanup after actuator failure", "err", cleanErr)
			}
			return err
		}

		c.pace(ctx)
	}
}

// perceive grabs the freshest frame and runs inference on it. Any
// failure along the way degrades to "nothing detected" so the
// behavior layer can react rather than the loop dying.
func (c *Controller) perceive(ctx context.Context) []vision.Detection {
	frameCtx, cancel := context.WithTimeout(ctx, c.cfg.Pipeline.Timeout())
	frame, err := c.pipeline.Latest(frameCtx)
	cancel()
	if err != nil {
		log.Warn("no frame available", "err", err)
		return nil
	}

	dets, err := c.detector.Infer(frame)
	if err != nil {
		log.Warn("inference failed", "seq", frame.Seq, "err", err)
		return nil
	}
	return dets
}

func (c *Controller) pace(ctx context.Context) {
	t := time.NewTimer(c.cfg.Motion.Pace(c.dev))
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// EmergencyStop halts the wheels immediately and latches a flag the
// control loop checks each iteration. Safe from any goroutine.
func (c *Controller) EmergencyStop() {
	if c.emergency.Swap(true) {
		return
	}
	c.runState.Store(int32(EmergencyStopping))
	log.Warn("emergency stop")
	if err := c.actuator.Stop(); err != nil {
		log.Error("emergency stop write failed", "err", err)
	}
}

// Cleanup releases everything in a fixed order, each stage
// best-effort. Idempotent: later calls return the first result.
func (c *Controller) Cleanup() error {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	if c.cleaned {
		return c.cleanupErr
	}
	c.cleaned = true
	c.runState.Store(int32(CleaningUp))

	var errs []error
	if err := c.actuator.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("actuator stop: %w", err))
	}
	if err := c.actuator.Cleanup(); err != nil {
		errs = append(errs, fmt.Errorf("actuator release: %w", err))
	}

	c.mem.Reset()
	c.machine.Reset()

	c.pipeline.Stop()
	if err := c.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("camera close: %w", err))
	}
	if err := c.detector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("detector close: %w", err))
	}

	c.runState.Store(int32(Stopped))
	if len(errs) > 0 {
		c.cleanupErr = &CleanupError{Errs: errs}
		log.Error("cleanup finished with errors", "count", len(errs))
	} else {
		log.Info("cleanup complete")
	}
	return c.cleanupErr
}

// Status returns a snapshot for the monitoring surface.
func (c *Controller) Status() Status {
	c.cmdMu.Lock()
	last := c.lastCmd
	c.cmdMu.Unlock()

	return Status{
		RunState:      RunState(c.runState.Load()).String(),
		BehaviorState: c.machine.State().String(),
		LastCommand:   last.String(),
		CameraHealthy: c.pipeline.Healthy(),
		Consumers:     c.pipeline.ConsumerCount(),
		ErrorMessage:  c.machine.ErrorMessage(),
	}
}
