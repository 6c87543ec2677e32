package motion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/strategy"
)

// Actuator translates movement commands into per-wheel direction and
// PWM duty writes, and manages the shared standby line.
//
// Stop has priority over a concurrent Apply: a stop generation counter
// is checked inside the drive critical section, so an Apply that loses
// the race writes nothing and the actuators end stopped.
type Actuator struct {
	driver PinDriver
	cfg    *config.Config

	mu         sync.Mutex // serializes all pin writes
	leftScale  float64
	rightScale float64

	stopGen atomic.Uint64

	cleanupMu sync.Mutex
	cleaned   bool
}

// NewActuator wraps the driver. Call Init before the first Apply.
func NewActuator(driver PinDriver, cfg *config.Config) *Actuator {
	return &Actuator{
		driver:     driver,
		cfg:        cfg,
		leftScale:  1.0,
		rightScale: 1.0,
	}
}

// Init claims every output pin. The standby line stays low until the
// first drive.
func (a *Actuator) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pins := []int{a.cfg.Pins.Standby, a.cfg.Pins.Fins.Enable,
		a.cfg.Pins.Fins.PWMLeft, a.cfg.Pins.Fins.PWMRight}
	for w := FrontLeft; w < wheelCount; w++ {
		wp := a.wheelPins(w)
		pins = append(pins, wp.In1, wp.In2, wp.PWM)
	}

	for _, pin := range pins {
		if err := a.driver.ClaimOutput(pin); err != nil {
			return &ActuatorError{Op: "claim", Pin: pin, Err: err}
		}
	}

	log.Info("actuator pins claimed", "count", len(pins))
	return nil
}

// SetBalance adjusts per-side duty multipliers, clamped to [0,1].
// Applied to every subsequent Apply.
func (a *Actuator) SetBalance(left, right float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leftScale = clamp01(left)
	a.rightScale = clamp01(right)
	log.Debug("wheel balance set", "left", a.leftScale, "right", a.rightScale)
}

// Apply resolves the command through the configured step table and
// executes it. Timed steps sleep for their duration and then stop,
// making the move atomic from the caller's perspective.
func (a *Actuator) Apply(ctx context.Context, cmd strategy.Command) error {
	step, ok := a.cfg.Motion.Steps[string(cmd)]
	if !ok {
		return fmt.Errorf("no step configured for command %q", cmd)
	}
	return a.Drive(ctx, step.Method, step.Speed, step.Time())
}

// Drive executes a raw step: pattern lookup, wheel writes, optional
// timed stop. Callers normally go through Apply; Drive exists for
// speed/duration overrides.
func (a *Actuator) Drive(ctx context.Context, method string, speed int, duration time.Duration) error {
	if method == "stop" {
		if err := a.Stop(); err != nil {
			return err
		}
		if duration > 0 {
			sleep(ctx, duration)
		}
		return nil
	}

	pattern, ok := PatternFor(method)
	if !ok {
		return fmt.Errorf("unknown movement method %q", method)
	}

	gen := a.stopGen.Load()
	if err := a.drive(pattern, speed, gen); err != nil {
		// Leave nothing half-applied behind a failed write.
		if stopErr := a.Stop(); stopErr != nil {
			log.Error("stop after failed drive also failed", "err", stopErr)
		}
		return err
	}

	if duration > 0 {
		sleep(ctx, duration)
		return a.Stop()
	}
	return nil
}

// drive writes the pattern to the wheels. A Stop that fired after gen
// was sampled wins: the drive aborts without touching the pins.
func (a *Actuator) drive(pattern Pattern, speed int, gen uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopGen.Load() != gen {
		return nil
	}

	if err := a.driver.Write(a.cfg.Pins.Standby, true); err != nil {
		return &ActuatorError{Op: "enable standby", Pin: a.cfg.Pins.Standby, Err: err}
	}

	for w := FrontLeft; w < wheelCount; w++ {
		wp := a.wheelPins(w)
		dir := pattern[w]

		in1, in2 := false, false
		if dir > 0 {
			in1 = true
		} else if dir < 0 {
			in2 = true
		}
		if err := a.driver.Write(wp.In1, in1); err != nil {
			return &ActuatorError{Op: "direction " + w.String(), Pin: wp.In1, Err: err}
		}
		if err := a.driver.Write(wp.In2, in2); err != nil {
			return &ActuatorError{Op: "direction " + w.String(), Pin: wp.In2, Err: err}
		}

		duty := float64(speed)
		if dir == 0 {
			duty = 0
		} else if w.left() {
			duty *= a.leftScale
		} else {
			duty *= a.rightScale
		}
		if err := a.driver.PWM(wp.PWM, a.cfg.Motion.WheelPWMFreq, duty); err != nil {
			return &ActuatorError{Op: "pwm " + w.String(), Pin: wp.PWM, Err: err}
		}
	}

	return nil
}

// Stop drives every wheel's duty to zero and deasserts the standby
// line. Callable from any state, including concurrently with an
// in-flight Apply, and always wins. Never suspends.
func (a *Actuator) Stop() error {
	a.stopGen.Add(1)

	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for w := FrontLeft; w < wheelCount; w++ {
		wp := a.wheelPins(w)
		if err := a.driver.PWM(wp.PWM, a.cfg.Motion.WheelPWMFreq, 0); err != nil && firstErr == nil {
			firstErr = &ActuatorError{Op: "stop " + w.String(), Pin: wp.PWM, Err: err}
		}
	}
	if err := a.driver.Write(a.cfg.Pins.Standby, false); err != nil && firstErr == nil {
		firstErr = &ActuatorError{Op: "disable standby", Pin: a.cfg.Pins.Standby, Err: err}
	}
	return firstErr
}

// FinsOn activates the fin actuator at the given duty, or the
// configured fin speed when duty <= 0. Independent of wheel state.
func (a *Actuator) FinsOn(duty int) error {
	if duty <= 0 {
		duty = a.cfg.Motion.FinSpeed
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	fins := a.cfg.Pins.Fins
	if err := a.driver.Write(fins.Enable, true); err != nil {
		return &ActuatorError{Op: "enable fins", Pin: fins.Enable, Err: err}
	}
	if err := a.driver.PWM(fins.PWMLeft, a.cfg.Motion.FinPWMFreq, 0); err != nil {
		return &ActuatorError{Op: "fins pwm left", Pin: fins.PWMLeft, Err: err}
	}
	if err := a.driver.PWM(fins.PWMRight, a.cfg.Motion.FinPWMFreq, float64(duty)); err != nil {
		return &ActuatorError{Op: "fins pwm right", Pin: fins.PWMRight, Err: err}
	}
	log.Debug("fins activated", "duty", duty)
	return nil
}

// FinsOff deactivates the fin actuator.
func (a *Actuator) FinsOff() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	fins := a.cfg.Pins.Fins
	var firstErr error
	if err := a.driver.PWM(fins.PWMLeft, a.cfg.Motion.FinPWMFreq, 0); err != nil {
		firstErr = &ActuatorError{Op: "fins pwm left", Pin: fins.PWMLeft, Err: err}
	}
	if err := a.driver.PWM(fins.PWMRight, a.cfg.Motion.FinPWMFreq, 0); err != nil && firstErr == nil {
		firstErr = &ActuatorError{Op: "fins pwm right", Pin: fins.PWMRight, Err: err}
	}
	if err := a.driver.Write(fins.Enable, false); err != nil && firstErr == nil {
		firstErr = &ActuatorError{Op: "disable fins", Pin: fins.Enable, Err: err}
	}
	return firstErr
}

// Verify reads back the control pins to confirm the driver responds.
// Run before the control loop starts.
func (a *Actuator) Verify() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	standby, err := a.driver.Read(a.cfg.Pins.Standby)
	if err != nil {
		return &ActuatorError{Op: "verify standby", Pin: a.cfg.Pins.Standby, Err: err}
	}
	log.Debug("standby pin state", "pin", a.cfg.Pins.Standby, "high", standby)

	for w := FrontLeft; w < wheelCount; w++ {
		wp := a.wheelPins(w)
		in1, err := a.driver.Read(wp.In1)
		if err != nil {
			return &ActuatorError{Op: "verify " + w.String(), Pin: wp.In1, Err: err}
		}
		in2, err := a.driver.Read(wp.In2)
		if err != nil {
			return &ActuatorError{Op: "verify " + w.String(), Pin: wp.In2, Err: err}
		}
		log.Debug("wheel pin state", "wheel", w.String(), "in1", in1, "in2", in2)
	}
	return nil
}

// Cleanup stops all motion, deactivates the fins and releases the
// hardware handle. Idempotent: subsequent calls are no-ops.
func (a *Actuator) Cleanup() error {
	a.cleanupMu.Lock()
	defer a.cleanupMu.Unlock()

	if a.cleaned {
		return nil
	}
	a.cleaned = true

	var firstErr error
	if err := a.Stop(); err != nil {
		firstErr = err
		log.Error("stop during actuator cleanup failed", "err", err)
	}
	if err := a.FinsOff(); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		log.Error("fins off during actuator cleanup failed", "err", err)
	}
	if err := a.driver.Close(); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("release gpio: %w", err)
		}
		log.Error("gpio release during actuator cleanup failed", "err", err)
	}

	log.Info("actuator cleaned up")
	return firstErr
}

func (a *Actuator) wheelPins(w Wheel) config.WheelPins {
	switch w {
	case FrontLeft:
		return a.cfg.Pins.FrontLeft
	case FrontRight:
		return a.cfg.Pins.FrontRight
	case RearLeft:
		return a.cfg.Pins.RearLeft
	default:
		return a.cfg.Pins.RearRight
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
