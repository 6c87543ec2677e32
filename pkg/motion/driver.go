// Package motion owns the rover's actuators: four TB6612FNG-driven
// wheels behind a shared standby line, and a BTS7960-driven fin motor
// with its own enable line. All pin access goes through the Actuator;
// the hardware handle is never shared with other components.
package motion

import "fmt"

// PinDriver is the hardware boundary for GPIO output.
// Implementations must be safe for use from a single goroutine at a
// time; the Actuator serializes access.
type PinDriver interface {
	// ClaimOutput configures the pin as an output, driven low.
	ClaimOutput(pin int) error

	// Write drives the pin high or low.
	Write(pin int, high bool) error

	// PWM drives the pin with the given frequency and duty cycle
	// (0-100). Duty 0 stops the output.
	PWM(pin int, freqHz int, duty float64) error

	// Read returns the pin's current level.
	Read(pin int) (bool, error)

	// Close releases the GPIO handle.
	Close() error
}

// ActuatorError is a hardware write failure with pin context.
// Motor commands are never retried blindly: a stuck "forward" write
// with a failed "stop" write is the worst-case outcome, so these
// errors escalate to an emergency stop instead.
type ActuatorError struct {
	Op  string
	Pin int
	Err error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("actuator %s on pin %d: %v", e.Op, e.Pin, e.Err)
}

func (e *ActuatorError) Unwrap() error {
	return e.Err
}
