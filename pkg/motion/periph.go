package motion

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// PeriphDriver implements PinDriver on top of periph.io, resolving BCM
// pin numbers through the host's GPIO registry.
type PeriphDriver struct {
	mu   sync.Mutex
	pins map[int]gpio.PinIO
}

// NewPeriphDriver initializes the host GPIO drivers.
func NewPeriphDriver() (*PeriphDriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}
	return &PeriphDriver{pins: make(map[int]gpio.PinIO)}, nil
}

func (d *PeriphDriver) pin(num int) (gpio.PinIO, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pins[num]; ok {
		return p, nil
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", num))
	if p == nil {
		return nil, fmt.Errorf("gpio pin %d not present", num)
	}
	d.pins[num] = p
	return p, nil
}

// ClaimOutput configures the pin as an output, driven low.
func (d *PeriphDriver) ClaimOutput(num int) error {
	p, err := d.pin(num)
	if err != nil {
		return err
	}
	if err := p.Out(gpio.Low); err != nil {
		return fmt.Errorf("claim pin %d as output: %w", num, err)
	}
	return nil
}

// Write drives the pin high or low.
func (d *PeriphDriver) Write(num int, high bool) error {
	p, err := d.pin(num)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(high))
}

// PWM drives the pin with the given frequency and duty cycle.
func (d *PeriphDriver) PWM(num int, freqHz int, duty float64) error {
	p, err := d.pin(num)
	if err != nil {
		return err
	}
	if duty < 0 {
		duty = 0
	}
	if duty > 100 {
		duty = 100
	}
	scaled := gpio.Duty(duty / 100 * float64(gpio.DutyMax))
	return p.PWM(scaled, physic.Frequency(freqHz)*physic.Hertz)
}

// Read returns the pin's current level.
func (d *PeriphDriver) Read(num int) (bool, error) {
	p, err := d.pin(num)
	if err != nil {
		return false, err
	}
	return bool(p.Read()), nil
}

// Close halts all claimed pins.
func (d *PeriphDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for num, p := range d.pins {
		if err := p.Halt(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("halt pin %d: %w", num, err)
		}
	}
	d.pins = make(map[int]gpio.PinIO)
	return firstErr
}
