// Package config holds the immutable configuration for go-rover.
// The config is loaded once at startup and never reloaded mid-run;
// every component takes a read-only reference to it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration value object.
type Config struct {
	Vision   Vision   `yaml:"vision"`
	Motion   Motion   `yaml:"motion"`
	Pins     Pins     `yaml:"pins"`
	Pipeline Pipeline `yaml:"pipeline"`
	Web      Web      `yaml:"web"`
}

// Vision holds camera geometry and detector settings.
type Vision struct {
	ModelPath  string  `yaml:"model_path"`
	Confidence float32 `yaml:"confidence"`
	NMS        float32 `yaml:"nms"`
	InputSize  int     `yaml:"input_size"` // square model input (e.g. 640)

	FrameWidth   int `yaml:"frame_width"`
	FrameHeight  int `yaml:"frame_height"`
	CameraOffset int `yaml:"camera_offset"` // horizontal lens offset in pixels

	TargetLabel string `yaml:"target_label"`
}

// Step maps a movement command to concrete wheel motion.
// Method is one of: forward, backward, rotate_left, rotate_right, stop.
type Step struct {
	Method   string  `yaml:"method"`
	Speed    int     `yaml:"speed"`    // PWM duty 0-100
	Duration float64 `yaml:"duration"` // seconds; 0 = untimed
}

// Time returns the step duration as a time.Duration.
func (s Step) Time() time.Duration {
	return time.Duration(s.Duration * float64(time.Second))
}

// Thresholds are ratios of TargetArea that trigger decisions.
type Thresholds struct {
	Stop     float64 `yaml:"stop"`
	Micro    float64 `yaml:"micro"`
	Recovery float64 `yaml:"recovery"`
}

// Motion holds decision thresholds and the per-command step table.
type Motion struct {
	TargetArea          float64 `yaml:"target_area"`     // pixel area at which the target is "reached"
	CenterThreshold     float64 `yaml:"center_threshold"`// pixels of offset considered centered
	MaxNoBall           int     `yaml:"max_no_ball"`
	MaxRecoveryAttempts int     `yaml:"max_recovery_attempts"`

	// SimilarityThreshold is the fraction of the largest detection's area
	// within which a second detection counts as a tie. Ties are broken by
	// proximity to frame center instead of raw area.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	WheelPWMFreq int `yaml:"wheel_pwm_freq"` // Hz
	FinPWMFreq   int `yaml:"fin_pwm_freq"`   // Hz
	FinSpeed     int `yaml:"fin_speed"`      // PWM duty 0-100

	InterStepPause float64 `yaml:"inter_step_pause"` // seconds between loop iterations
	DevSlowdown    float64 `yaml:"dev_slowdown"`     // pacing multiplier in dev mode

	Thresholds Thresholds      `yaml:"thresholds"`
	Steps      map[string]Step `yaml:"steps"`
}

// Pace returns the configured pacing delay, scaled for dev mode.
func (m Motion) Pace(dev bool) time.Duration {
	pause := m.InterStepPause
	if dev && m.DevSlowdown > 0 {
		pause *= m.DevSlowdown
	}
	return time.Duration(pause * float64(time.Second))
}

// WheelPins are the TB6612FNG control pins for one wheel.
type WheelPins struct {
	In1 int `yaml:"in1"`
	In2 int `yaml:"in2"`
	PWM int `yaml:"pwm"`
}

// FinPins are the BTS7960 control pins for the fin actuator.
type FinPins struct {
	Enable   int `yaml:"enable"`
	PWMLeft  int `yaml:"pwm_left"`
	PWMRight int `yaml:"pwm_right"`
}

// Pins maps hardware functions to GPIO numbers.
type Pins struct {
	FrontLeft  WheelPins `yaml:"front_left"`
	FrontRight WheelPins `yaml:"front_right"`
	RearLeft   WheelPins `yaml:"rear_left"`
	RearRight  WheelPins `yaml:"rear_right"`
	Standby    int       `yaml:"standby"`
	Fins       FinPins   `yaml:"fins"`
}

// Pipeline holds frame-delivery settings.
type Pipeline struct {
	CaptureBackoff float64 `yaml:"capture_backoff"` // seconds between capture retries
	MaxFailures    int     `yaml:"max_failures"`    // consecutive failures before degraded
	LatestTimeout  float64 `yaml:"latest_timeout"`  // seconds to wait for a frame when degraded
}

// Backoff returns the capture retry backoff as a time.Duration.
func (p Pipeline) Backoff() time.Duration {
	return time.Duration(p.CaptureBackoff * float64(time.Second))
}

// Timeout returns the per-cycle frame wait as a time.Duration.
func (p Pipeline) Timeout() time.Duration {
	return time.Duration(p.LatestTimeout * float64(time.Second))
}

// Web holds monitoring server settings.
type Web struct {
	Listen         string  `yaml:"listen"`
	StatusInterval float64 `yaml:"status_interval"` // seconds between status broadcasts
	StreamFPS      int     `yaml:"stream_fps"`      // frame broadcast cap
}

// Command names understood by the step table. The decider only ever
// returns one of these.
const (
	CmdStop            = "stop"
	CmdStepForward     = "step_forward"
	CmdSmallForward    = "small_forward"
	CmdMicroForward    = "micro_forward"
	CmdStepLeft        = "step_left"
	CmdMicroLeft       = "micro_left"
	CmdStepRight       = "step_right"
	CmdMicroRight      = "micro_right"
	CmdSearch          = "search"
	CmdRecoveryForward = "recovery_forward"
)

// AllCommands lists every command the step table must cover.
var AllCommands = []string{
	CmdStop, CmdStepForward, CmdSmallForward, CmdMicroForward,
	CmdStepLeft, CmdMicroLeft, CmdStepRight, CmdMicroRight,
	CmdSearch, CmdRecoveryForward,
}

// Default returns the configuration tuned on the physical rover.
func Default() *Config {
	const (
		speed        = 50
		rotateSpeed  = 38 // center rotate speed scaled to 70%
		searchRotate = 70
	)

	return &Config{
		Vision: Vision{
			ModelPath:   "models/current_best.onnx",
			Confidence:  0.5,
			NMS:         0.45,
			InputSize:   640,
			FrameWidth:  640,
			FrameHeight: 480,
			TargetLabel: "sports ball",
		},
		Motion: Motion{
			TargetArea:          12000,
			CenterThreshold:     25,
			MaxNoBall:           3,
			MaxRecoveryAttempts: 3,
			SimilarityThreshold: 0.9,
			WheelPWMFreq:        10000,
			FinPWMFreq:          6000,
			FinSpeed:            85,
			InterStepPause:      0.5,
			DevSlowdown:         2.0,
			Thresholds: Thresholds{
				Stop:     1.0,
				Micro:    0.7,
				Recovery: 0.2,
			},
			Steps: map[string]Step{
				CmdStepForward:     {Method: "forward", Speed: speed, Duration: 0.7},
				CmdSmallForward:    {Method: "forward", Speed: 40, Duration: 0.6},
				CmdMicroForward:    {Method: "forward", Speed: 30, Duration: 0.4},
				CmdStepLeft:        {Method: "rotate_left", Speed: rotateSpeed, Duration: 0.2},
				CmdMicroLeft:       {Method: "rotate_left", Speed: rotateSpeed, Duration: 0.1},
				CmdStepRight:       {Method: "rotate_right", Speed: rotateSpeed, Duration: 0.2},
				CmdMicroRight:      {Method: "rotate_right", Speed: rotateSpeed, Duration: 0.1},
				CmdStop:            {Method: "stop", Speed: 0, Duration: 1.0},
				CmdSearch:          {Method: "rotate_right", Speed: searchRotate, Duration: 0.3},
				CmdRecoveryForward: {Method: "forward", Speed: speed, Duration: 0.7},
			},
		},
		Pins: Pins{
			FrontLeft:  WheelPins{In1: 21, In2: 26, PWM: 13},
			FrontRight: WheelPins{In1: 16, In2: 20, PWM: 12},
			RearLeft:   WheelPins{In1: 3, In2: 4, PWM: 6},
			RearRight:  WheelPins{In1: 22, In2: 27, PWM: 5},
			Standby:    17,
			Fins:       FinPins{Enable: 14, PWMLeft: 18, PWMRight: 19},
		},
		Pipeline: Pipeline{
			CaptureBackoff: 0.2,
			MaxFailures:    10,
			LatestTimeout:  1.0,
		},
		Web: Web{
			Listen:         ":8080",
			StatusInterval: 0.5,
			StreamFPS:      15,
		},
	}
}

// Load reads a YAML config file layered over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	if c.Motion.TargetArea <= 0 {
		return fmt.Errorf("config: target_area must be positive, got %v", c.Motion.TargetArea)
	}
	if c.Vision.FrameWidth <= 0 {
		return fmt.Errorf("config: frame_width must be positive, got %d", c.Vision.FrameWidth)
	}
	if c.Motion.SimilarityThreshold <= 0 || c.Motion.SimilarityThreshold > 1 {
		return fmt.Errorf("config: similarity_threshold must be in (0,1], got %v", c.Motion.SimilarityThreshold)
	}
	for _, cmd := range AllCommands {
		step, ok := c.Motion.Steps[cmd]
		if !ok {
			return fmt.Errorf("config: no step defined for command %q", cmd)
		}
		if step.Speed < 0 || step.Speed > 100 {
			return fmt.Errorf("config: step %q speed %d out of range [0,100]", cmd, step.Speed)
		}
	}
	return nil
}
