package motion

// Wheel identifies one of the four drive wheels.
type Wheel int

const (
	FrontLeft Wheel = iota
	FrontRight
	RearLeft
	RearRight
	wheelCount
)

func (w Wheel) String() string {
	switch w {
	case FrontLeft:
		return "front_left"
	case FrontRight:
		return "front_right"
	case RearLeft:
		return "rear_left"
	case RearRight:
		return "rear_right"
	default:
		return "unknown"
	}
}

// left reports whether the wheel is on the rover's left side, for
// balance scaling.
func (w Wheel) left() bool {
	return w == FrontLeft || w == RearLeft
}

// Pattern gives each wheel a direction: 1 forward, -1 backward, 0 stop.
// The front wheels are mounted mirrored to the rears, so a straight
// drive alternates signs across the chassis.
type Pattern [wheelCount]int

var patterns = map[string]Pattern{
	"forward":      {-1, 1, 1, -1},
	"backward":     {1, -1, -1, 1},
	"rotate_left":  {1, 1, 1, 1},
	"rotate_right": {-1, -1, -1, -1},
	"stop":         {0, 0, 0, 0},
}

// PatternFor resolves a step method name to its wheel pattern.
func PatternFor(method string) (Pattern, bool) {
	p, ok := patterns[method]
	return p, ok
}
