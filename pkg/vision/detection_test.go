package vision

import "testing"

func TestDetectionGeometry(t *testing.T) {
	d := Detection{X: 100, Y: 50, W: 40, H: 30}
	if got := d.Area(); got != 1200 {
		t.Errorf("Area() = %v, want 1200", got)
	}
	if got := d.CenterX(); got != 120 {
		t.Errorf("CenterX() = %v, want 120", got)
	}
}
