package strategy

import (
	"testing"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/pkg/vision"
)

func TestStateMachineInitialState(t *testing.T) {
	sm := NewStateMachine(config.Default())
	if sm.State() != Initializing {
		t.Errorf("expected initializing, got %s", sm.State())
	}
}

func TestStateMachineFullChase(t *testing.T) {
	cfg := config.Default()
	sm := NewStateMachine(cfg)

	// First update leaves initializing.
	sm.Update(nil)
	if sm.State() != Searching {
		t.Fatalf("expected searching, got %s", sm.State())
	}

	// Target appears off-center.
	sm.Update([]vision.Detection{det(500, 3000)})
	if sm.State() != Centering {
		t.Fatalf("expected centering, got %s", sm.State())
	}

	// Still off-center: stays centering.
	sm.Update([]vision.Detection{det(450, 3000)})
	if sm.State() != Centering {
		t.Fatalf("expected centering while off-center, got %s", sm.State())
	}

	// Centered: approach.
	sm.Update([]vision.Detection{det(320, 3000)})
	if sm.State() != Approaching {
		t.Fatalf("expected approaching, got %s", sm.State())
	}

	// Reached target area: stop.
	sm.Update([]vision.Detection{det(320, 13000)})
	if sm.State() != Stopped {
		t.Fatalf("expected stopped, got %s", sm.State())
	}
	if !sm.ShouldStop() {
		t.Error("ShouldStop should report true when stopped")
	}

	// Ball rolls away: resume searching.
	sm.Update(nil)
	if sm.State() != Searching {
		t.Errorf("expected searching after ball left, got %s", sm.State())
	}
}

func TestStateMachineRecoveryBound(t *testing.T) {
	cfg := config.Default()
	sm := NewStateMachine(cfg)

	sm.Update(nil)
	sm.Update([]vision.Detection{det(320, 3000)}) // centering
	sm.Update(nil)                                // lost: recovering
	if sm.State() != Recovering {
		t.Fatalf("expected recovering, got %s", sm.State())
	}

	// Recovery gives up after the configured number of attempts.
	for i := 0; i < cfg.Motion.MaxRecoveryAttempts; i++ {
		if sm.State() != Recovering {
			t.Fatalf("attempt %d: left recovering early, in %s", i, sm.State())
		}
		sm.Update(nil)
	}
	if sm.State() != Searching {
		t.Errorf("expected searching after %d attempts, got %s",
			cfg.Motion.MaxRecoveryAttempts, sm.State())
	}
}

func TestStateMachineRecoverySucceeds(t *testing.T) {
	cfg := config.Default()
	sm := NewStateMachine(cfg)

	sm.Update(nil)
	sm.Update([]vision.Detection{det(320, 3000)})
	sm.Update([]vision.Detection{det(320, 3000)}) // approaching
	sm.Update(nil)                                // recovering

	sm.Update([]vision.Detection{det(400, 3000)})
	if sm.State() != Centering {
		t.Errorf("expected centering after reacquiring target, got %s", sm.State())
	}
}

func TestStateMachineErrorIsTerminal(t *testing.T) {
	sm := NewStateMachine(config.Default())
	sm.Update(nil)

	sm.RecordError("pwm write failed")
	if !sm.InError() {
		t.Fatal("expected error state")
	}
	if sm.ErrorMessage() != "pwm write failed" {
		t.Errorf("unexpected error message %q", sm.ErrorMessage())
	}

	// Updates are ignored until reset.
	sm.Update([]vision.Detection{det(320, 3000)})
	if sm.State() != Error {
		t.Errorf("update escaped error state into %s", sm.State())
	}

	sm.Reset()
	if sm.State() != Searching {
		t.Errorf("expected searching after reset, got %s", sm.State())
	}
	if sm.ErrorMessage() != "" {
		t.Error("error message should clear on reset")
	}
}

func TestStateMachineUpdateNeverPanics(t *testing.T) {
	cfg := config.Default()
	sm := NewStateMachine(cfg)

	// Drive the machine through arbitrary input sequences; every state
	// must accept both detection and no-detection updates.
	inputs := [][]vision.Detection{
		nil,
		{det(320, 13000)},
		nil, nil, nil, nil,
		{det(500, 100)},
		{det(320, 13000)},
		nil,
		{det(100, 50), det(600, 50)},
	}
	for _, in := range inputs {
		sm.Update(in)
	}
	if sm.State() == Error {
		t.Error("well-formed input should not error the machine")
	}
}
