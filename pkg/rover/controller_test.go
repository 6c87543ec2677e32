package rover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/pkg/camera"
	"github.com/teslashibe/go-rover/pkg/strategy"
	"github.com/teslashibe/go-rover/pkg/vision"
)

type fakeSource struct {
	mu     sync.Mutex
	closed int
}

func (f *fakeSource) Capture() (*camera.Frame, error) {
	return &camera.Frame{Data: []byte{1}, Width: 640, Height: 480, Timestamp: time.Now()}, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type fakeDetector struct {
	mu   sync.Mutex
	dets []vision.Detection
	err  error
}

func (f *fakeDetector) Infer(*camera.Frame) ([]vision.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dets, f.err
}

func (f *fakeDetector) Close() error { return nil }

type fakeActuator struct {
	mu       sync.Mutex
	applied  []strategy.Command
	stops    int
	cleanups int

	initErr  error
	applyErr error
}

func (f *fakeActuator) Init() error       { return f.initErr }
func (f *fakeActuator) Verify() error     { return nil }
func (f *fakeActuator) FinsOn(int) error  { return nil }

func (f *fakeActuator) Apply(_ context.Context, cmd strategy.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, cmd)
	return nil
}

func (f *fakeActuator) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeActuator) Cleanup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return nil
}

func (f *fakeActuator) applyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Motion.InterStepPause = 0.001
	cfg.Pipeline.CaptureBackoff = 0.001
	cfg.Pipeline.LatestTimeout = 0.1
	return cfg
}

func newTestController(det *fakeDetector, act *fakeActuator) (*Controller, *fakeSource) {
	src := &fakeSource{}
	return NewController(testConfig(), src, det, act, false), src
}

func TestControllerRunAndShutdown(t *testing.T) {
	act := &fakeActuator{}
	c, _ := newTestController(&fakeDetector{}, act)

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for act.applyCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if act.applyCount() < 3 {
		t.Fatal("control loop never issued commands")
	}

	if n := c.Pipeline().ConsumerCount(); n != 1 {
		t.Errorf("control loop should register as a consumer, count %d", n)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	act.mu.Lock()
	stops, cleanups := act.stops, act.cleanups
	act.mu.Unlock()
	if stops == 0 {
		t.Error("shutdown should stop the actuator")
	}
	if cleanups != 1 {
		t.Errorf("actuator cleaned %d times, want 1", cleanups)
	}
	if n := c.Pipeline().ConsumerCount(); n != 0 {
		t.Errorf("consumer should unregister on exit, count %d", n)
	}
}

func TestControllerSearchesWithoutDetections(t *testing.T) {
	act := &fakeActuator{}
	c, _ := newTestController(&fakeDetector{}, act)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	go c.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for act.applyCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	act.mu.Lock()
	defer act.mu.Unlock()
	if len(act.applied) == 0 {
		t.Fatal("no commands issued")
	}
	if act.applied[0] != strategy.Search {
		t.Errorf("expected search with no detections, got %s", act.applied[0])
	}
}

func TestControllerInferenceErrorDegradesToSearch(t *testing.T) {
	act := &fakeActuator{}
	det := &fakeDetector{err: errors.New("model exploded")}
	c, _ := newTestController(det, act)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	go c.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for act.applyCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	act.mu.Lock()
	defer act.mu.Unlock()
	if len(act.applied) == 0 {
		t.Fatal("inference errors must not stall the loop")
	}
	if act.applied[0] != strategy.Search {
		t.Errorf("expected search on inference failure, got %s", act.applied[0])
	}
}

func TestControllerActuatorFailureEndsRun(t *testing.T) {
	applyErr := errors.New("pwm write failed")
	act := &fakeActuator{applyErr: applyErr}
	c, src := newTestController(&fakeDetector{}, act)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, applyErr) {
			t.Fatalf("Run should surface the actuator error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("actuator failure must terminate the run")
	}

	if !c.machine.InError() {
		t.Error("actuator failure should move the machine to error")
	}

	// The failure took the full emergency path: wheels stopped,
	// everything released.
	act.mu.Lock()
	stops, cleanups := act.stops, act.cleanups
	act.mu.Unlock()
	if stops == 0 {
		t.Error("failed apply should trigger an emergency stop")
	}
	if cleanups != 1 {
		t.Errorf("actuator cleaned %d times, want 1", cleanups)
	}
	src.mu.Lock()
	closed := src.closed
	src.mu.Unlock()
	if closed != 1 {
		t.Errorf("camera closed %d times, want 1", closed)
	}
	if st := c.Status(); st.RunState != "stopped" {
		t.Errorf("run state %s after fatal error, want stopped", st.RunState)
	}
}

func TestControllerInitFailureCleansUp(t *testing.T) {
	act := &fakeActuator{initErr: errors.New("gpio busy")}
	c, src := newTestController(&fakeDetector{}, act)

	if err := c.Initialize(context.Background()); err == nil {
		t.Fatal("expected init error")
	}

	act.mu.Lock()
	cleanups := act.cleanups
	act.mu.Unlock()
	if cleanups != 1 {
		t.Errorf("failed init should clean up, got %d cleanups", cleanups)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.closed != 1 {
		t.Errorf("camera closed %d times, want 1", src.closed)
	}
}

func TestControllerEmergencyStop(t *testing.T) {
	act := &fakeActuator{}
	c, _ := newTestController(&fakeDetector{}, act)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for act.applyCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	c.EmergencyStop()
	c.EmergencyStop() // latched, second call is a no-op

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("emergency stop exit should be clean, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after emergency stop")
	}

	act.mu.Lock()
	defer act.mu.Unlock()
	if act.stops == 0 {
		t.Error("emergency stop must hit the actuator")
	}
}

// erroringSource never yields a frame, so the loop parks in the frame
// wait.
type erroringSource struct {
	fakeSource
}

func (e *erroringSource) Capture() (*camera.Frame, error) {
	return nil, errors.New("no signal")
}

func TestControllerCancelDuringFrameWait(t *testing.T) {
	act := &fakeActuator{}
	src := &erroringSource{}
	cfg := testConfig()
	cfg.Pipeline.LatestTimeout = 10

	c := NewController(cfg, src, &fakeDetector{}, act, false)

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Let the loop settle into waiting on a frame, then cancel.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel during frame wait")
	}

	// Cancellation mid-wait must not squeeze out one last command.
	if n := act.applyCount(); n != 0 {
		t.Errorf("%d commands issued after cancellation", n)
	}

	act.mu.Lock()
	defer act.mu.Unlock()
	if act.stops == 0 {
		t.Error("cancellation should take the emergency stop path")
	}
	if act.cleanups != 1 {
		t.Errorf("actuator cleaned %d times, want 1", act.cleanups)
	}
}

func TestControllerCleanupIdempotent(t *testing.T) {
	act := &fakeActuator{}
	c, src := newTestController(&fakeDetector{}, act)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := c.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if err := c.Cleanup(); err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}

	act.mu.Lock()
	cleanups := act.cleanups
	act.mu.Unlock()
	if cleanups != 1 {
		t.Errorf("actuator cleaned %d times, want 1", cleanups)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.closed != 1 {
		t.Errorf("camera closed %d times, want 1", src.closed)
	}
}

func TestControllerStatus(t *testing.T) {
	act := &fakeActuator{}
	c, _ := newTestController(&fakeDetector{}, act)

	st := c.Status()
	if st.RunState != "not_started" {
		t.Errorf("expected not_started, got %s", st.RunState)
	}
	if st.BehaviorState != "initializing" {
		t.Errorf("expected initializing, got %s", st.BehaviorState)
	}

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	st = c.Status()
	if st.BehaviorState != "searching" {
		t.Errorf("expected searching after init, got %s", st.BehaviorState)
	}

	if err := c.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if st = c.Status(); st.RunState != "stopped" {
		t.Errorf("expected stopped after cleanup, got %s", st.RunState)
	}
}
