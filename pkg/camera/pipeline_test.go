package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSource produces numbered frames, or errors when failing is set.
type fakeSource struct {
	mu      sync.Mutex
	n       int
	failing bool
	closed  bool
}

func (f *fakeSource) Capture() (*Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("capture failed")
	}
	f.n++
	return &Frame{
		Data:      []byte{byte(f.n)},
		Width:     640,
		Height:    480,
		Timestamp: time.Now(),
	}, nil
}

func (f *fakeSource) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testPipeline() *Pipeline {
	return NewPipeline(&fakeSource{}, PipelineConfig{
		CaptureBackoff: time.Millisecond,
		MaxFailures:    3,
	})
}

func TestPipelineLatestWins(t *testing.T) {
	p := testPipeline()

	f1 := &Frame{Data: []byte{1}}
	f2 := &Frame{Data: []byte{2}}
	p.Publish(f1)
	p.Publish(f2)

	got, err := p.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.Data[0] != 2 {
		t.Errorf("expected newest frame, got %v", got.Data)
	}
	if got.Seq != 2 {
		t.Errorf("expected seq 2, got %d", got.Seq)
	}

	// Reads are non-destructive: a second reader sees the same frame.
	again, err := p.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if again != got {
		t.Error("second read should observe the same frame")
	}
}

func TestPipelineLatestBlocksUntilFirstFrame(t *testing.T) {
	p := testPipeline()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Latest(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded before first frame, got %v", err)
	}

	done := make(chan *Frame, 1)
	go func() {
		f, _ := p.Latest(context.Background())
		done <- f
	}()

	p.Publish(&Frame{Data: []byte{7}})

	select {
	case f := <-done:
		if f.Data[0] != 7 {
			t.Errorf("unexpected frame %v", f.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Latest did not wake on publish")
	}
}

func TestPipelineNextIsMonotonic(t *testing.T) {
	p := testPipeline()
	p.Publish(&Frame{Data: []byte{1}})

	f1, err := p.Next(context.Background(), 0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	// Same cursor again blocks until a newer frame arrives.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Next(ctx, f1.Seq); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Next to block on stale cursor, got %v", err)
	}

	p.Publish(&Frame{Data: []byte{2}})
	f2, err := p.Next(context.Background(), f1.Seq)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f2.Seq <= f1.Seq {
		t.Errorf("sequence went backwards: %d then %d", f1.Seq, f2.Seq)
	}
}

func TestPipelineDegradedAndRecovery(t *testing.T) {
	src := &fakeSource{failing: true}
	p := NewPipeline(src, PipelineConfig{
		CaptureBackoff: time.Millisecond,
		MaxFailures:    3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for p.Healthy() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Healthy() {
		t.Fatal("pipeline never reported degraded")
	}

	src.setFailing(false)

	for !p.Healthy() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !p.Healthy() {
		t.Fatal("pipeline never recovered")
	}
}

func TestPipelineStopKeepsLastFrame(t *testing.T) {
	p := testPipeline()

	ctx := context.Background()
	p.Start(ctx)

	frameCtx, cancel := context.WithTimeout(ctx, time.Second)
	f, err := p.Latest(frameCtx)
	cancel()
	if err != nil {
		t.Fatalf("no frame before stop: %v", err)
	}

	p.Stop()
	if p.Running() {
		t.Error("Running should be false after Stop")
	}

	got, err := p.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest after stop: %v", err)
	}
	if got.Seq < f.Seq {
		t.Errorf("frame went backwards after stop: %d then %d", f.Seq, got.Seq)
	}

	// Stop twice is fine.
	p.Stop()
}

func TestPipelineConsumerRegistry(t *testing.T) {
	p := testPipeline()

	id1 := p.RegisterConsumer("control")
	id2 := p.RegisterConsumer("stream")
	if p.ConsumerCount() != 2 {
		t.Errorf("expected 2 consumers, got %d", p.ConsumerCount())
	}

	p.UnregisterConsumer(id1)
	p.UnregisterConsumer(id1) // double unregister is a no-op
	if p.ConsumerCount() != 1 {
		t.Errorf("expected 1 consumer, got %d", p.ConsumerCount())
	}
	p.UnregisterConsumer(id2)
	if p.ConsumerCount() != 0 {
		t.Errorf("expected 0 consumers, got %d", p.ConsumerCount())
	}
}
