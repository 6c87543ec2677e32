package camera

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-rover/internal/log"
)

// PipelineConfig tunes the capture loop's failure handling.
type PipelineConfig struct {
	// CaptureBackoff is the fixed delay between capture retries.
	CaptureBackoff time.Duration

	// MaxFailures is the number of consecutive capture failures after
	// which the pipeline reports itself degraded.
	MaxFailures int
}

// Pipeline bridges a FrameSource into a single-slot, latest-wins buffer
// readable by multiple concurrent consumers.
//
// Readers never block the producer: Publish replaces any unconsumed
// frame and wakes all waiters by closing a notification channel. Reads
// are non-destructive, so the control loop and any number of stream
// viewers observe the same most-recent frame.
type Pipeline struct {
	source FrameSource
	cfg    PipelineConfig

	mu     sync.RWMutex
	latest *Frame
	seq    uint64
	notify chan struct{} // closed and replaced on every publish

	consumers   sync.Map // uuid -> name
	consumerCnt atomic.Int32

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	failures int
	degraded atomic.Bool
}

// NewPipeline creates a pipeline over the given source. Call Start to
// begin capturing.
func NewPipeline(source FrameSource, cfg PipelineConfig) *Pipeline {
	if cfg.CaptureBackoff <= 0 {
		cfg.CaptureBackoff = 200 * time.Millisecond
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 10
	}
	return &Pipeline{
		source: source,
		cfg:    cfg,
		notify: make(chan struct{}),
	}
}

// Publish installs frame as the new latest value, dropping any frame
// that was not yet observed, and wakes all waiters. Never blocks.
func (p *Pipeline) Publish(frame *Frame) {
	p.mu.Lock()
	p.seq++
	frame.Seq = p.seq
	p.latest = frame
	close(p.notify)
	p.notify = make(chan struct{})
	p.mu.Unlock()
}

// Latest returns the most recent published frame. The first call blocks
// until at least one frame has ever been published; after that it always
// returns immediately, even while capture is stopped.
func (p *Pipeline) Latest(ctx context.Context) (*Frame, error) {
	for {
		p.mu.RLock()
		frame, ch := p.latest, p.notify
		p.mu.RUnlock()

		if frame != nil {
			return frame, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Next blocks until a frame newer than after is available and returns
// it. Successive calls with the previous frame's Seq give each consumer
// a monotonic, never-repeating view of the stream.
func (p *Pipeline) Next(ctx context.Context, after uint64) (*Frame, error) {
	for {
		p.mu.RLock()
		frame, ch := p.latest, p.notify
		p.mu.RUnlock()

		if frame != nil && frame.Seq > after {
			return frame, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// RegisterConsumer records an active reader and returns its id.
// The registry informs lifecycle decisions only; Latest works without it.
func (p *Pipeline) RegisterConsumer(name string) string {
	id := uuid.NewString()
	p.consumers.Store(id, name)
	n := p.consumerCnt.Add(1)
	log.Debug("pipeline consumer registered", "name", name, "active", n)
	return id
}

// UnregisterConsumer removes a reader. Unknown ids are ignored.
func (p *Pipeline) UnregisterConsumer(id string) {
	if _, loaded := p.consumers.LoadAndDelete(id); loaded {
		n := p.consumerCnt.Add(-1)
		log.Debug("pipeline consumer unregistered", "active", n)
	}
}

// ConsumerCount returns the number of active readers.
func (p *Pipeline) ConsumerCount() int {
	return int(p.consumerCnt.Load())
}

// Healthy reports false after MaxFailures consecutive capture failures.
// It recovers as soon as a capture succeeds.
func (p *Pipeline) Healthy() bool {
	return !p.degraded.Load()
}

// Start launches the background capture goroutine. Idempotent while
// running.
func (p *Pipeline) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.captureLoop(ctx)
	log.Info("frame pipeline started")
}

// Stop halts the capture goroutine. Latest keeps returning the last
// published frame. Idempotent.
func (p *Pipeline) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if !p.running {
		return
	}
	p.cancel()
	<-p.done
	p.running = false
	log.Info("frame pipeline stopped")
}

// Running reports whether the capture goroutine is active.
func (p *Pipeline) Running() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.running
}

func (p *Pipeline) captureLoop(ctx context.Context) {
	defer close(p.done)

	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := p.source.Capture()
		if err != nil {
			p.failures++
			if p.failures == p.cfg.MaxFailures {
				p.degraded.Store(true)
				log.Error("frame pipeline degraded",
					"consecutive_failures", p.failures, "err", err)
			} else {
				log.Warn("frame capture failed, retrying",
					"consecutive_failures", p.failures, "err", err)
			}

			select {
			case <-time.After(p.cfg.CaptureBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		if p.failures > 0 {
			log.Info("frame capture recovered", "after_failures", p.failures)
		}
		p.failures = 0
		p.degraded.Store(false)
		p.Publish(frame)
	}
}
