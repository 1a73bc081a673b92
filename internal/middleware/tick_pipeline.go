package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PolyBot/internal/domain/models"
	domrepo "PolyBot/internal/domain/repository"
)

// Proc is the downstream consumer the pipeline feeds.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) error
}

// TickPipeline sits between the tick router and the decision pipeline. It
// validates, throttles per source, and buffers with a drop-oldest policy
// when the consumer falls behind, so a slow decision cycle never blocks
// ingestion.
type TickPipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	maxRPS  int
	bufSize int
	bufCh   chan *models.Tick
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
	// lastSeen tracks the last accepted time per source for throttling.
	lastSeen map[models.Source]time.Time
}

// Option configures a TickPipeline.
type Option func(*TickPipeline)

// WithMaxRPS caps accepted ticks per second per source. Zero disables the
// throttle.
func WithMaxRPS(n int) Option {
	return func(p *TickPipeline) { p.maxRPS = n }
}

// WithBufferSize sets the bounded buffer between router and consumer.
func WithBufferSize(n int) Option {
	return func(p *TickPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewTickPipeline creates a pipeline feeding proc.
func NewTickPipeline(proc Proc, metrics domrepo.Metrics, opts ...Option) *TickPipeline {
	p := &TickPipeline{
		proc:     proc,
		metrics:  metrics,
		maxRPS:   50,
		bufSize:  2048,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[models.Source]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Tick, p.bufSize)
	return p
}

// Start launches the consumer loop.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case t := <-p.bufCh:
				if t == nil {
					continue
				}
				start := time.Now()
				if err := p.proc.Process(ctx, t); err != nil {
					p.metrics.RecordError("pipeline_process")
				}
				p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
			}
		}
	}()
}

// Stop halts the consumer loop.
func (p *TickPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates and enqueues one tick. When the buffer is saturated the
// oldest queued tick is dropped in favor of the new one, and the drop is
// counted.
func (p *TickPipeline) Process(ctx context.Context, t *models.Tick) error {
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}

	if !p.allow(t.Source, time.Now()) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	select {
	case p.bufCh <- t:
		return nil
	default:
	}

	// DropOldestOnPressure: make room by discarding the stalest entry.
	select {
	case <-p.bufCh:
		p.metrics.RecordError("pipeline_drop_oldest")
	default:
	}
	select {
	case p.bufCh <- t:
		return nil
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return fmt.Errorf("tick buffer saturated")
	}
}

func validateTick(t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick nil")
	}
	if t.Asset == "" {
		return fmt.Errorf("asset empty")
	}
	if t.TS <= 0 {
		return fmt.Errorf("timestamp invalid")
	}
	if t.Mid < 0 || t.Bid < 0 || t.Ask < 0 {
		return fmt.Errorf("negative price")
	}
	return nil
}

func (p *TickPipeline) allow(source models.Source, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[source]
	if last.IsZero() || now.Sub(last) >= time.Second/time.Duration(p.maxRPS) {
		p.lastSeen[source] = now
		return true
	}
	return false
}
