package middleware

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/pkg/logger"
)

// TickSink is the downstream the pipeline publishes into.
type TickSink interface {
	PublishTicks(ctx context.Context, ticks []*models.Tick) error
}

// TickPipeline sits between the tick stream and the broker: validate,
// throttle per market, batch, publish. It runs off the stream's read loop,
// so Offer never blocks; when the broker is down ticks buffer and then
// drop. Loss here costs archive coverage, never trading.
type TickPipeline struct {
	sink    TickSink
	log     *logger.Logger
	maxRPS  int
	batch   int
	flushIv time.Duration

	bufCh   chan *models.Tick
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
	wg      sync.WaitGroup

	seenMu   sync.Mutex
	lastSeen map[string]time.Time // per-market last accepted time

	published atomic.Int64
	dropped   atomic.Int64
}

type PipelineOption func(*TickPipeline)

// WithMaxRPS caps accepted ticks per second per market. Zero disables the
// throttle.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickPipeline) { p.maxRPS = n }
}

// WithBufferSize sets the buffer absorbing broker outages.
func WithBufferSize(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.bufCh = make(chan *models.Tick, n)
		}
	}
}

// WithBatch sets the publish batch size and the flush interval for partial
// batches.
func WithBatch(size int, interval time.Duration) PipelineOption {
	return func(p *TickPipeline) {
		if size > 0 {
			p.batch = size
		}
		if interval > 0 {
			p.flushIv = interval
		}
	}
}

func NewTickPipeline(sink TickSink, log *logger.Logger, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		sink:     sink,
		log:      log,
		maxRPS:   20,
		batch:    200,
		flushIv:  time.Second,
		bufCh:    make(chan *models.Tick, 5000),
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Offer accepts one tick from the stream's read loop. Never blocks.
func (p *TickPipeline) Offer(t *models.Tick) {
	if err := validateTick(t); err != nil {
		p.dropped.Add(1)
		return
	}
	if !p.allow(t.Market, time.Now()) {
		return
	}
	select {
	case p.bufCh <- t:
	default:
		p.dropped.Add(1)
	}
}

// Start launches the flush loop.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop drains nothing: buffered ticks die with the process.
func (p *TickPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	p.wg.Wait()
}

// Stats reports ticks published and dropped since start.
func (p *TickPipeline) Stats() (published, dropped int64) {
	return p.published.Load(), p.dropped.Load()
}

func (p *TickPipeline) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.flushIv)
	defer ticker.Stop()

	batch := make([]*models.Tick, 0, p.batch)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case t := <-p.bufCh:
			batch = append(batch, t)
			if len(batch) >= p.batch {
				batch = p.flush(ctx, batch)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				batch = p.flush(ctx, batch)
			}
		}
	}
}

// flush publishes the batch with bounded retry. A batch that still fails
// is dropped; the archive tolerates gaps.
func (p *TickPipeline) flush(ctx context.Context, batch []*models.Tick) []*models.Tick {
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-p.stopCh:
				return batch[:0]
			case <-time.After(backoff):
			}
			backoff *= 4
		}
		if err := p.sink.PublishTicks(ctx, batch); err != nil {
			p.log.Warn("tick publish failed",
				logger.Int("batch", len(batch)),
				logger.Int("attempt", attempt+1),
				logger.Error(err))
			continue
		}
		p.published.Add(int64(len(batch)))
		return batch[:0]
	}

	p.dropped.Add(int64(len(batch)))
	p.log.Error("tick batch dropped, broker unavailable",
		logger.Int("batch", len(batch)))
	return batch[:0]
}

func validateTick(t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick nil")
	}
	if t.Market == "" {
		return fmt.Errorf("market empty")
	}
	if t.Epoch <= 0 {
		return fmt.Errorf("epoch invalid")
	}
	if t.Digit < 0 || t.Digit > 9 {
		return fmt.Errorf("digit out of range")
	}
	return nil
}

func (p *TickPipeline) allow(market string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.seenMu.Lock()
	defer p.seenMu.Unlock()

	last := p.lastSeen[market]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[market] = now
	return true
}
