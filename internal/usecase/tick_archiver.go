package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	pkgkafka "DigitPilot/pkg/kafka"
	"DigitPilot/pkg/logger"
)

// maxArchiveBacklog bounds ticks held across failed flushes. Beyond it the
// oldest are dropped; the archive tolerates gaps.
const maxArchiveBacklog = 10000

// TickArchiveHandler consumes the ticks topic and batch-inserts into the
// archive. Handle only buffers; the flusher owns the writes, so one slow
// insert never stalls the consumer workers for long.
type TickArchiveHandler struct {
	topic   string
	archive repository.TickArchive
	log     *logger.Logger

	batchSize int
	flushIv   time.Duration

	mu  sync.Mutex
	buf []*models.Tick

	flushCh  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ pkgkafka.MessageHandler = (*TickArchiveHandler)(nil)

func NewTickArchiveHandler(topic string, archive repository.TickArchive, batchSize int, flushIv time.Duration, log *logger.Logger) *TickArchiveHandler {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushIv <= 0 {
		flushIv = 2 * time.Second
	}
	return &TickArchiveHandler{
		topic:     topic,
		archive:   archive,
		log:       log,
		batchSize: batchSize,
		flushIv:   flushIv,
		flushCh:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

func (h *TickArchiveHandler) Topic() string { return h.topic }

// Handle buffers one tick. Malformed payloads error out to the consumer's
// retry and dead-letter flow; everything else is absorbed here.
func (h *TickArchiveHandler) Handle(ctx context.Context, b []byte) error {
	var t models.Tick
	if err := json.Unmarshal(b, &t); err != nil {
		return fmt.Errorf("decode tick: %w", err)
	}
	if t.Market == "" || t.Epoch <= 0 {
		return fmt.Errorf("tick missing market or epoch")
	}

	h.mu.Lock()
	h.buf = append(h.buf, &t)
	full := len(h.buf) >= h.batchSize
	h.mu.Unlock()

	if full {
		select {
		case h.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Start launches the flusher.
func (h *TickArchiveHandler) Start() {
	h.wg.Add(1)
	go h.run()
}

// Close flushes what is buffered and stops.
func (h *TickArchiveHandler) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
	h.wg.Wait()
	h.flush()
}

func (h *TickArchiveHandler) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.flushIv)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-h.flushCh:
			h.flush()
		case <-ticker.C:
			h.flush()
		}
	}
}

// flush writes the buffered ticks. On failure the batch goes back to the
// front of the buffer, capped at maxArchiveBacklog.
func (h *TickArchiveHandler) flush() {
	h.mu.Lock()
	if len(h.buf) == 0 {
		h.mu.Unlock()
		return
	}
	batch := h.buf
	h.buf = nil
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.archive.StoreBatch(ctx, batch); err != nil {
		h.log.Warn("archive flush failed, retaining batch",
			logger.Int("ticks", len(batch)),
			logger.Error(err))

		h.mu.Lock()
		h.buf = append(batch, h.buf...)
		if over := len(h.buf) - maxArchiveBacklog; over > 0 {
			h.buf = h.buf[over:]
			h.log.Warn("archive backlog trimmed", logger.Int("dropped", over))
		}
		h.mu.Unlock()
		return
	}

	h.log.Debug("ticks archived", logger.Int("count", len(batch)))
}
