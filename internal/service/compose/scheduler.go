package compose

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatcompose/internal/domain/models/chat"
)

// FlushFunc writes a batch of block snapshots to storage.
type FlushFunc func(ctx context.Context, blocks []*chat.Block) error

// PersistScheduler coalesces intermediate block writes. Scheduling the same
// block twice before a flush keeps only the newer snapshot, and flushes are
// spaced at least one interval apart.
type PersistScheduler struct {
	mu      sync.Mutex
	pending map[string]*chat.Block
	order   []string
	timer   *time.Timer
	stopped bool

	flushMu sync.Mutex // serializes flushes

	limiter *rate.Limiter
	flush   FlushFunc
	logger  *slog.Logger
}

// NewPersistScheduler creates a scheduler that calls flush at most once per
// interval.
func NewPersistScheduler(interval time.Duration, flush FlushFunc, logger *slog.Logger) *PersistScheduler {
	return &PersistScheduler{
		pending: make(map[string]*chat.Block),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		flush:   flush,
		logger:  logger,
	}
}

// Schedule queues a snapshot of b for the next flush.
func (s *PersistScheduler) Schedule(b *chat.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if _, ok := s.pending[b.ID]; !ok {
		s.order = append(s.order, b.ID)
	}
	s.pending[b.ID] = b.Clone()

	if s.timer == nil {
		delay := s.limiter.Reserve().Delay()
		s.timer = time.AfterFunc(delay, s.fire)
	}
}

// Pending returns the number of blocks waiting for a flush
func (s *PersistScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *PersistScheduler) take() []*chat.Block {
	batch := make([]*chat.Block, 0, len(s.order))
	for _, id := range s.order {
		batch = append(batch, s.pending[id])
	}
	s.pending = make(map[string]*chat.Block)
	s.order = nil
	return batch
}

func (s *PersistScheduler) fire() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	s.timer = nil
	if s.stopped {
		s.mu.Unlock()
		return
	}
	batch := s.take()
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := s.flush(context.Background(), batch); err != nil {
		s.logger.Warn("intermediate block flush failed", "blocks", len(batch), "error", err)
	}
}

// Flush writes everything pending now, ignoring the interval.
func (s *PersistScheduler) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	batch := s.take()
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.flush(ctx, batch)
}

// Stop discards pending snapshots and waits for an in-flight flush to
// finish. Nothing is written after Stop returns.
func (s *PersistScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = make(map[string]*chat.Block)
	s.order = nil
	s.mu.Unlock()

	s.flushMu.Lock()
	s.flushMu.Unlock()
}
