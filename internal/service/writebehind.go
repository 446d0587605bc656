package service

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/omnistore/internal/errors"
	"github.com/devrev/omnistore/internal/metrics"
	"github.com/devrev/omnistore/internal/model"
	"go.uber.org/zap"
)

// flushFunc persists one queued record to the backend chain
type flushFunc func(ctx context.Context, key string, rec model.Record) error

// writeBehindQueue buffers backend writes so StoreData can acknowledge from
// cache alone. One pending entry per key: a newer write replaces the queued
// record. Flush failures retry with exponential backoff up to the configured
// bound, then the entry is dropped and counted; they never fail a caller.
type writeBehindQueue struct {
	flushInterval time.Duration
	maxRetries    int
	retryBackoff  time.Duration
	maxPending    int
	flush         flushFunc
	metrics       *metrics.Metrics
	logger        *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingWrite

	flushes  uint64
	retries  uint64
	failures uint64
}

type pendingWrite struct {
	key         string
	record      model.Record
	attempts    int
	nextAttempt time.Time
	enqueued    time.Time
}

type writeBehindConfig struct {
	FlushInterval time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	MaxPending    int
}

func newWriteBehindQueue(cfg writeBehindConfig, flush flushFunc, m *metrics.Metrics, logger *zap.Logger) *writeBehindQueue {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &writeBehindQueue{
		flushInterval: cfg.FlushInterval,
		maxRetries:    cfg.MaxRetries,
		retryBackoff:  cfg.RetryBackoff,
		maxPending:    cfg.MaxPending,
		flush:         flush,
		metrics:       m,
		logger:        logger,
		pending:       make(map[string]*pendingWrite),
	}
}

// Enqueue queues a record for background persistence. Re-enqueueing a key
// replaces its pending record and resets its retry state.
func (q *writeBehindQueue) Enqueue(key string, rec model.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[key]; !exists && len(q.pending) >= q.maxPending {
		return errors.InternalError("write-behind queue is full", nil)
	}
	q.pending[key] = &pendingWrite{
		key:      key,
		record:   rec,
		enqueued: time.Now(),
	}
	q.updateDepthLocked()
	return nil
}

// Drop discards any pending write for key, returning whether one existed.
// Called on delete so a stale queued store cannot resurrect the record.
func (q *writeBehindQueue) Drop(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[key]; !exists {
		return false
	}
	delete(q.pending, key)
	q.updateDepthLocked()
	return true
}

// Pending returns the current queue depth
func (q *writeBehindQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run flushes due entries on a fixed tick until the context is canceled
func (q *writeBehindQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.flushDue(ctx, time.Now())
		case <-ctx.Done():
			q.logger.Debug("Write-behind flusher stopped")
			return
		}
	}
}

// FlushPending forces one flush attempt for every queued entry, backoff
// windows included. Used by Teardown so acknowledged writes are not lost on
// shutdown. Entries that still fail stay pending, retry exhaustion included:
// the returned error with the remaining count is the only trace of the loss.
func (q *writeBehindQueue) FlushPending(ctx context.Context) error {
	q.flushBatch(ctx, q.takeAll(), false)

	if remaining := q.Pending(); remaining > 0 {
		return errors.InternalError("write-behind flush left entries pending", nil).
			WithDetail("remaining", remaining)
	}
	return nil
}

func (q *writeBehindQueue) flushDue(ctx context.Context, now time.Time) {
	q.mu.Lock()
	var due []*pendingWrite
	for _, w := range q.pending {
		if !now.Before(w.nextAttempt) {
			due = append(due, w)
		}
	}
	q.mu.Unlock()

	q.flushBatch(ctx, due, true)
}

func (q *writeBehindQueue) takeAll() []*pendingWrite {
	q.mu.Lock()
	defer q.mu.Unlock()

	all := make([]*pendingWrite, 0, len(q.pending))
	for _, w := range q.pending {
		all = append(all, w)
	}
	return all
}

// flushBatch attempts one flush per entry. With dropExhausted, entries past
// the retry bound are discarded and counted; without it (the final flush)
// they stay pending so the caller reports them instead of a clean shutdown.
func (q *writeBehindQueue) flushBatch(ctx context.Context, batch []*pendingWrite, dropExhausted bool) {
	for _, w := range batch {
		err := q.flush(ctx, w.key, w.record)

		q.mu.Lock()
		current, exists := q.pending[w.key]
		if !exists || current != w {
			// Replaced or dropped while flushing; the newer entry wins
			q.mu.Unlock()
			continue
		}

		if err == nil {
			delete(q.pending, w.key)
			q.flushes++
			if q.metrics != nil {
				q.metrics.WriteBehindFlushes.Inc()
			}
			q.updateDepthLocked()
			q.mu.Unlock()
			continue
		}

		w.attempts++
		if w.attempts > q.maxRetries {
			if !dropExhausted {
				q.mu.Unlock()
				q.logger.Error("Write-behind entry unpersisted after final flush",
					zap.String("key", w.key),
					zap.Int("attempts", w.attempts),
					zap.Error(err))
				continue
			}
			delete(q.pending, w.key)
			q.failures++
			if q.metrics != nil {
				q.metrics.WriteBehindFailures.Inc()
			}
			q.updateDepthLocked()
			q.mu.Unlock()
			q.logger.Error("Write-behind entry dropped after exhausting retries",
				zap.String("key", w.key),
				zap.Int("attempts", w.attempts),
				zap.Error(err))
			continue
		}

		q.retries++
		if q.metrics != nil {
			q.metrics.WriteBehindRetries.Inc()
		}
		backoff := q.retryBackoff << (w.attempts - 1)
		w.nextAttempt = time.Now().Add(backoff)
		q.mu.Unlock()
		q.logger.Warn("Write-behind flush failed, will retry",
			zap.String("key", w.key),
			zap.Int("attempts", w.attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))
	}
}

// updateDepthLocked refreshes the queue depth gauge. Caller holds q.mu.
func (q *writeBehindQueue) updateDepthLocked() {
	if q.metrics != nil {
		q.metrics.WriteBehindQueueDepth.Set(float64(len(q.pending)))
	}
}

// WriteBehindStats holds write-behind queue statistics
type WriteBehindStats struct {
	Pending  int
	Flushes  uint64
	Retries  uint64
	Failures uint64
}

func (q *writeBehindQueue) Stats() WriteBehindStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return WriteBehindStats{
		Pending:  len(q.pending),
		Flushes:  q.flushes,
		Retries:  q.retries,
		Failures: q.failures,
	}
}
