package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/omnistore/internal/model"
	"github.com/devrev/omnistore/internal/util/workerpool"
	"go.uber.org/zap"
)

// Callback receives a notification event
type Callback func(model.Event)

// Hub dispatches change notifications on state transitions. Synchronous
// subscribers run inline, in registration order, before the triggering
// operation returns; their panics are recovered and logged, never propagated.
// Asynchronous subscribers run on a bounded worker pool, at least once, with
// no ordering guarantee across subscribers, and the triggering operation does
// not wait for them.
type Hub struct {
	logger *zap.Logger
	pool   *workerpool.Pool

	mu    sync.RWMutex
	sync_ map[model.EventKind][]Callback
	async map[model.EventKind][]Callback
	seq   uint64
}

// NewHub creates a notification hub dispatching async callbacks on pool
func NewHub(pool *workerpool.Pool, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		pool:   pool,
		sync_:  make(map[model.EventKind][]Callback),
		async:  make(map[model.EventKind][]Callback),
	}
}

// Subscribe registers a synchronous callback for an event kind
func (h *Hub) Subscribe(kind model.EventKind, fn Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sync_[kind] = append(h.sync_[kind], fn)
}

// SubscribeAsync registers an asynchronous callback for an event kind
func (h *Hub) SubscribeAsync(kind model.EventKind, fn Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.async[kind] = append(h.async[kind], fn)
}

// Publish dispatches an event to all subscribers of its kind. Synchronous
// callbacks complete before Publish returns; asynchronous ones are queued.
func (h *Hub) Publish(event model.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	syncSubs := append([]Callback(nil), h.sync_[event.Kind]...)
	asyncSubs := append([]Callback(nil), h.async[event.Kind]...)
	h.mu.RUnlock()

	seq := atomic.AddUint64(&h.seq, 1)

	for i, fn := range syncSubs {
		h.invoke(event, fn, i)
	}

	for i, fn := range asyncSubs {
		fn := fn
		idx := i
		task := workerpool.Task{
			ID: fmt.Sprintf("notify-%s-%d-%d", event.Kind, seq, idx),
			Fn: func(context.Context) error {
				h.invoke(event, fn, idx)
				return nil
			},
		}
		if h.pool == nil || !h.pool.TrySubmit(task) {
			// Queue full: dispatch inline rather than drop, preserving
			// the at-least-once contract.
			h.invoke(event, fn, idx)
		}
	}
}

// invoke runs one callback with panic recovery
func (h *Hub) invoke(event model.Event, fn Callback, idx int) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Notification callback panicked",
				zap.String("kind", string(event.Kind)),
				zap.String("key", event.Key),
				zap.Int("subscriber", idx),
				zap.Any("panic", r))
		}
	}()
	fn(event)
}

// SubscriberCount returns the number of subscribers for an event kind
func (h *Hub) SubscriberCount(kind model.EventKind) (syncCount, asyncCount int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sync_[kind]), len(h.async[kind])
}
