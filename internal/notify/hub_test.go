package notify_test

import (
	"sync"
	"testing"
	"time"

	"github.com/devrev/omnistore/internal/model"
	"github.com/devrev/omnistore/internal/notify"
	"github.com/devrev/omnistore/internal/util/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPool(t *testing.T) *workerpool.Pool {
	t.Helper()
	pool := workerpool.New(&workerpool.Config{Name: "test", MaxWorkers: 2, QueueSize: 16, Logger: zap.NewNop()})
	t.Cleanup(func() { pool.Stop(time.Second) })
	return pool
}

func TestSyncSubscribersRunInRegistrationOrder(t *testing.T) {
	h := notify.NewHub(newPool(t), zap.NewNop())

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		h.Subscribe(model.EventRecordStored, func(model.Event) {
			order = append(order, i)
		})
	}

	h.Publish(model.Event{Kind: model.EventRecordStored, Key: "k"})
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestSubscribersFilteredByKind(t *testing.T) {
	h := notify.NewHub(newPool(t), zap.NewNop())

	var stored, deleted int
	h.Subscribe(model.EventRecordStored, func(model.Event) { stored++ })
	h.Subscribe(model.EventRecordDeleted, func(model.Event) { deleted++ })

	h.Publish(model.Event{Kind: model.EventRecordStored, Key: "k"})
	h.Publish(model.Event{Kind: model.EventRecordStored, Key: "k"})
	h.Publish(model.Event{Kind: model.EventRecordDeleted, Key: "k"})

	assert.Equal(t, 2, stored)
	assert.Equal(t, 1, deleted)
}

func TestSyncPanicDoesNotPropagate(t *testing.T) {
	h := notify.NewHub(newPool(t), zap.NewNop())

	var reached bool
	h.Subscribe(model.EventRecordStored, func(model.Event) { panic("subscriber exploded") })
	h.Subscribe(model.EventRecordStored, func(model.Event) { reached = true })

	assert.NotPanics(t, func() {
		h.Publish(model.Event{Kind: model.EventRecordStored, Key: "k"})
	})
	assert.True(t, reached, "later subscribers still run")
}

func TestAsyncSubscriberReceivesEvent(t *testing.T) {
	h := notify.NewHub(newPool(t), zap.NewNop())

	done := make(chan model.Event, 1)
	h.SubscribeAsync(model.EventFieldChanged, func(e model.Event) {
		done <- e
	})

	h.Publish(model.Event{Kind: model.EventFieldChanged, Key: "k", Field: "name"})

	select {
	case e := <-done:
		assert.Equal(t, "k", e.Key)
		assert.Equal(t, "name", e.Field)
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("async subscriber never ran")
	}
}

func TestAsyncDispatchWithoutPoolFallsBackInline(t *testing.T) {
	// No pool at all: the hub must still deliver, inline
	h := notify.NewHub(nil, zap.NewNop())

	var got int
	h.SubscribeAsync(model.EventRecordStored, func(model.Event) { got++ })
	h.Publish(model.Event{Kind: model.EventRecordStored, Key: "k"})

	assert.Equal(t, 1, got)
}

func TestEveryAsyncSubscriberRunsAtLeastOnce(t *testing.T) {
	h := notify.NewHub(newPool(t), zap.NewNop())

	const subscribers = 8
	var wg sync.WaitGroup
	wg.Add(subscribers)
	var mu sync.Mutex
	seen := make(map[int]int)

	for i := 0; i < subscribers; i++ {
		i := i
		h.SubscribeAsync(model.EventRecordStored, func(model.Event) {
			mu.Lock()
			seen[i]++
			mu.Unlock()
			wg.Done()
		})
	}

	h.Publish(model.Event{Kind: model.EventRecordStored, Key: "k"})

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("not every async subscriber ran")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, subscribers)
	for i, count := range seen {
		assert.GreaterOrEqual(t, count, 1, "subscriber %d", i)
	}
}

func TestSubscriberCount(t *testing.T) {
	h := notify.NewHub(newPool(t), zap.NewNop())

	h.Subscribe(model.EventRecordStored, func(model.Event) {})
	h.Subscribe(model.EventRecordStored, func(model.Event) {})
	h.SubscribeAsync(model.EventRecordStored, func(model.Event) {})

	syncCount, asyncCount := h.SubscriberCount(model.EventRecordStored)
	assert.Equal(t, 2, syncCount)
	assert.Equal(t, 1, asyncCount)
}
