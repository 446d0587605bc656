package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/devrev/omnistore/internal/backend"
	"github.com/devrev/omnistore/internal/config"
	"github.com/devrev/omnistore/internal/errors"
	"github.com/devrev/omnistore/internal/model"
	"github.com/devrev/omnistore/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend is an in-memory adapter with per-operation fault injection
type fakeBackend struct {
	name string

	mu       sync.Mutex
	records  map[string]model.Record
	versions map[string]map[string]model.Record
	edges    map[string][]model.RelationshipEdge
	purged   []string

	storeErr  error
	loadErr   error
	deleteErr error
	healthErr error

	stores  int
	loads   int
	deletes int
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{
		name:     name,
		records:  make(map[string]model.Record),
		versions: make(map[string]map[string]model.Record),
		edges:    make(map[string][]model.RelationshipEdge),
	}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Store(_ context.Context, key string, rec model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	if f.storeErr != nil {
		return f.storeErr
	}
	f.records[key] = rec.Clone()
	return nil
}

func (f *fakeBackend) Load(_ context.Context, key string) (model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	rec, ok := f.records[key]
	if !ok {
		return nil, errors.KeyNotFound(key)
	}
	return rec.Clone(), nil
}

func (f *fakeBackend) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.records, key)
	return nil
}

func (f *fakeBackend) ListKeys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.records {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeBackend) StoreVersion(_ context.Context, key, label string, rec model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	if f.versions[key] == nil {
		f.versions[key] = make(map[string]model.Record)
	}
	f.versions[key][label] = rec.Clone()
	return nil
}

func (f *fakeBackend) LoadVersion(_ context.Context, key, label string) (model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.versions[key][label]
	if !ok {
		return nil, errors.KeyNotFound(key)
	}
	return rec.Clone(), nil
}

func (f *fakeBackend) ListVersions(_ context.Context, key string) ([]model.VersionInfo, error) {
	return nil, nil
}

func (f *fakeBackend) HealthCheck(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) StoreEdge(_ context.Context, subject, predicate, object string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges[subject] = append(f.edges[subject], model.RelationshipEdge{
		Subject: subject, Predicate: predicate, Object: object,
	})
	return nil
}

func (f *fakeBackend) DeleteEdge(_ context.Context, subject, predicate, object string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.edges[subject][:0]
	for _, e := range f.edges[subject] {
		if e.Predicate != predicate || e.Object != object {
			kept = append(kept, e)
		}
	}
	f.edges[subject] = kept
	return nil
}

func (f *fakeBackend) Edges(_ context.Context, subject string) ([]model.RelationshipEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.RelationshipEdge(nil), f.edges[subject]...), nil
}

func (f *fakeBackend) PurgeEdges(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, key)
	delete(f.edges, key)
	return nil
}

func (f *fakeBackend) setStoreErr(err error)  { f.mu.Lock(); f.storeErr = err; f.mu.Unlock() }
func (f *fakeBackend) setLoadErr(err error)   { f.mu.Lock(); f.loadErr = err; f.mu.Unlock() }
func (f *fakeBackend) setDeleteErr(err error) { f.mu.Lock(); f.deleteErr = err; f.mu.Unlock() }

func (f *fakeBackend) get(key string) (model.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	return rec, ok
}

func (f *fakeBackend) put(key string, rec model.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[key] = rec
}

func (f *fakeBackend) storeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores
}

func (f *fakeBackend) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func (f *fakeBackend) purgedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.purged...)
}

func testConfig(strategy string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			InstanceID:      "test",
			ShutdownTimeout: time.Second,
		},
		Strategy: config.StrategyConfig{
			Mode:          strategy,
			FlushInterval: time.Minute,
			MaxRetries:    3,
			RetryBackoff:  time.Millisecond,
			MaxPending:    100,
		},
		Cache:         config.CacheConfig{MaxEntries: 128},
		Audit:         config.AuditConfig{Enabled: true, StoreSnapshots: true},
		Versioning:    config.VersioningConfig{MaxVersionsPerKey: 10},
		Policy:        config.PolicyConfig{DefaultTTL: time.Minute},
		Notifications: config.NotificationsConfig{Workers: 2, QueueSize: 64},
		Health: config.HealthConfig{
			ProbeInterval: time.Minute,
			ProbeTimeout:  time.Second,
		},
	}
}

func startOrchestrator(t *testing.T, strategy string, backends ...backend.Descriptor) *service.Orchestrator {
	t.Helper()
	o := service.New(testConfig(strategy), nil, zap.NewNop())
	for _, d := range backends {
		require.NoError(t, o.RegisterBackend(d))
	}
	require.NoError(t, o.Setup(context.Background()))
	t.Cleanup(func() { o.Teardown(context.Background()) })
	// Let the initial health probe finish before tests inject failures
	time.Sleep(50 * time.Millisecond)
	return o
}

func TestWriteThroughStoreLoadDelete(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	rec := model.Record{"name": "alice", "age": 30.0}
	require.NoError(t, o.StoreData(ctx, "user:1", rec, "tester"))

	stored, ok := fb.get("user:1")
	require.True(t, ok, "write-through reaches the backend synchronously")
	assert.Equal(t, rec, stored)

	// Served from cache: the backend load counter must not move
	loadsBefore := fb.loadCount()
	got, err := o.LoadData(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, loadsBefore, fb.loadCount())

	require.NoError(t, o.DeleteData(ctx, "user:1", "tester"))
	_, ok = fb.get("user:1")
	assert.False(t, ok)

	_, err = o.LoadData(ctx, "user:1")
	assert.Equal(t, errors.ErrCodeKeyNotFound, errors.GetCode(err))
}

func TestStoreRejectsInvalidWrites(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	err := o.StoreData(ctx, "", model.Record{"v": 1.0}, "tester")
	require.Error(t, err)
	assert.True(t, errors.IsRejected(err))
	assert.Equal(t, 0, fb.storeCount())
}

func TestFailoverToLowerPriorityBackend(t *testing.T) {
	primary := newFakeBackend("primary")
	secondary := newFakeBackend("secondary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: primary, Priority: 1},
		backend.Descriptor{Name: "secondary", Backend: secondary, Priority: 2})
	ctx := context.Background()

	primary.setStoreErr(errors.ConnectionFailed("primary", "down", nil))

	require.NoError(t, o.StoreData(ctx, "user:1", model.Record{"v": 1.0}, "tester"))
	_, ok := secondary.get("user:1")
	assert.True(t, ok, "write lands on the next backend in priority order")

	// The connection failure degraded the primary: the next write skips it
	storesBefore := primary.storeCount()
	require.NoError(t, o.StoreData(ctx, "user:2", model.Record{"v": 2.0}, "tester"))
	assert.Equal(t, storesBefore, primary.storeCount())
	_, ok = secondary.get("user:2")
	assert.True(t, ok)

	report := o.CheckHealth()
	require.Len(t, report.Backends, 2)
	assert.Equal(t, model.BackendStatusDegraded, report.Backends[0].Status)
}

func TestRejectedErrorSurfacesWithoutFailover(t *testing.T) {
	primary := newFakeBackend("primary")
	secondary := newFakeBackend("secondary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: primary, Priority: 1},
		backend.Descriptor{Name: "secondary", Backend: secondary, Priority: 2})
	ctx := context.Background()

	primary.setStoreErr(errors.Rejected("primary", "record shape not supported", nil))

	err := o.StoreData(ctx, "user:1", model.Record{"v": 1.0}, "tester")
	require.Error(t, err)
	assert.True(t, errors.IsRejected(err))
	assert.Equal(t, 0, secondary.storeCount(), "rejections are not retried elsewhere")
}

func TestLoadNotFoundAdvancesTheChain(t *testing.T) {
	primary := newFakeBackend("primary")
	secondary := newFakeBackend("secondary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: primary, Priority: 1},
		backend.Descriptor{Name: "secondary", Backend: secondary, Priority: 2})
	ctx := context.Background()

	// The record only exists on the lower-priority backend
	secondary.put("user:1", model.Record{"v": 1.0})

	rec, err := o.LoadData(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, model.Record{"v": 1.0}, rec)
}

func TestAllBackendsFailingExhaustsFailover(t *testing.T) {
	primary := newFakeBackend("primary")
	secondary := newFakeBackend("secondary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: primary, Priority: 1},
		backend.Descriptor{Name: "secondary", Backend: secondary, Priority: 2})
	ctx := context.Background()

	primary.setStoreErr(errors.ConnectionFailed("primary", "down", nil))
	secondary.setStoreErr(errors.Timeout("secondary", nil))

	err := o.StoreData(ctx, "user:1", model.Record{"v": 1.0}, "tester")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeExhaustedFailover, errors.GetCode(err))
}

func TestWriteBehindAcknowledgesBeforeBackend(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteBehind,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	rec := model.Record{"v": 1.0}
	require.NoError(t, o.StoreData(ctx, "user:1", rec, "tester"))

	_, ok := fb.get("user:1")
	assert.False(t, ok, "backend write deferred")

	// Reads are served from cache immediately
	got, err := o.LoadData(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	require.NoError(t, o.FlushPending(ctx))
	stored, ok := fb.get("user:1")
	require.True(t, ok)
	assert.Equal(t, rec, stored)
}

func TestWriteBehindDeleteDropsPendingWrite(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteBehind,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	require.NoError(t, o.StoreData(ctx, "user:1", model.Record{"v": 1.0}, "tester"))
	require.NoError(t, o.DeleteData(ctx, "user:1", "tester"))

	// The flush must not resurrect the deleted record
	require.NoError(t, o.FlushPending(ctx))
	_, ok := fb.get("user:1")
	assert.False(t, ok)

	_, err := o.LoadData(ctx, "user:1")
	assert.Equal(t, errors.ErrCodeKeyNotFound, errors.GetCode(err))
}

func TestWriteAroundBypassesCache(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteAround,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	rec := model.Record{"v": 1.0}
	require.NoError(t, o.StoreData(ctx, "user:1", rec, "tester"))

	stored, ok := fb.get("user:1")
	require.True(t, ok)
	assert.Equal(t, rec, stored)

	// The first read must go to the backend, not a stale cache entry
	loadsBefore := fb.loadCount()
	got, err := o.LoadData(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Greater(t, fb.loadCount(), loadsBefore)
}

func TestDeleteCascadesOverRelationships(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	var unlinked []model.Event
	var deleted []model.Event
	o.Subscribe(model.EventEdgeUnlinked, func(e model.Event) { unlinked = append(unlinked, e) })
	o.Subscribe(model.EventRecordDeleted, func(e model.Event) { deleted = append(deleted, e) })

	require.NoError(t, o.StoreData(ctx, "doc:a", model.Record{"title": "a"}, "tester"))
	require.NoError(t, o.StoreRelationship(ctx, "doc:a", "references", "doc:b"))
	require.NoError(t, o.StoreRelationship(ctx, "user:1", "owns", "doc:a"))
	require.NoError(t, o.StoreRelationship(ctx, "user:1", "owns", "doc:c"))

	require.NoError(t, o.DeleteData(ctx, "doc:a", "tester"))

	assert.Empty(t, o.GetAllRelationships("doc:a"))
	assert.Equal(t, []string{"doc:c"}, o.GetRelated("user:1", "owns"), "unrelated edges survive")
	assert.Contains(t, fb.purgedKeys(), "doc:a", "edge-capable backends are purged too")

	require.Len(t, unlinked, 2)
	require.Len(t, deleted, 1)
	assert.Equal(t, "doc:a", deleted[0].Key)
	assert.Equal(t, model.Record{"title": "a"}, deleted[0].OldRecord)
}

func TestStoreEmitsChangeEvents(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	var stored []model.Event
	var changed []model.Event
	o.Subscribe(model.EventRecordStored, func(e model.Event) { stored = append(stored, e) })
	o.Subscribe(model.EventFieldChanged, func(e model.Event) { changed = append(changed, e) })

	require.NoError(t, o.StoreData(ctx, "user:1", model.Record{"name": "alice", "age": 30.0}, "tester"))
	require.NoError(t, o.StoreData(ctx, "user:1", model.Record{"name": "alice", "age": 31.0}, "tester"))

	require.Len(t, stored, 2)
	assert.Nil(t, stored[0].OldRecord)
	assert.NotNil(t, stored[1].OldRecord)

	// First store: every field is new. Second store: only age changed.
	require.Len(t, changed, 3)
	last := changed[2]
	assert.Equal(t, "age", last.Field)
	assert.Equal(t, 30.0, last.OldValue)
	assert.Equal(t, 31.0, last.NewValue)
}

func TestMutatingSubscriberCannotCorruptCachedRecord(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	o.Subscribe(model.EventRecordStored, func(e model.Event) {
		e.NewRecord["v"] = "corrupted"
		if e.OldRecord != nil {
			e.OldRecord["v"] = "corrupted"
		}
	})

	require.NoError(t, o.StoreData(ctx, "user:1", model.Record{"v": 1.0}, "tester"))
	require.NoError(t, o.StoreData(ctx, "user:1", model.Record{"v": 2.0}, "tester"))

	got, err := o.LoadData(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, model.Record{"v": 2.0}, got, "cache entry survives subscriber mutation")
}

func TestMutatingSubscriberCannotCorruptQueuedWrite(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteBehind,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	o.Subscribe(model.EventRecordStored, func(e model.Event) {
		e.NewRecord["v"] = "corrupted"
	})

	require.NoError(t, o.StoreData(ctx, "user:1", model.Record{"v": 1.0}, "tester"))
	require.NoError(t, o.FlushPending(ctx))

	stored, ok := fb.get("user:1")
	require.True(t, ok)
	assert.Equal(t, model.Record{"v": 1.0}, stored, "queued write survives subscriber mutation")
}

func TestAuditTrailDistinguishesCreateFromUpdate(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	require.NoError(t, o.StoreData(ctx, "user:1", model.Record{"v": 1.0}, "alice"))
	require.NoError(t, o.StoreData(ctx, "user:1", model.Record{"v": 2.0}, "bob"))
	require.NoError(t, o.DeleteData(ctx, "user:1", "carol"))

	trail := o.GetAuditTrail("user:1")
	require.Len(t, trail, 3)
	assert.Equal(t, model.OperationDelete, trail[0].Operation)
	assert.Equal(t, "carol", trail[0].Identity)
	assert.Equal(t, model.OperationUpdate, trail[1].Operation)
	assert.Equal(t, model.OperationCreate, trail[2].Operation)
}

func TestVersionSnapshotRoundTrip(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	label, err := o.StoreVersion(ctx, "user:1", "", model.Record{"v": 1.0})
	require.NoError(t, err)
	require.NotEmpty(t, label)

	rec, err := o.LoadVersion(ctx, "user:1", label)
	require.NoError(t, err)
	assert.Equal(t, model.Record{"v": 1.0}, rec)

	// Empty label resolves to the latest snapshot
	_, err = o.StoreVersion(ctx, "user:1", "v2", model.Record{"v": 2.0})
	require.NoError(t, err)
	latest, err := o.LoadVersion(ctx, "user:1", "")
	require.NoError(t, err)
	assert.Equal(t, model.Record{"v": 2.0}, latest)

	infos := o.ListVersions("user:1")
	require.Len(t, infos, 2)
}

func TestPolicyDecisionCaching(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})

	o.CachePolicyDecision("alice", "read", "doc:1", true, "owner", 0)

	decision, ok := o.GetCachedPolicy("alice", "read", "doc:1")
	require.True(t, ok)
	assert.True(t, decision.Allowed)

	assert.Equal(t, 1, o.InvalidatePolicyIdentity("alice"))
	_, ok = o.GetCachedPolicy("alice", "read", "doc:1")
	assert.False(t, ok)
}

func TestOperationsRejectedAfterTeardown(t *testing.T) {
	fb := newFakeBackend("primary")
	o := service.New(testConfig(config.StrategyWriteThrough), nil, zap.NewNop())
	require.NoError(t, o.RegisterBackend(backend.Descriptor{Name: "primary", Backend: fb, Priority: 1}))
	require.NoError(t, o.Setup(context.Background()))
	require.NoError(t, o.Teardown(context.Background()))

	err := o.StoreData(context.Background(), "user:1", model.Record{"v": 1.0}, "tester")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeClosed, errors.GetCode(err))

	_, err = o.LoadData(context.Background(), "user:1")
	assert.Equal(t, errors.ErrCodeClosed, errors.GetCode(err))

	// Teardown is idempotent
	assert.NoError(t, o.Teardown(context.Background()))
}

func TestRegisterBackendValidation(t *testing.T) {
	o := service.New(testConfig(config.StrategyWriteThrough), nil, zap.NewNop())

	err := o.RegisterBackend(backend.Descriptor{Name: "x"})
	assert.Error(t, err, "nil backend")

	require.NoError(t, o.RegisterBackend(backend.Descriptor{Name: "a", Backend: newFakeBackend("a")}))
	err = o.RegisterBackend(backend.Descriptor{Name: "a", Backend: newFakeBackend("a")})
	assert.Error(t, err, "duplicate name")

	err = o.Setup(context.Background())
	require.NoError(t, err)
	defer o.Teardown(context.Background())

	err = o.RegisterBackend(backend.Descriptor{Name: "b", Backend: newFakeBackend("b")})
	assert.Error(t, err, "registration after Setup")
}

func TestSetupRequiresBackends(t *testing.T) {
	o := service.New(testConfig(config.StrategyWriteThrough), nil, zap.NewNop())
	err := o.Setup(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
}

func TestListKeysSorted(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	for _, k := range []string{"user:3", "user:1", "doc:1", "user:2"} {
		require.NoError(t, o.StoreData(ctx, k, model.Record{"k": k}, "tester"))
	}

	keys, err := o.ListKeys(ctx, "user:")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1", "user:2", "user:3"}, keys)
}

func TestGetStatistics(t *testing.T) {
	fb := newFakeBackend("primary")
	o := startOrchestrator(t, config.StrategyWriteThrough,
		backend.Descriptor{Name: "primary", Backend: fb, Priority: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("user:%d", i)
		require.NoError(t, o.StoreData(ctx, key, model.Record{"v": float64(i)}, "tester"))
		_, err := o.LoadData(ctx, key)
		require.NoError(t, err)
	}
	_, err := o.LoadData(ctx, "missing")
	require.Error(t, err)

	stats := o.GetStatistics()
	assert.Equal(t, uint64(7), stats.OpsTotal)
	assert.Equal(t, uint64(1), stats.ErrorsTotal)
	assert.Equal(t, uint64(3), stats.CacheHits)
	require.Len(t, stats.Backends, 1)
	assert.Equal(t, "primary", stats.Backends[0].Name)
	assert.Equal(t, uint64(3), stats.Backends[0].Stores)
}
