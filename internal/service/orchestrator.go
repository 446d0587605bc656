// Package service wires the storage components into one façade. The
// Orchestrator owns the read cache, audit log, relationship graph, policy
// cache, version store and notification hub, and drives the prioritized
// backend failover chain under the configured write strategy.
package service

import (
	"context"
	"hash/fnv"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/omnistore/internal/audit"
	"github.com/devrev/omnistore/internal/backend"
	"github.com/devrev/omnistore/internal/cache"
	"github.com/devrev/omnistore/internal/config"
	"github.com/devrev/omnistore/internal/errors"
	"github.com/devrev/omnistore/internal/health"
	"github.com/devrev/omnistore/internal/metrics"
	"github.com/devrev/omnistore/internal/model"
	"github.com/devrev/omnistore/internal/notify"
	"github.com/devrev/omnistore/internal/policy"
	"github.com/devrev/omnistore/internal/relationship"
	"github.com/devrev/omnistore/internal/util/workerpool"
	"github.com/devrev/omnistore/internal/validation"
	"github.com/devrev/omnistore/internal/version"
	"go.uber.org/zap"
)

// keyLockShards stripes the per-key write mutex. Two writers to the same key
// always share a shard; distinct keys rarely contend.
const keyLockShards = 64

// Orchestrator is the managed storage layer façade
type Orchestrator struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	validator *validation.Validator
	cache     *cache.LRU
	audit     *audit.Log
	graph     *relationship.Graph
	policy    *policy.Cache
	versions  *version.Store
	pool      *workerpool.Pool
	hub       *notify.Hub
	prober    *health.Prober
	wb        *writeBehindQueue

	locks [keyLockShards]sync.Mutex

	mu    sync.RWMutex
	chain []backend.Descriptor // sorted by priority, registration order on ties

	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	started   bool
	closed    atomic.Bool

	startTime time.Time
	opsTotal  uint64
	errsTotal uint64

	countsMu sync.Mutex
	counts   map[string]*model.BackendCounts
}

// New creates an orchestrator from configuration. Backends are registered
// separately; Setup starts the background machinery.
func New(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		config:    cfg,
		logger:    logger,
		metrics:   m,
		validator: validation.NewValidator(),
		graph:     relationship.NewGraph(logger.Named("relationship")),
		counts:    make(map[string]*model.BackendCounts),
		startTime: time.Now(),
	}

	o.cache = cache.New(cfg.Cache.MaxEntries, nil, logger.Named("cache"))
	o.audit = audit.NewLog(&audit.Config{
		Enabled:          cfg.Audit.Enabled,
		MaxEntriesPerKey: cfg.Audit.MaxEntriesPerKey,
		RetentionWindow:  cfg.Audit.RetentionWindow,
		StoreSnapshots:   cfg.Audit.StoreSnapshots,
		SweepInterval:    cfg.Audit.SweepInterval,
	}, logger.Named("audit"))
	o.policy = policy.NewCache(&policy.Config{
		DefaultTTL:    cfg.Policy.DefaultTTL,
		SweepInterval: cfg.Policy.SweepInterval,
	}, logger.Named("policy"))
	o.versions = version.NewStore(&version.Config{
		MaxVersionsPerKey: cfg.Versioning.MaxVersionsPerKey,
		MaxVersionAge:     cfg.Versioning.MaxVersionAge,
		SweepInterval:     cfg.Versioning.SweepInterval,
	}, logger.Named("version"))
	o.pool = workerpool.New(&workerpool.Config{
		Name:       "notify",
		MaxWorkers: cfg.Notifications.Workers,
		QueueSize:  cfg.Notifications.QueueSize,
		Logger:     logger.Named("workerpool"),
	})
	o.hub = notify.NewHub(o.pool, logger.Named("notify"))
	o.wb = newWriteBehindQueue(writeBehindConfig{
		FlushInterval: cfg.Strategy.FlushInterval,
		MaxRetries:    cfg.Strategy.MaxRetries,
		RetryBackoff:  cfg.Strategy.RetryBackoff,
		MaxPending:    cfg.Strategy.MaxPending,
	}, o.chainStore, m, logger.Named("writebehind"))

	return o
}

// RegisterBackend adds a backend to the failover chain. Lower priority is
// consulted first; equal priorities keep registration order. Must be called
// before Setup.
func (o *Orchestrator) RegisterBackend(d backend.Descriptor) error {
	if d.Backend == nil {
		return errors.InvalidArgument("backend must not be nil", nil)
	}
	if d.Name == "" {
		d.Name = d.Backend.Name()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return errors.Closed("backends cannot be registered after Setup")
	}
	for _, existing := range o.chain {
		if existing.Name == d.Name {
			return errors.InvalidArgument("duplicate backend name", nil).WithDetail("backend", d.Name)
		}
	}

	o.chain = append(o.chain, d)
	sort.SliceStable(o.chain, func(i, j int) bool {
		return o.chain[i].Priority < o.chain[j].Priority
	})

	o.countsMu.Lock()
	o.counts[d.Name] = &model.BackendCounts{Name: d.Name}
	o.countsMu.Unlock()

	o.logger.Info("Backend registered",
		zap.String("backend", d.Name),
		zap.Int("priority", d.Priority))
	return nil
}

// Setup starts the prober, the background sweeps and, in write-behind mode,
// the flusher. It must be called once before serving operations.
func (o *Orchestrator) Setup(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.Closed("orchestrator already set up")
	}
	if len(o.chain) == 0 {
		o.mu.Unlock()
		return errors.InvalidArgument("no backends registered", nil)
	}
	o.started = true
	descriptors := append([]backend.Descriptor(nil), o.chain...)
	o.mu.Unlock()

	o.prober = health.NewProber(&health.Config{
		ProbeInterval: o.config.Health.ProbeInterval,
		ProbeTimeout:  o.config.Health.ProbeTimeout,
	}, descriptors, o.logger.Named("health"))

	runCtx, cancel := context.WithCancel(context.Background())
	o.runCancel = cancel

	o.background(func() { o.prober.Start(runCtx) })
	o.background(func() { o.audit.Start(runCtx) })
	o.background(func() { o.policy.Start(runCtx) })
	o.background(func() { o.versions.Start(runCtx) })
	if o.config.Strategy.Mode == config.StrategyWriteBehind {
		o.background(func() { o.wb.Run(runCtx) })
	}

	o.logger.Info("Storage orchestrator started",
		zap.String("strategy", o.config.Strategy.Mode),
		zap.Int("backends", len(descriptors)))
	return nil
}

func (o *Orchestrator) background(fn func()) {
	o.runWG.Add(1)
	go func() {
		defer o.runWG.Done()
		fn()
	}()
}

// Teardown flushes pending write-behind entries, stops background work and
// closes every backend. The orchestrator rejects operations afterwards.
func (o *Orchestrator) Teardown(ctx context.Context) error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}

	var firstErr error
	if o.config.Strategy.Mode == config.StrategyWriteBehind {
		if err := o.wb.FlushPending(ctx); err != nil {
			o.logger.Error("Final write-behind flush incomplete", zap.Error(err))
			firstErr = err
		}
	}

	if o.runCancel != nil {
		o.runCancel()
	}
	o.runWG.Wait()

	if err := o.pool.Stop(o.config.Server.ShutdownTimeout); err != nil {
		o.logger.Warn("Worker pool stop timed out", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, d := range o.sortedChain() {
		if err := d.Backend.Close(); err != nil {
			o.logger.Warn("Backend close failed",
				zap.String("backend", d.Name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	o.logger.Info("Storage orchestrator stopped")
	return firstErr
}

func (o *Orchestrator) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &o.locks[h.Sum32()%keyLockShards]
}

func (o *Orchestrator) sortedChain() []backend.Descriptor {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]backend.Descriptor(nil), o.chain...)
}

func (o *Orchestrator) checkOpen() error {
	if o.closed.Load() {
		return errors.Closed("storage layer is shut down")
	}
	return nil
}

// available reports whether the chain should consult a backend. Before Setup
// runs (no prober yet) every backend is considered available.
func (o *Orchestrator) available(name string) bool {
	if o.prober == nil {
		return true
	}
	return o.prober.Available(name)
}

func (o *Orchestrator) reportFailure(name string, err error) {
	if o.prober != nil {
		o.prober.ReportFailure(name, err)
	}
	if o.metrics != nil {
		o.metrics.RecordBackendError(name, "connection")
	}
	o.countBackendFailure(name)
}

func (o *Orchestrator) countBackend(name string, update func(*model.BackendCounts)) {
	o.countsMu.Lock()
	defer o.countsMu.Unlock()
	if c, ok := o.counts[name]; ok {
		update(c)
	}
}

func (o *Orchestrator) countBackendFailure(name string) {
	o.countBackend(name, func(c *model.BackendCounts) { c.Failures++ })
}

func (o *Orchestrator) observeBackend(name, op string, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordBackendRequest(name, op, time.Since(start).Seconds())
	}
}

func (o *Orchestrator) observeOp(op string, start time.Time, err error) {
	atomic.AddUint64(&o.opsTotal, 1)
	if err != nil {
		atomic.AddUint64(&o.errsTotal, 1)
	}
	if o.metrics != nil {
		o.metrics.RecordOperation(op, time.Since(start).Seconds(), err)
	}
}

// chainStore writes through the failover chain: first available backend that
// acknowledges wins. Rejected operations surface immediately; connection
// failures degrade the backend and advance the chain.
func (o *Orchestrator) chainStore(ctx context.Context, key string, rec model.Record) error {
	var lastErr error
	attempts := 0

	for _, d := range o.sortedChain() {
		if !o.available(d.Name) {
			continue
		}
		attempts++
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, d.CallTimeout())
		err := backend.Classify(d.Name, d.Backend.Store(cctx, key, rec))
		cancel()
		o.observeBackend(d.Name, "store", start)

		if err == nil {
			o.countBackend(d.Name, func(c *model.BackendCounts) { c.Stores++ })
			return nil
		}
		if errors.IsRejected(err) {
			if o.metrics != nil {
				o.metrics.RecordBackendError(d.Name, "rejected")
			}
			return err
		}
		o.reportFailure(d.Name, err)
		lastErr = err
	}
	return errors.ExhaustedFailover(attempts, lastErr)
}

// chainLoad reads through the failover chain. A backend reporting not-found
// does not stop the chain: a write may have landed on a lower-priority
// backend while this one was degraded.
func (o *Orchestrator) chainLoad(ctx context.Context, key string) (model.Record, error) {
	var lastErr error
	attempts := 0
	notFound := false
	failedBefore := false

	for _, d := range o.sortedChain() {
		if !o.available(d.Name) {
			failedBefore = true
			continue
		}
		attempts++
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, d.CallTimeout())
		rec, err := d.Backend.Load(cctx, key)
		cancel()
		err = backend.Classify(d.Name, err)
		o.observeBackend(d.Name, "load", start)

		if err == nil {
			o.countBackend(d.Name, func(c *model.BackendCounts) { c.Loads++ })
			if failedBefore && o.metrics != nil {
				o.metrics.FailoverTotal.Inc()
			}
			return rec, nil
		}
		if errors.IsNotFound(err) {
			notFound = true
			continue
		}
		if errors.IsRejected(err) {
			if o.metrics != nil {
				o.metrics.RecordBackendError(d.Name, "rejected")
			}
			return nil, err
		}
		o.reportFailure(d.Name, err)
		failedBefore = true
		lastErr = err
	}

	if notFound && lastErr == nil {
		return nil, errors.KeyNotFound(key)
	}
	return nil, errors.ExhaustedFailover(attempts, lastErr)
}

// chainDelete removes key from every available backend, best effort. The
// delete succeeds when at least one backend acknowledged; connection failures
// degrade as usual.
func (o *Orchestrator) chainDelete(ctx context.Context, key string) error {
	var lastErr error
	attempts := 0
	acked := 0

	for _, d := range o.sortedChain() {
		if !o.available(d.Name) {
			continue
		}
		attempts++
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, d.CallTimeout())
		err := backend.Classify(d.Name, d.Backend.Delete(cctx, key))
		cancel()
		o.observeBackend(d.Name, "delete", start)

		if err == nil {
			o.countBackend(d.Name, func(c *model.BackendCounts) { c.Deletes++ })
			acked++
			continue
		}
		if errors.IsRejected(err) {
			if o.metrics != nil {
				o.metrics.RecordBackendError(d.Name, "rejected")
			}
			return err
		}
		o.reportFailure(d.Name, err)
		lastErr = err
	}

	if acked > 0 {
		return nil
	}
	return errors.ExhaustedFailover(attempts, lastErr)
}

// forEachEdgeStore applies fn to every available backend that persists edges
// natively. Edge persistence is best effort: the graph is authoritative.
func (o *Orchestrator) forEachEdgeStore(fn func(name string, es backend.EdgeStore) error) {
	for _, d := range o.sortedChain() {
		es, ok := d.Backend.(backend.EdgeStore)
		if !ok || !o.available(d.Name) {
			continue
		}
		if err := fn(d.Name, es); err != nil {
			o.logger.Warn("Edge persistence failed",
				zap.String("backend", d.Name), zap.Error(err))
			if errors.IsConnectionFailure(err) {
				o.reportFailure(d.Name, err)
			}
		}
	}
}

func (o *Orchestrator) publish(event model.Event) {
	if o.metrics != nil {
		o.metrics.NotificationsTotal.WithLabelValues(string(event.Kind)).Inc()
	}
	o.hub.Publish(event)
}

// previous returns the current record for change detection, preferring the
// cache. Backend errors degrade to "no previous record": change events and
// the create/update distinction are best effort, never a reason to fail a
// write.
func (o *Orchestrator) previous(ctx context.Context, key string) model.Record {
	if rec, ok := o.cache.Get(key); ok {
		return rec.Clone()
	}
	rec, err := o.chainLoad(ctx, key)
	if err != nil {
		return nil
	}
	return rec
}

// StoreData persists a record under key using the configured write strategy.
// Same-key writers are serialized; the audit entry, version bookkeeping and
// notifications happen after the strategy acknowledged.
func (o *Orchestrator) StoreData(ctx context.Context, key string, rec model.Record, identity string) error {
	start := time.Now()
	err := o.storeData(ctx, key, rec, identity)
	o.observeOp("store", start, err)
	return err
}

func (o *Orchestrator) storeData(ctx context.Context, key string, rec model.Record, identity string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	if err := o.validator.ValidateWrite(key, rec); err != nil {
		return err
	}

	lock := o.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	prev := o.previous(ctx, key)
	stored := rec.Clone()

	switch o.config.Strategy.Mode {
	case config.StrategyWriteBehind:
		o.cache.Put(key, stored)
		if err := o.wb.Enqueue(key, stored); err != nil {
			o.cache.Invalidate(key)
			return err
		}
	case config.StrategyWriteAround:
		if err := o.chainStore(ctx, key, stored); err != nil {
			return err
		}
		o.cache.Invalidate(key)
	default: // write-through
		if err := o.chainStore(ctx, key, stored); err != nil {
			return err
		}
		o.cache.Put(key, stored)
	}

	op := model.OperationUpdate
	if prev == nil {
		op = model.OperationCreate
	}
	o.audit.Record(key, op, identity, stored)
	o.publishRecordChange(key, identity, prev, stored)

	if o.metrics != nil {
		o.metrics.UpdateCacheEntries(o.cache.Len())
	}
	return nil
}

// publishRecordChange emits the record-stored event plus one field-changed
// event per differing field, removed fields included. Subscribers get their
// own copies: the live maps are shared with the cache and the write-behind
// queue, and a mutating callback must not corrupt them.
func (o *Orchestrator) publishRecordChange(key, identity string, prev, next model.Record) {
	prev = prev.Clone()
	next = next.Clone()
	now := time.Now()
	o.publish(model.Event{
		Kind:      model.EventRecordStored,
		Key:       key,
		OldRecord: prev,
		NewRecord: next,
		Identity:  identity,
		Timestamp: now,
	})

	for field, newValue := range next {
		oldValue, existed := prev[field]
		if existed && reflect.DeepEqual(oldValue, newValue) {
			continue
		}
		o.publish(model.Event{
			Kind:      model.EventFieldChanged,
			Key:       key,
			Field:     field,
			OldValue:  oldValue,
			NewValue:  newValue,
			Identity:  identity,
			Timestamp: now,
		})
	}
	for field, oldValue := range prev {
		if _, still := next[field]; still {
			continue
		}
		o.publish(model.Event{
			Kind:      model.EventFieldChanged,
			Key:       key,
			Field:     field,
			OldValue:  oldValue,
			Identity:  identity,
			Timestamp: now,
		})
	}
}

// LoadData returns the record for key, serving from cache when possible and
// populating it after a backend read
func (o *Orchestrator) LoadData(ctx context.Context, key string) (model.Record, error) {
	start := time.Now()
	rec, err := o.loadData(ctx, key)
	o.observeOp("load", start, err)
	return rec, err
}

func (o *Orchestrator) loadData(ctx context.Context, key string) (model.Record, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}
	if err := o.validator.ValidateKey(key); err != nil {
		return nil, err
	}

	if rec, ok := o.cache.Get(key); ok {
		if o.metrics != nil {
			o.metrics.RecordCacheHit()
		}
		return rec.Clone(), nil
	}
	if o.metrics != nil {
		o.metrics.RecordCacheMiss()
	}

	rec, err := o.chainLoad(ctx, key)
	if err != nil {
		return nil, err
	}
	o.cache.Put(key, rec.Clone())
	return rec, nil
}

// DeleteData removes the record, drops any pending write-behind entry for
// it, and cascades over the relationship graph. Audit and version history
// are retained.
func (o *Orchestrator) DeleteData(ctx context.Context, key string, identity string) error {
	start := time.Now()
	err := o.deleteData(ctx, key, identity)
	o.observeOp("delete", start, err)
	return err
}

func (o *Orchestrator) deleteData(ctx context.Context, key string, identity string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	if err := o.validator.ValidateKey(key); err != nil {
		return err
	}

	lock := o.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	var prev model.Record
	if rec, ok := o.cache.Get(key); ok {
		prev = rec.Clone()
	}
	dropped := o.wb.Drop(key)

	if err := o.chainDelete(ctx, key); err != nil {
		// The backends never saw a dropped pending write, so a chain-wide
		// failure with one still counts as a completed delete.
		if !dropped {
			return err
		}
		o.logger.Warn("Backend delete failed for queued-only record",
			zap.String("key", key), zap.Error(err))
	}
	o.cache.Invalidate(key)

	removed := o.graph.Purge(key)
	o.forEachEdgeStore(func(name string, es backend.EdgeStore) error {
		return es.PurgeEdges(ctx, key)
	})
	if o.metrics != nil {
		o.metrics.CascadeDeleteEdges.Observe(float64(len(removed)))
		o.metrics.UpdateCacheEntries(o.cache.Len())
	}

	o.audit.Record(key, model.OperationDelete, identity, prev)

	now := time.Now()
	for i := range removed {
		edge := model.RelationshipEdge{
			Subject:   removed[i].Subject,
			Predicate: removed[i].Predicate,
			Object:    removed[i].Object,
		}
		o.publish(model.Event{
			Kind:      model.EventEdgeUnlinked,
			Key:       key,
			Edge:      &edge,
			Identity:  identity,
			Timestamp: now,
		})
	}
	o.publish(model.Event{
		Kind:      model.EventRecordDeleted,
		Key:       key,
		OldRecord: prev,
		Identity:  identity,
		Timestamp: now,
	})
	return nil
}

// ListKeys returns the stored keys matching prefix from the first backend
// that can answer
func (o *Orchestrator) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := o.listKeys(ctx, prefix)
	o.observeOp("list_keys", start, err)
	return keys, err
}

func (o *Orchestrator) listKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}

	var lastErr error
	attempts := 0
	for _, d := range o.sortedChain() {
		if !o.available(d.Name) {
			continue
		}
		attempts++
		cctx, cancel := context.WithTimeout(ctx, d.CallTimeout())
		keys, err := d.Backend.ListKeys(cctx, prefix)
		cancel()
		err = backend.Classify(d.Name, err)
		if err == nil {
			sort.Strings(keys)
			return keys, nil
		}
		if errors.IsRejected(err) {
			return nil, err
		}
		o.reportFailure(d.Name, err)
		lastErr = err
	}
	return nil, errors.ExhaustedFailover(attempts, lastErr)
}

// StoreRelationship records a directed edge. The in-memory graph is
// authoritative; edge-capable backends are updated best effort.
func (o *Orchestrator) StoreRelationship(ctx context.Context, subject, predicate, object string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	if err := o.validator.ValidateEdge(subject, predicate, object); err != nil {
		return err
	}

	if !o.graph.Link(subject, predicate, object) {
		return nil // already linked
	}
	o.forEachEdgeStore(func(name string, es backend.EdgeStore) error {
		return es.StoreEdge(ctx, subject, predicate, object)
	})

	edge := model.RelationshipEdge{Subject: subject, Predicate: predicate, Object: object}
	o.publish(model.Event{
		Kind:      model.EventEdgeLinked,
		Key:       subject,
		Edge:      &edge,
		Timestamp: time.Now(),
	})
	return nil
}

// RemoveRelationship removes a directed edge. Removing an absent edge is not
// an error.
func (o *Orchestrator) RemoveRelationship(ctx context.Context, subject, predicate, object string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	if err := o.validator.ValidateEdge(subject, predicate, object); err != nil {
		return err
	}

	if !o.graph.Unlink(subject, predicate, object) {
		return nil
	}
	o.forEachEdgeStore(func(name string, es backend.EdgeStore) error {
		return es.DeleteEdge(ctx, subject, predicate, object)
	})

	edge := model.RelationshipEdge{Subject: subject, Predicate: predicate, Object: object}
	o.publish(model.Event{
		Kind:      model.EventEdgeUnlinked,
		Key:       subject,
		Edge:      &edge,
		Timestamp: time.Now(),
	})
	return nil
}

// GetRelated returns the objects subject points at via predicate, sorted
func (o *Orchestrator) GetRelated(subject, predicate string) []string {
	return o.graph.Related(subject, predicate)
}

// GetRelatedTo returns the subjects pointing at object via predicate, sorted
func (o *Orchestrator) GetRelatedTo(object, predicate string) []string {
	return o.graph.RelatedTo(object, predicate)
}

// GetAllRelationships returns every edge mentioning key in either position
func (o *Orchestrator) GetAllRelationships(key string) []model.RelationshipEdge {
	edges := o.graph.All(key)
	out := make([]model.RelationshipEdge, len(edges))
	for i, e := range edges {
		out[i] = model.RelationshipEdge{Subject: e.Subject, Predicate: e.Predicate, Object: e.Object}
	}
	return out
}

// CachePolicyDecision caches an externally-computed authorization verdict
func (o *Orchestrator) CachePolicyDecision(identity, action, resource string, allowed bool, reason string, ttl time.Duration) {
	o.policy.Put(identity, action, resource, allowed, reason, ttl)
	if o.metrics != nil {
		o.metrics.PolicyEntriesTotal.Set(float64(o.policy.Stats().Entries))
	}
}

// GetCachedPolicy returns a cached, unexpired policy decision
func (o *Orchestrator) GetCachedPolicy(identity, action, resource string) (model.PolicyDecision, bool) {
	decision, ok := o.policy.Lookup(identity, action, resource)
	if o.metrics != nil {
		if ok {
			o.metrics.PolicyHitsTotal.Inc()
		} else {
			o.metrics.PolicyMissesTotal.Inc()
		}
	}
	return decision, ok
}

// InvalidatePolicyIdentity drops every cached decision for an identity
func (o *Orchestrator) InvalidatePolicyIdentity(identity string) int {
	return o.policy.InvalidateIdentity(identity)
}

// InvalidatePolicyResource drops every cached decision for a resource
func (o *Orchestrator) InvalidatePolicyResource(resource string) int {
	return o.policy.InvalidateResource(resource)
}

// StoreVersion snapshots a record under a label, generating a chronological
// label when none is given. The local bounded store is authoritative; the
// chain persists the snapshot best effort.
func (o *Orchestrator) StoreVersion(ctx context.Context, key, label string, rec model.Record) (string, error) {
	start := time.Now()
	label, err := o.storeVersion(ctx, key, label, rec)
	o.observeOp("store_version", start, err)
	return label, err
}

func (o *Orchestrator) storeVersion(ctx context.Context, key, label string, rec model.Record) (string, error) {
	if err := o.checkOpen(); err != nil {
		return "", err
	}
	if err := o.validator.ValidateWrite(key, rec); err != nil {
		return "", err
	}

	label = o.versions.Put(key, label, rec)

	for _, d := range o.sortedChain() {
		if !o.available(d.Name) {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, d.CallTimeout())
		err := backend.Classify(d.Name, d.Backend.StoreVersion(cctx, key, label, rec))
		cancel()
		if err == nil {
			break
		}
		if errors.IsRejected(err) {
			o.logger.Warn("Backend rejected version snapshot",
				zap.String("backend", d.Name), zap.String("key", key), zap.Error(err))
			break
		}
		o.reportFailure(d.Name, err)
	}
	return label, nil
}

// LoadVersion returns a labeled snapshot, the most recent one when label is
// empty. Falls back to the backend chain when the local store lacks it.
func (o *Orchestrator) LoadVersion(ctx context.Context, key, label string) (model.Record, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}
	if err := o.validator.ValidateKey(key); err != nil {
		return nil, err
	}

	if rec, ok := o.versions.Get(key, label); ok {
		return rec, nil
	}

	var lastErr error
	for _, d := range o.sortedChain() {
		if !o.available(d.Name) {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, d.CallTimeout())
		rec, err := d.Backend.LoadVersion(cctx, key, label)
		cancel()
		err = backend.Classify(d.Name, err)
		if err == nil {
			return rec, nil
		}
		if errors.IsNotFound(err) || errors.IsRejected(err) {
			lastErr = err
			continue
		}
		o.reportFailure(d.Name, err)
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.KeyNotFound(key)
}

// ListVersions returns version metadata for key, oldest first
func (o *Orchestrator) ListVersions(key string) []model.VersionInfo {
	return o.versions.List(key)
}

// GetAuditTrail returns the audit trail for key, most recent first
func (o *Orchestrator) GetAuditTrail(key string) []model.AuditEntry {
	return o.audit.Trail(key)
}

// Subscribe registers a synchronous notification callback
func (o *Orchestrator) Subscribe(kind model.EventKind, fn notify.Callback) {
	o.hub.Subscribe(kind, fn)
}

// SubscribeAsync registers an asynchronous notification callback
func (o *Orchestrator) SubscribeAsync(kind model.EventKind, fn notify.Callback) {
	o.hub.SubscribeAsync(kind, fn)
}

// FlushPending forces the write-behind queue to drain now
func (o *Orchestrator) FlushPending(ctx context.Context) error {
	return o.wb.FlushPending(ctx)
}

// CheckHealth returns the last probe results without touching any backend
func (o *Orchestrator) CheckHealth() model.HealthReport {
	if o.prober == nil {
		return model.HealthReport{Status: model.BackendStatusUnknown}
	}
	report := o.prober.Report()
	if o.metrics != nil {
		healthy, degraded := o.prober.Counts()
		o.metrics.UpdateBackendHealth(healthy, degraded)
	}
	return report
}

// Prober exposes the backend prober for the health HTTP server
func (o *Orchestrator) Prober() *health.Prober {
	return o.prober
}

// GetStatistics returns an observability snapshot. It never fails and never
// touches a backend.
func (o *Orchestrator) GetStatistics() model.Statistics {
	cacheStats := o.cache.Stats()
	ops := atomic.LoadUint64(&o.opsTotal)
	errs := atomic.LoadUint64(&o.errsTotal)

	elapsed := time.Since(o.startTime).Seconds()
	var opsPerSec float64
	if elapsed > 0 {
		opsPerSec = float64(ops) / elapsed
	}
	var errRate float64
	if ops > 0 {
		errRate = float64(errs) / float64(ops)
	}

	chain := o.sortedChain()
	o.countsMu.Lock()
	backends := make([]model.BackendCounts, 0, len(o.counts))
	for _, d := range chain {
		if c, ok := o.counts[d.Name]; ok {
			backends = append(backends, *c)
		}
	}
	o.countsMu.Unlock()

	return model.Statistics{
		CacheHits:     cacheStats.Hits,
		CacheMisses:   cacheStats.Misses,
		CacheHitRatio: cacheStats.HitRatio(),
		CacheEntries:  cacheStats.Entries,
		OpsTotal:      ops,
		OpsPerSecond:  opsPerSec,
		ErrorsTotal:   errs,
		ErrorRate:     errRate,
		PendingWrites: o.wb.Pending(),
		Backends:      backends,
	}
}
