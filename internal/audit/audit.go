package audit

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/omnistore/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Log is an append-only, retention-bounded history of mutating operations.
// Entries are immutable once written; they only ever leave the log through
// retention pruning, which runs as a periodic background sweep so appends
// stay off the write path's critical latency.
type Log struct {
	config *Config
	logger *zap.Logger

	mu      sync.RWMutex
	trails  map[string][]model.AuditEntry // append order, oldest first
	appends uint64
	pruned  uint64
}

// Config holds audit log configuration
type Config struct {
	Enabled          bool
	MaxEntriesPerKey int
	RetentionWindow  time.Duration // zero disables age-based pruning
	StoreSnapshots   bool
	SweepInterval    time.Duration
}

// NewLog creates a new audit log
func NewLog(cfg *Config, logger *zap.Logger) *Log {
	if cfg.MaxEntriesPerKey <= 0 {
		cfg.MaxEntriesPerKey = 1000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		config: cfg,
		logger: logger,
		trails: make(map[string][]model.AuditEntry),
	}
}

// Record appends an audit entry for a mutating operation. The snapshot is
// retained only when snapshot storage is enabled.
func (l *Log) Record(key string, op model.Operation, identity string, snapshot model.Record) string {
	if !l.config.Enabled {
		return ""
	}

	entry := model.AuditEntry{
		ID:        uuid.NewString(),
		Key:       key,
		Operation: op,
		Identity:  identity,
		Timestamp: time.Now(),
	}
	if l.config.StoreSnapshots && snapshot != nil {
		entry.Snapshot = snapshot.Clone()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	trail := append(l.trails[key], entry)

	// The sweep enforces the bound; appends only step in once a hot key
	// runs far enough ahead of the sweep to matter for memory.
	if len(trail) > 2*l.config.MaxEntriesPerKey {
		dropped := len(trail) - l.config.MaxEntriesPerKey
		trail = append([]model.AuditEntry(nil), trail[dropped:]...)
		l.pruned += uint64(dropped)
	}

	l.trails[key] = trail
	l.appends++
	return entry.ID
}

// Trail returns the audit entries for a key, most recent first. The returned
// slice is a copy; mutating it cannot alter history.
func (l *Log) Trail(key string) []model.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	trail := l.trails[key]
	out := make([]model.AuditEntry, len(trail))
	for i, entry := range trail {
		out[len(trail)-1-i] = entry
	}
	return out
}

// Start runs the periodic retention sweep until the context is canceled
func (l *Log) Start(ctx context.Context) {
	ticker := time.NewTicker(l.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep(time.Now())
		case <-ctx.Done():
			l.logger.Debug("Audit sweep stopped")
			return
		}
	}
}

// sweep prunes by count and by age, whichever triggers first per key
func (l *Log) sweep(now time.Time) {
	var cutoff time.Time
	if l.config.RetentionWindow > 0 {
		cutoff = now.Add(-l.config.RetentionWindow)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var pruned int
	for key, trail := range l.trails {
		keep := trail

		if !cutoff.IsZero() {
			idx := 0
			for idx < len(keep) && keep[idx].Timestamp.Before(cutoff) {
				idx++
			}
			keep = keep[idx:]
		}

		if len(keep) > l.config.MaxEntriesPerKey {
			keep = keep[len(keep)-l.config.MaxEntriesPerKey:]
		}

		if len(keep) != len(trail) {
			pruned += len(trail) - len(keep)
			if len(keep) == 0 {
				delete(l.trails, key)
			} else {
				l.trails[key] = append([]model.AuditEntry(nil), keep...)
			}
		}
	}

	if pruned > 0 {
		l.pruned += uint64(pruned)
		l.logger.Debug("Audit retention sweep completed", zap.Int("pruned", pruned))
	}
}

// Stats returns audit log statistics
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var entries int
	for _, trail := range l.trails {
		entries += len(trail)
	}
	return Stats{
		Enabled:      l.config.Enabled,
		KeysTracked:  len(l.trails),
		TotalEntries: entries,
		Appends:      l.appends,
		Pruned:       l.pruned,
	}
}

// Stats holds audit log statistics
type Stats struct {
	Enabled      bool
	KeysTracked  int
	TotalEntries int
	Appends      uint64
	Pruned       uint64
}
