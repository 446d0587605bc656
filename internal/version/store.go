package version

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/omnistore/internal/model"
	"go.uber.org/zap"
)

// Store keeps a bounded per-key history of record snapshots. Insertions past
// the per-key bound prune the oldest version; a periodic background sweep
// additionally prunes by age.
type Store struct {
	config *Config
	logger *zap.Logger

	mu       sync.RWMutex
	versions map[string][]entry // chronological, oldest first
	puts     uint64
	pruned   uint64
}

type entry struct {
	label     string
	timestamp time.Time
	record    model.Record
}

// Config holds version store configuration
type Config struct {
	MaxVersionsPerKey int
	MaxVersionAge     time.Duration // zero disables age-based pruning
	SweepInterval     time.Duration
}

// NewStore creates a new version store
func NewStore(cfg *Config, logger *zap.Logger) *Store {
	if cfg.MaxVersionsPerKey <= 0 {
		cfg.MaxVersionsPerKey = 10
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		config:   cfg,
		logger:   logger,
		versions: make(map[string][]entry),
	}
}

// GenerateLabel produces a version label that sorts chronologically
func GenerateLabel(t time.Time) string {
	return fmt.Sprintf("v%020d", t.UnixNano())
}

// Put stores a snapshot under label, generating a chronological label when
// the caller supplies none. Returns the label used.
func (s *Store) Put(key, label string, rec model.Record) string {
	now := time.Now()
	if label == "" {
		label = GenerateLabel(now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.versions[key]

	// Re-putting an existing label replaces the snapshot in place
	for i := range versions {
		if versions[i].label == label {
			versions[i].record = rec.Clone()
			versions[i].timestamp = now
			s.puts++
			return label
		}
	}

	versions = append(versions, entry{label: label, timestamp: now, record: rec.Clone()})
	if len(versions) > s.config.MaxVersionsPerKey {
		dropped := len(versions) - s.config.MaxVersionsPerKey
		versions = append([]entry(nil), versions[dropped:]...)
		s.pruned += uint64(dropped)
	}

	s.versions[key] = versions
	s.puts++
	return label
}

// Get returns the snapshot stored under label, or the most recent snapshot
// when label is empty
func (s *Store) Get(key, label string) (model.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[key]
	if len(versions) == 0 {
		return nil, false
	}
	if label == "" {
		return versions[len(versions)-1].record.Clone(), true
	}
	for _, v := range versions {
		if v.label == label {
			return v.record.Clone(), true
		}
	}
	return nil, false
}

// List returns the version metadata for a key, oldest first
func (s *Store) List(key string) []model.VersionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[key]
	out := make([]model.VersionInfo, len(versions))
	for i, v := range versions {
		out[i] = model.VersionInfo{Label: v.label, Timestamp: v.timestamp}
	}
	return out
}

// Delete removes one labeled version. Returns false if absent.
func (s *Store) Delete(key, label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.versions[key]
	for i, v := range versions {
		if v.label == label {
			s.versions[key] = append(versions[:i:i], versions[i+1:]...)
			if len(s.versions[key]) == 0 {
				delete(s.versions, key)
			}
			return true
		}
	}
	return false
}

// DeleteAll removes every version for a key
func (s *Store) DeleteAll(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.versions, key)
}

// Start runs the periodic age-based sweep until the context is canceled
func (s *Store) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-ctx.Done():
			s.logger.Debug("Version sweep stopped")
			return
		}
	}
}

func (s *Store) sweep(now time.Time) {
	if s.config.MaxVersionAge <= 0 {
		return
	}
	cutoff := now.Add(-s.config.MaxVersionAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int
	for key, versions := range s.versions {
		idx := 0
		for idx < len(versions) && versions[idx].timestamp.Before(cutoff) {
			idx++
		}
		if idx == 0 {
			continue
		}
		pruned += idx
		if idx == len(versions) {
			delete(s.versions, key)
		} else {
			s.versions[key] = append([]entry(nil), versions[idx:]...)
		}
	}

	if pruned > 0 {
		s.pruned += uint64(pruned)
		s.logger.Debug("Version age sweep completed", zap.Int("pruned", pruned))
	}
}

// Stats returns version store statistics
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	for _, versions := range s.versions {
		total += len(versions)
	}
	return Stats{
		KeysTracked:   len(s.versions),
		TotalVersions: total,
		Puts:          s.puts,
		Pruned:        s.pruned,
	}
}

// Stats holds version store statistics
type Stats struct {
	KeysTracked   int
	TotalVersions int
	Puts          uint64
	Pruned        uint64
}
