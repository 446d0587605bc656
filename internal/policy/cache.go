package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/omnistore/internal/model"
	"go.uber.org/zap"
)

// Cache memoizes externally-computed authorization verdicts for a bounded
// TTL. It never computes verdicts itself and is never a source of truth: an
// expired or missing entry is a miss, never a denial, and a stale allow is
// never served.
type Cache struct {
	config *Config
	logger *zap.Logger

	mu        sync.Mutex
	decisions map[string]model.PolicyDecision
	hits      uint64
	misses    uint64
	expired   uint64
}

// Config holds policy cache configuration
type Config struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

// NewCache creates a new policy decision cache
func NewCache(cfg *Config, logger *zap.Logger) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		config:    cfg,
		logger:    logger,
		decisions: make(map[string]model.PolicyDecision),
	}
}

func cacheKey(identity, action, resource string) string {
	return fmt.Sprintf("%s:%s:%s", identity, action, resource)
}

// Put caches a verdict. A non-positive ttl falls back to the default.
func (c *Cache) Put(identity, action, resource string, allowed bool, reason string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	now := time.Now()
	decision := model.PolicyDecision{
		Identity:  identity,
		Action:    action,
		Resource:  resource,
		Allowed:   allowed,
		Reason:    reason,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions[cacheKey(identity, action, resource)] = decision
}

// Lookup returns the cached decision if present and unexpired. Expired
// entries are evicted lazily and reported as misses.
func (c *Cache) Lookup(identity, action, resource string) (model.PolicyDecision, bool) {
	key := cacheKey(identity, action, resource)

	c.mu.Lock()
	defer c.mu.Unlock()

	decision, found := c.decisions[key]
	if !found {
		c.misses++
		return model.PolicyDecision{}, false
	}
	if decision.Expired(time.Now()) {
		delete(c.decisions, key)
		c.expired++
		c.misses++
		return model.PolicyDecision{}, false
	}
	c.hits++
	return decision, true
}

// InvalidateIdentity drops every cached decision for an identity
func (c *Cache) InvalidateIdentity(identity string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for key, decision := range c.decisions {
		if decision.Identity == identity {
			delete(c.decisions, key)
			removed++
		}
	}
	return removed
}

// InvalidateResource drops every cached decision for a resource
func (c *Cache) InvalidateResource(resource string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for key, decision := range c.decisions {
		if decision.Resource == resource {
			delete(c.decisions, key)
			removed++
		}
	}
	return removed
}

// Clear drops all cached decisions
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions = make(map[string]model.PolicyDecision)
}

// Start runs the periodic expiry sweep until the context is canceled
func (c *Cache) Start(ctx context.Context) {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep(time.Now())
		case <-ctx.Done():
			c.logger.Debug("Policy cache sweep stopped")
			return
		}
	}
}

func (c *Cache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for key, decision := range c.decisions {
		if decision.Expired(now) {
			delete(c.decisions, key)
			removed++
		}
	}
	if removed > 0 {
		c.expired += uint64(removed)
		c.logger.Debug("Policy cache sweep completed", zap.Int("expired", removed))
	}
}

// Stats returns policy cache statistics
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var allows, denies int
	for _, decision := range c.decisions {
		if decision.Allowed {
			allows++
		} else {
			denies++
		}
	}
	return Stats{
		Entries: len(c.decisions),
		Allows:  allows,
		Denies:  denies,
		Hits:    c.hits,
		Misses:  c.misses,
		Expired: c.expired,
	}
}

// Stats holds policy cache statistics
type Stats struct {
	Entries int
	Allows  int
	Denies  int
	Hits    uint64
	Misses  uint64
	Expired uint64
}
