package policy_test

import (
	"testing"
	"time"

	"github.com/devrev/omnistore/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCache() *policy.Cache {
	return policy.NewCache(&policy.Config{DefaultTTL: time.Minute}, zap.NewNop())
}

func TestPutAndLookup(t *testing.T) {
	c := newCache()

	c.Put("alice", "read", "doc:1", true, "role grants read", 0)

	decision, ok := c.Lookup("alice", "read", "doc:1")
	require.True(t, ok)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "role grants read", decision.Reason)
	assert.Equal(t, "alice", decision.Identity)

	_, ok = c.Lookup("alice", "write", "doc:1")
	assert.False(t, ok)
}

func TestDenialsAreCachedToo(t *testing.T) {
	c := newCache()

	c.Put("bob", "delete", "doc:1", false, "not an owner", 0)

	decision, ok := c.Lookup("bob", "delete", "doc:1")
	require.True(t, ok)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "not an owner", decision.Reason)
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	c := newCache()

	c.Put("alice", "read", "doc:1", true, "", time.Nanosecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Lookup("alice", "read", "doc:1")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Expired)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0, stats.Entries, "expired entry evicted lazily")
}

func TestTripleIsTheCacheKey(t *testing.T) {
	c := newCache()

	c.Put("alice", "read", "doc:1", true, "", 0)
	c.Put("alice", "read", "doc:2", false, "", 0)

	d1, ok := c.Lookup("alice", "read", "doc:1")
	require.True(t, ok)
	assert.True(t, d1.Allowed)

	d2, ok := c.Lookup("alice", "read", "doc:2")
	require.True(t, ok)
	assert.False(t, d2.Allowed)
}

func TestInvalidateIdentity(t *testing.T) {
	c := newCache()

	c.Put("alice", "read", "doc:1", true, "", 0)
	c.Put("alice", "write", "doc:2", true, "", 0)
	c.Put("bob", "read", "doc:1", true, "", 0)

	assert.Equal(t, 2, c.InvalidateIdentity("alice"))

	_, ok := c.Lookup("alice", "read", "doc:1")
	assert.False(t, ok)
	_, ok = c.Lookup("bob", "read", "doc:1")
	assert.True(t, ok)
}

func TestInvalidateResource(t *testing.T) {
	c := newCache()

	c.Put("alice", "read", "doc:1", true, "", 0)
	c.Put("bob", "write", "doc:1", false, "", 0)
	c.Put("alice", "read", "doc:2", true, "", 0)

	assert.Equal(t, 2, c.InvalidateResource("doc:1"))

	_, ok := c.Lookup("alice", "read", "doc:1")
	assert.False(t, ok)
	_, ok = c.Lookup("alice", "read", "doc:2")
	assert.True(t, ok)
}

func TestStats(t *testing.T) {
	c := newCache()

	c.Put("alice", "read", "doc:1", true, "", 0)
	c.Put("bob", "read", "doc:1", false, "", 0)
	c.Lookup("alice", "read", "doc:1")
	c.Lookup("nobody", "read", "doc:1")

	stats := c.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 1, stats.Allows)
	assert.Equal(t, 1, stats.Denies)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}
