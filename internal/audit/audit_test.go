package audit_test

import (
	"fmt"
	"testing"

	"github.com/devrev/omnistore/internal/audit"
	"github.com/devrev/omnistore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLog(cfg *audit.Config) *audit.Log {
	return audit.NewLog(cfg, zap.NewNop())
}

func TestRecordAndTrail(t *testing.T) {
	l := newLog(&audit.Config{Enabled: true, StoreSnapshots: true})

	id1 := l.Record("user:1", model.OperationCreate, "alice", model.Record{"v": 1.0})
	id2 := l.Record("user:1", model.OperationUpdate, "bob", model.Record{"v": 2.0})
	require.NotEmpty(t, id1)
	require.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2)

	trail := l.Trail("user:1")
	require.Len(t, trail, 2)

	// Most recent first
	assert.Equal(t, id2, trail[0].ID)
	assert.Equal(t, model.OperationUpdate, trail[0].Operation)
	assert.Equal(t, "bob", trail[0].Identity)
	assert.Equal(t, model.Record{"v": 2.0}, trail[0].Snapshot)
	assert.Equal(t, id1, trail[1].ID)
	assert.Equal(t, model.OperationCreate, trail[1].Operation)
}

func TestDisabledLogRecordsNothing(t *testing.T) {
	l := newLog(&audit.Config{Enabled: false})

	id := l.Record("user:1", model.OperationCreate, "alice", nil)
	assert.Empty(t, id)
	assert.Empty(t, l.Trail("user:1"))
}

func TestSnapshotsOptional(t *testing.T) {
	l := newLog(&audit.Config{Enabled: true, StoreSnapshots: false})

	l.Record("user:1", model.OperationCreate, "alice", model.Record{"secret": "x"})

	trail := l.Trail("user:1")
	require.Len(t, trail, 1)
	assert.Nil(t, trail[0].Snapshot)
}

func TestSnapshotIsCopied(t *testing.T) {
	l := newLog(&audit.Config{Enabled: true, StoreSnapshots: true})

	rec := model.Record{"v": 1.0}
	l.Record("user:1", model.OperationCreate, "alice", rec)
	rec["v"] = 99.0

	trail := l.Trail("user:1")
	require.Len(t, trail, 1)
	assert.Equal(t, model.Record{"v": 1.0}, trail[0].Snapshot)
}

func TestTrailIsACopy(t *testing.T) {
	l := newLog(&audit.Config{Enabled: true})

	l.Record("user:1", model.OperationCreate, "alice", nil)

	trail := l.Trail("user:1")
	trail[0].Identity = "mallory"

	assert.Equal(t, "alice", l.Trail("user:1")[0].Identity)
}

func TestAppendPrunesRunawayTrail(t *testing.T) {
	l := newLog(&audit.Config{Enabled: true, MaxEntriesPerKey: 5})

	// Appends keep memory bounded without waiting for the sweep
	for i := 0; i < 20; i++ {
		l.Record("hot", model.OperationUpdate, fmt.Sprintf("writer-%d", i), nil)
	}

	trail := l.Trail("hot")
	assert.LessOrEqual(t, len(trail), 10)

	// Most recent entry always survives
	assert.Equal(t, "writer-19", trail[0].Identity)
}

func TestStats(t *testing.T) {
	l := newLog(&audit.Config{Enabled: true})

	l.Record("a", model.OperationCreate, "alice", nil)
	l.Record("a", model.OperationUpdate, "alice", nil)
	l.Record("b", model.OperationCreate, "bob", nil)

	stats := l.Stats()
	assert.True(t, stats.Enabled)
	assert.Equal(t, 2, stats.KeysTracked)
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, uint64(3), stats.Appends)
}
