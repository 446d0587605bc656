package model

import "time"

// BackendStatus defines the operational status of a backend
type BackendStatus string

const (
	BackendStatusHealthy  BackendStatus = "healthy"
	BackendStatusDegraded BackendStatus = "degraded"
	BackendStatusUnknown  BackendStatus = "unknown"
)

// BackendHealth is the most recent probe result for one backend
type BackendHealth struct {
	Name                string
	Priority            int
	Status              BackendStatus
	Healthy             bool
	LastProbe           time.Time
	LastSuccess         time.Time
	ConsecutiveFailures int
	LastError           string
}

// HealthReport aggregates per-backend health. It always reflects the most
// recent probes and is served without touching any backend.
type HealthReport struct {
	Status   BackendStatus
	Backends []BackendHealth
}

// BackendCounts tracks per-backend operation outcomes
type BackendCounts struct {
	Name     string
	Stores   uint64
	Loads    uint64
	Deletes  uint64
	Failures uint64
}

// Statistics is the never-failing observability snapshot of the orchestrator
type Statistics struct {
	CacheHits     uint64
	CacheMisses   uint64
	CacheHitRatio float64
	CacheEntries  int
	OpsTotal      uint64
	OpsPerSecond  float64
	ErrorsTotal   uint64
	ErrorRate     float64
	PendingWrites int
	Backends      []BackendCounts
}
