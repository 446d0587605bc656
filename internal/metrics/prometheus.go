package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the storage layer
type Metrics struct {
	// Operation metrics
	OperationsTotal    prometheus.CounterVec
	OperationDuration  prometheus.HistogramVec
	OperationErrors    prometheus.CounterVec
	RecordSizeBytes    prometheus.Histogram
	FailoverTotal      prometheus.Counter
	CascadeDeleteEdges prometheus.Histogram

	// Cache metrics
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CacheEntriesTotal   prometheus.Gauge

	// Backend metrics
	BackendRequestsTotal   prometheus.CounterVec
	BackendRequestDuration prometheus.HistogramVec
	BackendErrorsTotal     prometheus.CounterVec
	BackendsHealthy        prometheus.Gauge
	BackendsDegraded       prometheus.Gauge

	// Write-behind metrics
	WriteBehindQueueDepth prometheus.Gauge
	WriteBehindFlushes    prometheus.Counter
	WriteBehindFailures   prometheus.Counter
	WriteBehindRetries    prometheus.Counter

	// Policy cache metrics
	PolicyHitsTotal    prometheus.Counter
	PolicyMissesTotal  prometheus.Counter
	PolicyExpiredTotal prometheus.Counter
	PolicyEntriesTotal prometheus.Gauge

	// Notification metrics
	NotificationsTotal    prometheus.CounterVec
	NotificationQueueFull prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(instanceID string) *Metrics {
	labels := prometheus.Labels{"instance_id": instanceID}

	return &Metrics{
		// Operation metrics
		OperationsTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "storage",
			Name:        "operations_total",
			Help:        "Total number of storage operations by type",
			ConstLabels: labels,
		}, []string{"operation"}),
		OperationDuration: *promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "omnistore",
			Subsystem:   "storage",
			Name:        "operation_duration_seconds",
			Help:        "Histogram of storage operation durations by type",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"operation"}),
		OperationErrors: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "storage",
			Name:        "operation_errors_total",
			Help:        "Total number of failed storage operations by type",
			ConstLabels: labels,
		}, []string{"operation"}),
		RecordSizeBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "omnistore",
			Subsystem:   "storage",
			Name:        "record_size_bytes",
			Help:        "Histogram of serialized record sizes in bytes",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(256, 2, 12), // 256B to 512KB
		}),
		FailoverTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "storage",
			Name:        "failover_total",
			Help:        "Total number of reads that fell through to a lower-priority backend",
			ConstLabels: labels,
		}),
		CascadeDeleteEdges: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "omnistore",
			Subsystem:   "storage",
			Name:        "cascade_delete_edges",
			Help:        "Histogram of relationship edges removed per cascading delete",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
		}),

		// Cache metrics
		CacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Total number of cache hits",
			ConstLabels: labels,
		}),
		CacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Total number of cache misses",
			ConstLabels: labels,
		}),
		CacheEvictionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "cache",
			Name:        "evictions_total",
			Help:        "Total number of cache evictions",
			ConstLabels: labels,
		}),
		CacheEntriesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "omnistore",
			Subsystem:   "cache",
			Name:        "entries_total",
			Help:        "Current number of entries in the cache",
			ConstLabels: labels,
		}),

		// Backend metrics
		BackendRequestsTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "backend",
			Name:        "requests_total",
			Help:        "Total number of backend requests by backend and operation",
			ConstLabels: labels,
		}, []string{"backend", "operation"}),
		BackendRequestDuration: *promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "omnistore",
			Subsystem:   "backend",
			Name:        "request_duration_seconds",
			Help:        "Histogram of backend request durations by backend",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"backend"}),
		BackendErrorsTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "backend",
			Name:        "errors_total",
			Help:        "Total number of backend errors by backend and class",
			ConstLabels: labels,
		}, []string{"backend", "class"}),
		BackendsHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "omnistore",
			Subsystem:   "backend",
			Name:        "healthy_total",
			Help:        "Current number of healthy backends",
			ConstLabels: labels,
		}),
		BackendsDegraded: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "omnistore",
			Subsystem:   "backend",
			Name:        "degraded_total",
			Help:        "Current number of degraded backends",
			ConstLabels: labels,
		}),

		// Write-behind metrics
		WriteBehindQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "omnistore",
			Subsystem:   "writebehind",
			Name:        "queue_depth",
			Help:        "Current number of pending write-behind entries",
			ConstLabels: labels,
		}),
		WriteBehindFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "writebehind",
			Name:        "flushes_total",
			Help:        "Total number of write-behind entries flushed to backends",
			ConstLabels: labels,
		}),
		WriteBehindFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "writebehind",
			Name:        "failures_total",
			Help:        "Total number of write-behind entries dropped after exhausting retries",
			ConstLabels: labels,
		}),
		WriteBehindRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "writebehind",
			Name:        "retries_total",
			Help:        "Total number of write-behind flush retries",
			ConstLabels: labels,
		}),

		// Policy cache metrics
		PolicyHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "policy",
			Name:        "hits_total",
			Help:        "Total number of policy cache hits",
			ConstLabels: labels,
		}),
		PolicyMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "policy",
			Name:        "misses_total",
			Help:        "Total number of policy cache misses",
			ConstLabels: labels,
		}),
		PolicyExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "policy",
			Name:        "expired_total",
			Help:        "Total number of policy cache entries that expired on lookup",
			ConstLabels: labels,
		}),
		PolicyEntriesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "omnistore",
			Subsystem:   "policy",
			Name:        "entries_total",
			Help:        "Current number of cached policy decisions",
			ConstLabels: labels,
		}),

		// Notification metrics
		NotificationsTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "notify",
			Name:        "events_total",
			Help:        "Total number of notification events published by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		NotificationQueueFull: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "omnistore",
			Subsystem:   "notify",
			Name:        "queue_full_total",
			Help:        "Total number of async notifications dispatched inline because the queue was full",
			ConstLabels: labels,
		}),
	}
}

// RecordOperation records a completed storage operation
func (m *Metrics) RecordOperation(op string, seconds float64, err error) {
	m.OperationsTotal.WithLabelValues(op).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(seconds)
	if err != nil {
		m.OperationErrors.WithLabelValues(op).Inc()
	}
}

// RecordBackendRequest records one backend call
func (m *Metrics) RecordBackendRequest(backend, op string, seconds float64) {
	m.BackendRequestsTotal.WithLabelValues(backend, op).Inc()
	m.BackendRequestDuration.WithLabelValues(backend).Observe(seconds)
}

// RecordBackendError records a backend error by class
func (m *Metrics) RecordBackendError(backend, class string) {
	m.BackendErrorsTotal.WithLabelValues(backend, class).Inc()
}

// UpdateBackendHealth updates the healthy/degraded gauges
func (m *Metrics) UpdateBackendHealth(healthy, degraded int) {
	m.BackendsHealthy.Set(float64(healthy))
	m.BackendsDegraded.Set(float64(degraded))
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() { m.CacheHitsTotal.Inc() }

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() { m.CacheMissesTotal.Inc() }

// RecordCacheEviction records a cache eviction
func (m *Metrics) RecordCacheEviction() { m.CacheEvictionsTotal.Inc() }

// UpdateCacheEntries updates the cache entry gauge
func (m *Metrics) UpdateCacheEntries(entries int) {
	m.CacheEntriesTotal.Set(float64(entries))
}
