package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/devrev/omnistore/internal/metrics"
	"github.com/devrev/omnistore/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer serves Prometheus metrics and the orchestrator's health and
// statistics snapshots via HTTP
type MetricsServer struct {
	httpServer   *http.Server
	metrics      *metrics.Metrics
	orchestrator *service.Orchestrator
	logger       *zap.Logger
	path         string
	stopChan     chan struct{}
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port int
	Path string
}

// NewMetricsServer creates a new metrics server
func NewMetricsServer(cfg *MetricsServerConfig, m *metrics.Metrics, orch *service.Orchestrator, logger *zap.Logger) *MetricsServer {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	mux := http.NewServeMux()

	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		metrics:      m,
		orchestrator: orch,
		logger:       logger,
		path:         cfg.Path,
		stopChan:     make(chan struct{}),
	}

	// Register Prometheus metrics handler
	mux.Handle(cfg.Path, promhttp.Handler())

	// Register health and readiness endpoints
	mux.HandleFunc("/health", ms.healthHandler)
	mux.HandleFunc("/ready", ms.readyHandler)

	return ms
}

// Start starts the metrics server
func (s *MetricsServer) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))

	// Start the gauge refresher
	go s.collectGauges()

	// Start HTTP server
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop() error {
	s.logger.Info("Stopping metrics server")

	close(s.stopChan)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	return nil
}

// healthHandler reports the aggregate backend health from the last probes
func (s *MetricsServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	report := s.orchestrator.CheckHealth()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":%q,"backends":%d,"timestamp":%q}`,
		report.Status, len(report.Backends), time.Now().Format(time.RFC3339))
}

// readyHandler reports readiness: at least one backend must not be degraded
func (s *MetricsServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	report := s.orchestrator.CheckHealth()

	available := 0
	for _, b := range report.Backends {
		if !b.Healthy && b.ConsecutiveFailures > 0 {
			continue
		}
		available++
	}

	w.Header().Set("Content-Type", "application/json")
	if available == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"not_ready","reason":"no_backend_available"}`)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready","available_backends":%d,"timestamp":%q}`,
		available, time.Now().Format(time.RFC3339))
}

// collectGauges periodically refreshes the gauges derived from component
// statistics
func (s *MetricsServer) collectGauges() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := s.orchestrator.GetStatistics()
			s.metrics.UpdateCacheEntries(stats.CacheEntries)
			s.metrics.WriteBehindQueueDepth.Set(float64(stats.PendingWrites))
			s.orchestrator.CheckHealth()
		case <-s.stopChan:
			return
		}
	}
}
