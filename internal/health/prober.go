// Package health tracks per-backend liveness. A periodic prober runs each
// backend's HealthCheck; backends that fail, or that the orchestrator reports
// as failed mid-operation, are flagged degraded and skipped by the failover
// chain until a probe succeeds again. Degraded backends are re-probed with
// exponential backoff so a flapping store is not hammered.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/devrev/omnistore/internal/backend"
	"github.com/devrev/omnistore/internal/model"
	"go.uber.org/zap"
)

// backoffBase is the first re-probe delay for a degraded backend; it doubles
// per consecutive failure, capped at the configured probe interval
const backoffBase = time.Second

// Prober probes registered backends and serves their health state
type Prober struct {
	config *Config
	logger *zap.Logger

	mu     sync.RWMutex
	states map[string]*backendState
	order  []string // registration order for stable reports
	ready  bool
}

type backendState struct {
	descriptor          backend.Descriptor
	status              model.BackendStatus
	lastProbe           time.Time
	lastSuccess         time.Time
	nextProbe           time.Time
	consecutiveFailures int
	lastError           string
}

// Config holds prober configuration
type Config struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// NewProber creates a prober for the given backends. Backends start in
// unknown state until the first probe.
func NewProber(cfg *Config, descriptors []backend.Descriptor, logger *zap.Logger) *Prober {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Prober{
		config: cfg,
		logger: logger,
		states: make(map[string]*backendState, len(descriptors)),
		ready:  true,
	}
	for _, d := range descriptors {
		p.states[d.Name] = &backendState{
			descriptor: d,
			status:     model.BackendStatusUnknown,
		}
		p.order = append(p.order, d.Name)
	}
	return p
}

// Start probes all backends once immediately, then on a fixed tick until the
// context is canceled. Degraded backends within their backoff window are
// skipped on a tick.
func (p *Prober) Start(ctx context.Context) {
	p.probeAll(ctx)

	ticker := time.NewTicker(p.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.probeAll(ctx)
		case <-ctx.Done():
			p.logger.Info("Backend prober stopped")
			return
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	now := time.Now()

	p.mu.RLock()
	var due []backend.Descriptor
	for _, name := range p.order {
		state := p.states[name]
		if state.status == model.BackendStatusDegraded && now.Before(state.nextProbe) {
			continue
		}
		due = append(due, state.descriptor)
	}
	p.mu.RUnlock()

	for _, d := range due {
		p.probe(ctx, d)
	}
}

func (p *Prober) probe(ctx context.Context, d backend.Descriptor) {
	probeCtx, cancel := context.WithTimeout(ctx, p.config.ProbeTimeout)
	err := d.Backend.HealthCheck(probeCtx)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.states[d.Name]
	if !ok {
		return
	}
	now := time.Now()
	state.lastProbe = now

	if err == nil {
		if state.status == model.BackendStatusDegraded {
			p.logger.Info("Backend recovered",
				zap.String("backend", d.Name),
				zap.Int("failed_probes", state.consecutiveFailures))
		}
		state.status = model.BackendStatusHealthy
		state.lastSuccess = now
		state.consecutiveFailures = 0
		state.lastError = ""
		state.nextProbe = time.Time{}
		return
	}

	state.consecutiveFailures++
	state.lastError = err.Error()
	p.degradeLocked(state, now)
	p.logger.Warn("Backend probe failed",
		zap.String("backend", d.Name),
		zap.Int("consecutive_failures", state.consecutiveFailures),
		zap.Error(err))
}

// degradeLocked marks a backend degraded and schedules its next probe with
// exponential backoff. Caller holds p.mu.
func (p *Prober) degradeLocked(state *backendState, now time.Time) {
	state.status = model.BackendStatusDegraded

	backoff := backoffBase
	for i := 1; i < state.consecutiveFailures && backoff < p.config.ProbeInterval; i++ {
		backoff *= 2
	}
	if backoff > p.config.ProbeInterval {
		backoff = p.config.ProbeInterval
	}
	state.nextProbe = now.Add(backoff)
}

// ReportFailure is called by the orchestrator when a backend call fails with
// a connection-class error mid-operation. The backend is degraded without
// waiting for the next scheduled probe.
func (p *Prober) ReportFailure(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.states[name]
	if !ok {
		return
	}
	state.consecutiveFailures++
	if err != nil {
		state.lastError = err.Error()
	}
	p.degradeLocked(state, time.Now())
}

// Available reports whether the failover chain should consult a backend.
// Unknown backends are available: the first probe has simply not run yet.
func (p *Prober) Available(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state, ok := p.states[name]
	if !ok {
		return false
	}
	return state.status != model.BackendStatusDegraded
}

// Report returns the last probe results without touching any backend
func (p *Prober) Report() model.HealthReport {
	p.mu.RLock()
	defer p.mu.RUnlock()

	report := model.HealthReport{Status: model.BackendStatusHealthy}
	anyHealthy := false
	anyDegraded := false

	for _, name := range p.order {
		state := p.states[name]
		report.Backends = append(report.Backends, model.BackendHealth{
			Name:                name,
			Priority:            state.descriptor.Priority,
			Status:              state.status,
			Healthy:             state.status == model.BackendStatusHealthy,
			LastProbe:           state.lastProbe,
			LastSuccess:         state.lastSuccess,
			ConsecutiveFailures: state.consecutiveFailures,
			LastError:           state.lastError,
		})
		switch state.status {
		case model.BackendStatusHealthy:
			anyHealthy = true
		case model.BackendStatusDegraded:
			anyDegraded = true
		}
	}

	switch {
	case anyDegraded:
		report.Status = model.BackendStatusDegraded
	case !anyHealthy && len(report.Backends) > 0:
		report.Status = model.BackendStatusUnknown
	}
	return report
}

// Counts returns the current number of healthy and degraded backends
func (p *Prober) Counts() (healthy, degraded int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, state := range p.states {
		switch state.status {
		case model.BackendStatusHealthy:
			healthy++
		case model.BackendStatusDegraded:
			degraded++
		}
	}
	return healthy, degraded
}

// SetReadiness manually sets readiness (used during graceful shutdown)
func (p *Prober) SetReadiness(ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = ready
}

// LivenessHandler handles HTTP liveness probe requests
func (p *Prober) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"live": true})
}

// ReadinessHandler handles HTTP readiness probe requests. Ready means the
// process accepts traffic and at least one backend is not degraded.
func (p *Prober) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	ready := p.ready
	p.mu.RUnlock()

	if ready {
		report := p.Report()
		available := false
		for _, b := range report.Backends {
			if b.Status != model.BackendStatusDegraded {
				available = true
				break
			}
		}
		ready = available
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]any{"ready": ready})
}

// Handler returns the probe mux for the health HTTP server
func (p *Prober) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", p.LivenessHandler)
	mux.HandleFunc("/health/ready", p.ReadinessHandler)
	return mux
}
