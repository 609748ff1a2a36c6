package service

import (
	"errors"
	"sync"
	"time"
)

// ErrWorkerStale is returned when no cycle has succeeded recently
var ErrWorkerStale = errors.New("no successful aggregation cycle recently")

// HealthChecker tracks the outcome of worker cycles
type HealthChecker struct {
	mu          sync.RWMutex
	started     time.Time
	lastSuccess time.Time
	lastError   error
	failures    int
	staleAfter  time.Duration
	now         func() time.Time
}

// WorkerHealth is a snapshot of the worker state
type WorkerHealth struct {
	Status              string     `json:"status"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// NewHealthChecker creates a health checker. A zero staleAfter disables
// the staleness check.
func NewHealthChecker(staleAfter time.Duration, now func() time.Time) *HealthChecker {
	if now == nil {
		now = time.Now
	}
	return &HealthChecker{staleAfter: staleAfter, now: now, started: now()}
}

// RecordSuccess marks a completed cycle
func (h *HealthChecker) RecordSuccess(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSuccess = at
	h.lastError = nil
	h.failures = 0
}

// RecordFailure marks a failed cycle
func (h *HealthChecker) RecordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = err
	h.failures++
}

// CheckHealth returns ErrWorkerStale if the last success, or process start
// when there was none, is older than the stale threshold.
func (h *HealthChecker) CheckHealth() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.staleAfter <= 0 {
		return nil
	}
	ref := h.lastSuccess
	if ref.IsZero() {
		ref = h.started
	}
	if h.now().Sub(ref) > h.staleAfter {
		return ErrWorkerStale
	}
	return nil
}

// Snapshot returns the current worker health
func (h *HealthChecker) Snapshot() WorkerHealth {
	status := "healthy"
	if h.CheckHealth() != nil {
		status = "degraded"
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := WorkerHealth{Status: status, ConsecutiveFailures: h.failures}
	if !h.lastSuccess.IsZero() {
		ts := h.lastSuccess
		out.LastSuccess = &ts
	}
	if h.lastError != nil {
		out.LastError = h.lastError.Error()
	}
	return out
}
