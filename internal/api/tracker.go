package api

import (
	"sync"
	"time"

	"github.com/JakeFAU/technews-ingest/internal/crawler"
)

// Run states reported by the tracker.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// RunStatus is the JSON view of a crawl run.
type RunStatus struct {
	State      string           `json:"state"`
	Policy     string           `json:"policy,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Summary    *crawler.Summary `json:"summary,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// RunTracker remembers the current or last crawl run of this process.
type RunTracker struct {
	clock crawler.Clock

	mu     sync.RWMutex
	status RunStatus
}

// NewRunTracker returns an idle tracker.
func NewRunTracker(clock crawler.Clock) *RunTracker {
	return &RunTracker{clock: clock, status: RunStatus{State: StateIdle}}
}

// Start marks a run of policy as in progress.
func (t *RunTracker) Start(policy string) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = RunStatus{State: StateRunning, Policy: policy, StartedAt: &now}
}

// Finish records the outcome of the run.
func (t *RunTracker) Finish(summary crawler.Summary, err error) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.FinishedAt = &now
	t.status.Summary = &summary
	if summary.Policy != "" {
		t.status.Policy = summary.Policy
	}
	if err != nil {
		t.status.State = StateFailed
		t.status.Error = err.Error()
		return
	}
	t.status.State = StateSucceeded
}

// Status returns a snapshot of the tracked run.
func (t *RunTracker) Status() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}
