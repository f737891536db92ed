package pipeline

import (
	"strings"
	"sync"
	"time"
)

const completedRunRetention = 30 * time.Second

type State string

const (
	StateIngesting            State = "INGESTING"
	StateEnrichingTokens      State = "ENRICHING_TOKENS"
	StateDescribingClusters   State = "DESCRIBING_CLUSTERS"
	StateRoutingClusters      State = "ROUTING_CLUSTERS"
	StateRoutingTokens        State = "ROUTING_TOKENS"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateSynthesizing         State = "SYNTHESIZING"
	StateComplete             State = "COMPLETE"
	StateCancelled            State = "CANCELLED"
	StateError                State = "ERROR"
)

// Done reports whether s is terminal.
func (s State) Done() bool {
	return s == StateComplete || s == StateCancelled || s == StateError
}

// RunStatus is the externally visible state of a run.
type RunStatus struct {
	RunID         string     `json:"run_id"`
	Timestamp     string     `json:"timestamp,omitempty"`
	State         State      `json:"state"`
	Current       int        `json:"current"`
	Total         int        `json:"total"`
	SessionID     string     `json:"session_id,omitempty"`
	AwaitingSince *time.Time `json:"awaiting_since,omitempty"`
	Error         string     `json:"error,omitempty"`
	File          string     `json:"file,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Registry tracks live runs and keeps finished ones for a retention period.
type Registry struct {
	mu        sync.RWMutex
	runs      map[string]*RunStatus
	retention time.Duration
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*RunStatus), retention: completedRunRetention}
}

func (r *Registry) add(st RunStatus) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.runs[st.RunID] = &st
	r.mu.Unlock()
}

func (r *Registry) update(runID string, fn func(*RunStatus)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if st, ok := r.runs[runID]; ok {
		fn(st)
	}
	r.mu.Unlock()
}

// Get returns a copy of the status of runID.
func (r *Registry) Get(runID string) (RunStatus, bool) {
	if r == nil {
		return RunStatus{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.runs[strings.TrimSpace(runID)]
	if !ok {
		return RunStatus{}, false
	}
	return *st, true
}

// Active counts runs that have not reached a terminal state.
func (r *Registry) Active() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, st := range r.runs {
		if !st.State.Done() {
			n++
		}
	}
	return n
}

// scheduleCleanup removes a run's status after the retention period.
func (r *Registry) scheduleCleanup(runID string) {
	if r == nil {
		return
	}
	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		delete(r.runs, runID)
		r.mu.Unlock()
	})
}
