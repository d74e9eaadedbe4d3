package ingestion

import (
	"sync"
	"time"
)

// RunStatusValue is the lifecycle state of a run.
type RunStatusValue string

const (
	RunStatusPending   RunStatusValue = "pending"
	RunStatusRunning   RunStatusValue = "running"
	RunStatusCompleted RunStatusValue = "completed"
	RunStatusFailed    RunStatusValue = "failed"
	RunStatusCancelled RunStatusValue = "cancelled"
)

// RunSnapshot is a point-in-time copy of the run state.
type RunSnapshot struct {
	TraceID     string         `json:"trace_id,omitempty"`
	Status      RunStatusValue `json:"status"`
	Category    string         `json:"category,omitempty"`
	DataType    string         `json:"data_type,omitempty"`
	CurrentFile string         `json:"current_file,omitempty"`
	StartTime   *time.Time     `json:"start_time,omitempty"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
	Summary     RunSummary     `json:"summary"`
	Error       string         `json:"error,omitempty"`
}

// RunState tracks the current run for concurrent readers.
type RunState struct {
	mu   sync.RWMutex
	snap RunSnapshot
}

// NewRunState creates a pending run state
func NewRunState() *RunState {
	return &RunState{snap: RunSnapshot{Status: RunStatusPending}}
}

// Start marks the run as running
func (s *RunState) Start(traceID, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.snap = RunSnapshot{
		TraceID:   traceID,
		Status:    RunStatusRunning,
		Category:  category,
		StartTime: &now,
	}
}

// SetCurrent records what the run is working on.
func (s *RunState) SetCurrent(dataType, file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.DataType = dataType
	s.snap.CurrentFile = file
}

// SetSummary replaces the running counters.
func (s *RunState) SetSummary(summary RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Summary = summary
}

// Finish marks the run as completed, failed or cancelled depending on err.
func (s *RunState) Finish(summary RunSummary, err error, cancelled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.snap.EndTime = &now
	s.snap.Summary = summary
	s.snap.CurrentFile = ""
	switch {
	case cancelled:
		s.snap.Status = RunStatusCancelled
	case err != nil:
		s.snap.Status = RunStatusFailed
	default:
		s.snap.Status = RunStatusCompleted
	}
	if err != nil {
		s.snap.Error = err.Error()
	}
}

// Snapshot returns a copy of the current state
func (s *RunState) Snapshot() RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
