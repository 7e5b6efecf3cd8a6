package model

import "time"

// RunStatus is the terminal state of a reconciliation run.
type RunStatus string

const (
	RunStatusRunning            RunStatus = "running"
	RunStatusCompleted          RunStatus = "completed"
	RunStatusPartiallyCompleted RunStatus = "partially_completed"
	RunStatusCancelled          RunStatus = "cancelled"
)

// SourceState is the per-source pipeline state within a run.
type SourceState string

const (
	SourceStateIdle      SourceState = "idle"
	SourceStateFetching  SourceState = "fetching"
	SourceStateMatching  SourceState = "matching"
	SourceStateScoring   SourceState = "scoring"
	SourceStateMerging   SourceState = "merging"
	SourceStateCompleted SourceState = "completed"
	SourceStateFailed    SourceState = "failed"
)

// SourceRunResult summarizes one source's portion of a run.
type SourceRunResult struct {
	SourceSystem SourceSystem `json:"source_system"`
	State        SourceState  `json:"state"`
	Fetched      int          `json:"fetched"`
	Matched      int          `json:"matched"`
	Created      int          `json:"created"`
	Updated      int          `json:"updated"`
	Skipped      int          `json:"skipped"`
	Ambiguous    int          `json:"ambiguous"`
	Error        string       `json:"error,omitempty"`
}

// IngestRun is one scheduled reconciliation cycle across all enabled sources.
type IngestRun struct {
	RunID        string                           `json:"run_id"`
	Status       RunStatus                        `json:"status"`
	SourceStates map[SourceSystem]SourceRunResult `json:"source_states"`
	StartedAt    time.Time                        `json:"started_at"`
	FinishedAt   *time.Time                       `json:"finished_at,omitempty"`
}

// FailedSources lists sources that exhausted retries during the run.
func (r *IngestRun) FailedSources() []SourceSystem {
	var failed []SourceSystem
	for sys, st := range r.SourceStates {
		if st.State == SourceStateFailed {
			failed = append(failed, sys)
		}
	}
	return failed
}

// SourceStatus is the operational per-source view exposed to admins: last
// successful ingestion time plus the current cursor.
type SourceStatus struct {
	SourceSystem  SourceSystem `json:"source_system"`
	LastSuccessAt *time.Time   `json:"last_success_at,omitempty"`
	Cursor        Cursor       `json:"cursor"`
}
