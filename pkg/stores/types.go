package stores

import (
	"time"
)

// RunStatus represents the status of a manifest or cookbook run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StepStatus is the outcome of one step
type StepStatus string

const (
	StepStatusOK      StepStatus = "ok"
	StepStatusChanged StepStatus = "changed"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// StepStatusOf maps a primitive's changed/err pair to a status.
func StepStatusOf(changed bool, err error) StepStatus {
	switch {
	case err != nil:
		return StepStatusFailed
	case changed:
		return StepStatusChanged
	default:
		return StepStatusOK
	}
}

// Run represents one execution of a manifest, cookbook or single patch
type Run struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Status      RunStatus  `json:"status"`
	DryRun      bool       `json:"dry_run"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	TraceID     string     `json:"trace_id,omitempty"`
}

// Step is the journal record of one primitive invocation within a run
type Step struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	Seq       int           `json:"seq"`
	Name      string        `json:"name"`
	Primitive string        `json:"primitive"`
	Subject   string        `json:"subject,omitempty"`
	Status    StepStatus    `json:"status"`
	Error     *string       `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// RunSummary is a run with its step counts by status
type RunSummary struct {
	Run
	Counts map[StepStatus]int `json:"counts"`
}
