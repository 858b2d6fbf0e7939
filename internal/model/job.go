package model

import "time"

// JobKind distinguishes the two long-running orchestrator operations.
type JobKind string

const (
	JobExport   JobKind = "export"
	JobDeletion JobKind = "deletion"
)

// JobState is the pollable state of a background run.
type JobState string

const (
	JobQueued              JobState = "queued"
	JobRunning             JobState = "running"
	JobCompleted           JobState = "completed"
	JobCompletedWithErrors JobState = "completed_with_errors"
	JobFailed              JobState = "failed"
	JobCancelled           JobState = "cancelled"
)

// Done reports whether the job has reached a final state.
func (s JobState) Done() bool {
	switch s {
	case JobCompleted, JobCompletedWithErrors, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Job is the pollable status record of an export or deletion run. Export
// jobs may be cancelled before they finish; deletion jobs may not, but a
// re-run resumes at category granularity.
type Job struct {
	ID         string            `json:"id"`
	Kind       JobKind           `json:"kind"`
	RequestID  string            `json:"request_id"`
	UserID     string            `json:"user_id"`
	State      JobState          `json:"state"`
	Outcomes   []CategoryOutcome `json:"outcomes,omitempty"`
	Export     *ExportResult     `json:"export,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}
