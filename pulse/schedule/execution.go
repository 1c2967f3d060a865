package schedule

import "time"

// Execution records the outcome of one dispatched tick of a job.
//
// An Execution is written once, after the handler returns, and never
// updated. Retention is handled by CleanupOldExecutions.
type Execution struct {
	ID           string        `json:"id"` // vanity execution ID
	JobID        string        `json:"job_id"`
	Status       string        `json:"status"` // "completed", "failed"
	Trigger      Trigger       `json:"trigger"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
	Duration     time.Duration `json:"-"`
	Result       string        `json:"result,omitempty"` // summary returned by the handler
	ErrorMessage string        `json:"error_message,omitempty"`
}

// DurationMs is the execution duration in milliseconds.
func (e *Execution) DurationMs() int64 {
	return e.Duration.Milliseconds()
}

// Execution status constants for type safety
const (
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// Trigger tells scheduled ticks apart from operator-initiated runs.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)
