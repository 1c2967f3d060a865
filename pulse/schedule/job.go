// Package schedule runs the recurring background jobs of grove.
//
// Each enabled job gets its own timer goroutine. A tick launches the job's
// handler unless the job is disabled or still running from an earlier tick,
// in which case the tick is dropped. Every dispatched tick, scheduled or
// manual, leaves exactly one Execution behind.
package schedule

import (
	"strings"
	"time"

	"github.com/teranos/grove/errors"
)

// Cadence is the tick class of a job.
type Cadence string

const (
	CadenceMinutely Cadence = "minutely"
	CadenceHourly   Cadence = "hourly"
	CadenceDaily    Cadence = "daily"
)

// Period returns the fixed tick interval of the cadence.
func (c Cadence) Period() time.Duration {
	switch c {
	case CadenceMinutely:
		return time.Minute
	case CadenceHourly:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// DefaultSchedule returns the cron expression matching the cadence's
// calendar boundary.
func (c Cadence) DefaultSchedule() string {
	switch c {
	case CadenceMinutely:
		return "* * * * *"
	case CadenceHourly:
		return "0 * * * *"
	default:
		return "0 0 * * *"
	}
}

// ParseCadence validates a cadence name.
func ParseCadence(s string) (Cadence, error) {
	switch c := Cadence(strings.ToLower(strings.TrimSpace(s))); c {
	case CadenceMinutely, CadenceHourly, CadenceDaily:
		return c, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidRequest, "unknown cadence %q", s)
}

// Status is the lifecycle state of a job between and during ticks.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DefaultMaxRetries is the consecutive-failure limit after which a job is
// disabled.
const DefaultMaxRetries = 3

// Job is a recurring unit of background work. Its ID doubles as the key of
// the handler that implements it.
type Job struct {
	ID          string
	Cadence     Cadence
	Name        string
	Description string
	Schedule    string // cron expression used by calendar alignment
	Enabled     bool
	LastRunAt   *time.Time
	NextRunAt   *time.Time
	Status      Status
	ErrorCount  int
	MaxRetries  int
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NeedsAttention reports whether the job was disabled by its failure limit
// rather than by an operator.
func (j *Job) NeedsAttention() bool {
	return !j.Enabled && j.MaxRetries > 0 && j.ErrorCount >= j.MaxRetries
}

func (j *Job) schedule() string {
	if j.Schedule != "" {
		return j.Schedule
	}
	return j.Cadence.DefaultSchedule()
}

func (j *Job) maxRetries() int {
	if j.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return j.MaxRetries
}

// Definition declares a job at bootstrap. Runtime fields (status, error
// count, enabled flag of an existing job) are never overwritten by it.
type Definition struct {
	ID          string
	Cadence     Cadence
	Name        string
	Description string
	Schedule    string
	MaxRetries  int
	Disabled    bool
	Metadata    map[string]string
}

func (d Definition) job(now time.Time) *Job {
	j := &Job{
		ID:          d.ID,
		Cadence:     d.Cadence,
		Name:        d.Name,
		Description: d.Description,
		Schedule:    d.Schedule,
		Enabled:     !d.Disabled,
		Status:      StatusIdle,
		MaxRetries:  d.MaxRetries,
		Metadata:    d.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if j.Name == "" {
		j.Name = d.ID
	}
	if j.Schedule == "" {
		j.Schedule = d.Cadence.DefaultSchedule()
	}
	j.MaxRetries = j.maxRetries()
	return j
}
