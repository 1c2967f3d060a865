package schedule

import "github.com/teranos/grove/errors"

var (
	// ErrJobNotFound is returned for an unknown job ID. It matches errors.ErrNotFound.
	ErrJobNotFound = errors.Wrap(errors.ErrNotFound, "job not found")

	// ErrUnknownHandler is returned by Bootstrap for a definition with no registered handler.
	ErrUnknownHandler = errors.New("no handler registered for job")

	// ErrDuplicateHandler is returned when a job ID is registered twice.
	ErrDuplicateHandler = errors.Wrap(errors.ErrConflict, "handler already registered")

	// ErrJobRunning is returned by TriggerJob while the job is executing.
	ErrJobRunning = errors.Wrap(errors.ErrConflict, "job is already running")

	// ErrJobDisabled is returned by TriggerJob for a disabled job.
	ErrJobDisabled = errors.New("job is disabled")
)
