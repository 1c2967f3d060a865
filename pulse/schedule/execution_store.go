package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
)

// ExecutionLog is the append-only execution history.
type ExecutionLog interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	ListExecutions(ctx context.Context, jobID string, limit int) ([]*Execution, error)
	CleanupOldExecutions(ctx context.Context, before time.Time) (int, error)
}

// ExecutionStore handles persistence of job execution history
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreateExecution creates a new execution record
func (s *ExecutionStore) CreateExecution(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO job_executions (
			id, job_id, status, triggered_by,
			started_at, completed_at, duration_ms,
			result, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var result, errorMessage interface{}
	if exec.Result != "" {
		result = exec.Result
	}
	if exec.ErrorMessage != "" {
		errorMessage = exec.ErrorMessage
	}

	trigger := exec.Trigger
	if trigger == "" {
		trigger = TriggerSchedule
	}

	_, err := s.db.ExecContext(ctx, query,
		exec.ID,
		exec.JobID,
		exec.Status,
		string(trigger),
		db.FormatTime(exec.StartedAt),
		db.FormatTime(exec.CompletedAt),
		exec.DurationMs(),
		result,
		errorMessage,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}
	return nil
}

// ListExecutions returns the most recent executions, newest first. An empty
// jobID lists across all jobs; a non-positive limit defaults to 50.
func (s *ExecutionStore) ListExecutions(ctx context.Context, jobID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, job_id, status, triggered_by,
		       started_at, completed_at, duration_ms,
		       result, error_message
		FROM job_executions
	`
	var args []interface{}
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		var exec Execution
		var trigger, startedAt string
		var completedAt, result, errorMessage sql.NullString
		var durationMs int64

		err := rows.Scan(
			&exec.ID,
			&exec.JobID,
			&exec.Status,
			&trigger,
			&startedAt,
			&completedAt,
			&durationMs,
			&result,
			&errorMessage,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}

		exec.Trigger = Trigger(trigger)
		exec.Duration = time.Duration(durationMs) * time.Millisecond
		exec.Result = result.String
		exec.ErrorMessage = errorMessage.String

		if exec.StartedAt, err = db.ParseTime(startedAt); err != nil {
			return nil, errors.Wrapf(err, "started_at for execution %s", exec.ID)
		}
		if completed, err := db.ScanNullTime(completedAt); err != nil {
			return nil, errors.Wrapf(err, "completed_at for execution %s", exec.ID)
		} else if completed != nil {
			exec.CompletedAt = *completed
		}

		executions = append(executions, &exec)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating executions")
	}
	return executions, nil
}

// CleanupOldExecutions deletes execution records that started before the
// cutoff and returns how many were removed.
func (s *ExecutionStore) CleanupOldExecutions(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM job_executions WHERE started_at < ?`, db.FormatTime(before))
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old executions")
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(deleted), nil
}
