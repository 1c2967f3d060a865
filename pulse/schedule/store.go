package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
)

// JobStore persists jobs. Jobs are disabled, never deleted.
type JobStore interface {
	SaveDefinition(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	UpdateJob(ctx context.Context, job *Job) error

	// ClaimJob marks an enabled job running at startedAt. It reports false
	// when the job is disabled or another process holds a claim newer than
	// staleBefore.
	ClaimJob(ctx context.Context, id string, startedAt, staleBefore time.Time) (bool, error)
	// FinishJob records the outcome of a claimed run and releases the claim.
	// It never re-enables a job.
	FinishJob(ctx context.Context, job *Job) error
	// SetEnabled switches a job on or off. Enabling clears the error count.
	SetEnabled(ctx context.Context, id string, enabled bool, nextRunAt *time.Time) error
	// SetNextRun persists the next due time of an enabled job.
	SetNextRun(ctx context.Context, id string, nextRunAt time.Time) error
	// ReleaseClaims marks every running job failed and returns how many
	// claims were dropped.
	ReleaseClaims(ctx context.Context) (int64, error)
}

// Store handles persistence of scheduled jobs
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

const jobColumns = `id, cadence, name, description, schedule, enabled,
		       last_run_at, next_run_at, status, error_count, max_retries,
		       metadata, created_at, updated_at`

// SaveDefinition inserts a job or refreshes the declarative fields of an
// existing one. Enabled, status, error count and run times of an existing
// job are left untouched.
func (s *Store) SaveDefinition(ctx context.Context, job *Job) error {
	metadata, err := encodeMetadata(job.Metadata)
	if err != nil {
		return err
	}
	now := db.FormatTime(s.clock())

	query := `
		INSERT INTO scheduled_jobs (
			id, cadence, name, description, schedule, enabled,
			last_run_at, next_run_at, status, error_count, max_retries,
			metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cadence = excluded.cadence,
			name = excluded.name,
			description = excluded.description,
			schedule = excluded.schedule,
			max_retries = excluded.max_retries,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`

	status := job.Status
	if status == "" {
		status = StatusIdle
	}

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		string(job.Cadence),
		job.Name,
		job.Description,
		job.Schedule,
		job.Enabled,
		db.NullTime(job.LastRunAt),
		db.NullTime(job.NextRunAt),
		string(status),
		job.ErrorCount,
		job.maxRetries(),
		metadata,
		now,
		now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a scheduled job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrJobNotFound, "job %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// ListJobs returns every job ordered by cadence then ID.
func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs ORDER BY cadence, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}

// UpdateJob writes the runtime fields of a job.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	query := `
		UPDATE scheduled_jobs
		SET enabled = ?,
		    last_run_at = ?,
		    next_run_at = ?,
		    status = ?,
		    error_count = ?,
		    updated_at = ?
		WHERE id = ?
	`

	job.UpdatedAt = s.clock()
	result, err := s.db.ExecContext(ctx, query,
		job.Enabled,
		db.NullTime(job.LastRunAt),
		db.NullTime(job.NextRunAt),
		string(job.Status),
		job.ErrorCount,
		db.FormatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}
	return expectOne(result, job.ID)
}

// ClaimJob takes the cross-process run permit of a job. The status column is
// the lock: only one UPDATE can move it to running.
func (s *Store) ClaimJob(ctx context.Context, id string, startedAt, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE scheduled_jobs
		SET status = ?,
		    last_run_at = ?,
		    updated_at = ?
		WHERE id = ?
		  AND enabled = 1
		  AND (status != ? OR last_run_at IS NULL OR last_run_at < ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		string(StatusRunning),
		db.FormatTime(startedAt),
		db.FormatTime(s.clock()),
		id,
		string(StatusRunning),
		db.FormatTime(staleBefore),
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim job %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows == 1, nil
}

// FinishJob writes the outcome of a run. enabled can only go down, and
// next_run_at is cleared when the stored row was disabled while the job ran.
func (s *Store) FinishJob(ctx context.Context, job *Job) error {
	query := `
		UPDATE scheduled_jobs
		SET enabled = enabled AND ?,
		    next_run_at = CASE WHEN enabled AND ? THEN ? ELSE NULL END,
		    status = ?,
		    error_count = ?,
		    updated_at = ?
		WHERE id = ?
	`

	job.UpdatedAt = s.clock()
	result, err := s.db.ExecContext(ctx, query,
		job.Enabled,
		job.Enabled,
		db.NullTime(job.NextRunAt),
		string(job.Status),
		job.ErrorCount,
		db.FormatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to finish job %s", job.ID)
	}
	return expectOne(result, job.ID)
}

// SetEnabled switches a job on or off without touching a claim held by a
// running process.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool, nextRunAt *time.Time) error {
	query := `
		UPDATE scheduled_jobs
		SET enabled = ?,
		    next_run_at = ?,
		    error_count = CASE WHEN ? THEN 0 ELSE error_count END,
		    status = CASE WHEN ? AND status != ? THEN ? ELSE status END,
		    updated_at = ?
		WHERE id = ?
	`

	if !enabled {
		nextRunAt = nil
	}
	result, err := s.db.ExecContext(ctx, query,
		enabled,
		db.NullTime(nextRunAt),
		enabled,
		enabled,
		string(StatusRunning),
		string(StatusIdle),
		db.FormatTime(s.clock()),
		id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to toggle job %s", id)
	}
	return expectOne(result, id)
}

// SetNextRun persists the next due time. Disabled jobs are left alone.
func (s *Store) SetNextRun(ctx context.Context, id string, nextRunAt time.Time) error {
	query := `UPDATE scheduled_jobs SET next_run_at = ?, updated_at = ? WHERE id = ? AND enabled = 1`

	if _, err := s.db.ExecContext(ctx, query, db.FormatTime(nextRunAt), db.FormatTime(s.clock()), id); err != nil {
		return errors.Wrapf(err, "failed to set next run of job %s", id)
	}
	return nil
}

// ReleaseClaims fails every job left running by a process that exited
// mid-run.
func (s *Store) ReleaseClaims(ctx context.Context) (int64, error) {
	query := `UPDATE scheduled_jobs SET status = ?, updated_at = ? WHERE status = ?`

	result, err := s.db.ExecContext(ctx, query, string(StatusFailed), db.FormatTime(s.clock()), string(StatusRunning))
	if err != nil {
		return 0, errors.Wrap(err, "failed to release job claims")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return rows, nil
}

func expectOne(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(ErrJobNotFound, "job %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var cadence, status, createdAt, updatedAt string
	var lastRunAt, nextRunAt, metadata sql.NullString

	err := row.Scan(
		&job.ID,
		&cadence,
		&job.Name,
		&job.Description,
		&job.Schedule,
		&job.Enabled,
		&lastRunAt,
		&nextRunAt,
		&status,
		&job.ErrorCount,
		&job.MaxRetries,
		&metadata,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Cadence = Cadence(cadence)
	job.Status = Status(status)

	// Parse timestamps (return error if parsing fails - indicates data corruption or schema mismatch)
	if job.LastRunAt, err = db.ScanNullTime(lastRunAt); err != nil {
		return nil, errors.Wrapf(err, "last_run_at for job %s", job.ID)
	}
	if job.NextRunAt, err = db.ScanNullTime(nextRunAt); err != nil {
		return nil, errors.Wrapf(err, "next_run_at for job %s", job.ID)
	}
	if job.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "created_at for job %s", job.ID)
	}
	if job.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "updated_at for job %s", job.ID)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &job.Metadata); err != nil {
			return nil, errors.Wrapf(err, "metadata for job %s", job.ID)
		}
	}
	return &job, nil
}

func encodeMetadata(m map[string]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode job metadata")
	}
	return string(b), nil
}
