package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
)

// Task is a to-do item. Recurring tasks carry a recurrence rule string and
// spawn a new occurrence once completed.
type Task struct {
	ID           string
	UserID       string
	Title        string
	DueAt        *time.Time
	Completed    bool
	CompletedAt  *time.Time
	Recurrence   string // recur rule; empty when the task does not repeat
	ParentID     string // first task of the series
	Regenerated  bool   // next occurrence already created
	ReminderSent bool
	Overdue      bool
	Archived     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsRecurring reports whether the task carries a recurrence rule.
func (t *Task) IsRecurring() bool {
	return t.Recurrence != ""
}

// SeriesID returns the ID of the task that started the series.
func (t *Task) SeriesID() string {
	if t.ParentID != "" {
		return t.ParentID
	}
	return t.ID
}

// TaskStore persists tasks.
type TaskStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewTaskStore creates a task store.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db, clock: time.Now}
}

const taskColumns = `id, user_id, title, due_at, completed, completed_at, recurrence,
		       parent_id, regenerated, reminder_sent, overdue, archived, created_at, updated_at`

// CreateTask inserts a task, assigning an ID when empty.
func (s *TaskStore) CreateTask(ctx context.Context, task *Task) error {
	return insertTask(ctx, s.db, task, s.clock())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertTask(ctx context.Context, ex execer, task *Task, now time.Time) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	_, err := ex.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.UserID,
		task.Title,
		db.NullTime(task.DueAt),
		task.Completed,
		db.NullTime(task.CompletedAt),
		nullString(task.Recurrence),
		nullString(task.ParentID),
		task.Regenerated,
		task.ReminderSent,
		task.Overdue,
		task.Archived,
		db.FormatTime(task.CreatedAt),
		db.FormatTime(task.UpdatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create task %s", task.ID)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *TaskStore) GetTask(ctx context.Context, id string) (*Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrTaskNotFound, "task %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get task %s", id)
	}
	return task, nil
}

// ListDueForReminder returns open tasks due in [from, to) that have not had
// a reminder yet.
func (s *TaskStore) ListDueForReminder(ctx context.Context, from, to time.Time) ([]*Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE completed = 0 AND archived = 0 AND reminder_sent = 0
		  AND due_at >= ? AND due_at < ?
		ORDER BY due_at, id`,
		db.FormatTime(from), db.FormatTime(to))
}

// ListCompletedRecurring returns completed recurring tasks whose next
// occurrence has not been created.
func (s *TaskStore) ListCompletedRecurring(ctx context.Context) ([]*Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE completed = 1 AND regenerated = 0 AND archived = 0
		  AND recurrence IS NOT NULL AND recurrence != ''
		ORDER BY completed_at, id`)
}

// ListTasks returns every task of a user, newest due date last.
func (s *TaskStore) ListTasks(ctx context.Context, userID string) ([]*Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY due_at, id`, userID)
}

// MarkReminderSent flags a task as reminded.
func (s *TaskStore) MarkReminderSent(ctx context.Context, id string) error {
	return s.updateOne(ctx, id, `UPDATE tasks SET reminder_sent = 1, updated_at = ? WHERE id = ?`)
}

// StopRecurring clears the recurrence rule of a task.
func (s *TaskStore) StopRecurring(ctx context.Context, id string) error {
	return s.updateOne(ctx, id, `UPDATE tasks SET recurrence = NULL, updated_at = ? WHERE id = ?`)
}

// CompleteTask marks a task completed at the given time.
func (s *TaskStore) CompleteTask(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = 1, completed_at = ?, overdue = 0, updated_at = ? WHERE id = ?`,
		db.FormatTime(at), db.FormatTime(s.clock()), id)
	if err != nil {
		return errors.Wrapf(err, "failed to complete task %s", id)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrTaskNotFound, "task %s", id)
	}
	return nil
}

// MarkOverdue flags every open task due before now and returns how many
// changed.
func (s *TaskStore) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET overdue = 1, updated_at = ?
		WHERE completed = 0 AND archived = 0 AND overdue = 0
		  AND due_at IS NOT NULL AND due_at < ?`,
		db.FormatTime(s.clock()), db.FormatTime(now))
	if err != nil {
		return 0, errors.Wrap(err, "failed to mark overdue tasks")
	}
	return rowsAffected(result)
}

// CreateOccurrence creates the next task of a recurring series due at dueAt
// and marks the completed parent as regenerated, in one transaction.
func (s *TaskStore) CreateOccurrence(ctx context.Context, parent *Task, dueAt time.Time) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() // Rollback if not committed

	now := s.clock()
	next := &Task{
		UserID:     parent.UserID,
		Title:      parent.Title,
		DueAt:      &dueAt,
		Recurrence: parent.Recurrence,
		ParentID:   parent.SeriesID(),
	}
	if err := insertTask(ctx, tx, next, now); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE tasks SET regenerated = 1, updated_at = ? WHERE id = ? AND regenerated = 0`,
		db.FormatTime(now), parent.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mark task %s regenerated", parent.ID)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.Wrapf(errors.ErrConflict, "task %s already regenerated", parent.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}
	return next, nil
}

// ArchiveCompleted archives tasks completed before the cutoff.
func (s *TaskStore) ArchiveCompleted(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET archived = 1, updated_at = ?
		WHERE completed = 1 AND archived = 0 AND completed_at < ?`,
		db.FormatTime(s.clock()), db.FormatTime(before))
	if err != nil {
		return 0, errors.Wrap(err, "failed to archive tasks")
	}
	return rowsAffected(result)
}

// CountCompleted counts tasks a user completed in [from, to).
func (s *TaskStore) CountCompleted(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE user_id = ? AND completed = 1 AND completed_at >= ? AND completed_at < ?`,
		userID, db.FormatTime(from), db.FormatTime(to)).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count completed tasks for %s", userID)
	}
	return n, nil
}

func (s *TaskStore) updateOne(ctx context.Context, id, query string) error {
	result, err := s.db.ExecContext(ctx, query, db.FormatTime(s.clock()), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update task %s", id)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrTaskNotFound, "task %s", id)
	}
	return nil
}

func (s *TaskStore) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating tasks")
	}
	return tasks, nil
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var dueAt, completedAt, recurrence, parentID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Title,
		&dueAt,
		&task.Completed,
		&completedAt,
		&recurrence,
		&parentID,
		&task.Regenerated,
		&task.ReminderSent,
		&task.Overdue,
		&task.Archived,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Recurrence = recurrence.String
	task.ParentID = parentID.String

	if task.DueAt, err = db.ScanNullTime(dueAt); err != nil {
		return nil, errors.Wrapf(err, "due_at for task %s", task.ID)
	}
	if task.CompletedAt, err = db.ScanNullTime(completedAt); err != nil {
		return nil, errors.Wrapf(err, "completed_at for task %s", task.ID)
	}
	if task.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "created_at for task %s", task.ID)
	}
	if task.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "updated_at for task %s", task.ID)
	}
	return &task, nil
}
