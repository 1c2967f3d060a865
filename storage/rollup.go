package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
)

// DailyRollup is one user's activity snapshot for one calendar day.
type DailyRollup struct {
	UserID            string
	Date              string // YYYY-MM-DD
	FocusMinutes      int
	FocusSessions     int
	CompletedTasks    int
	Streak            int
	PointsEarned      int
	TreesPlanted      int
	ProductivityScore int
	CreatedAt         time.Time
}

// RollupStore persists daily rollups keyed by (user_id, date).
type RollupStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewRollupStore creates a rollup store.
func NewRollupStore(db *sql.DB) *RollupStore {
	return &RollupStore{db: db, clock: time.Now}
}

const rollupColumns = `user_id, date, focus_minutes, focus_sessions, completed_tasks, streak,
		       points_earned, trees_planted, productivity_score, created_at`

// UpsertRollup writes a rollup, replacing any existing row for the same
// user and day.
func (s *RollupStore) UpsertRollup(ctx context.Context, r *DailyRollup) error {
	if _, err := time.Parse(db.DateLayout, r.Date); err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "rollup date %q: %v", r.Date, err)
	}
	r.CreatedAt = s.clock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_rollups (`+rollupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			focus_minutes = excluded.focus_minutes,
			focus_sessions = excluded.focus_sessions,
			completed_tasks = excluded.completed_tasks,
			streak = excluded.streak,
			points_earned = excluded.points_earned,
			trees_planted = excluded.trees_planted,
			productivity_score = excluded.productivity_score,
			created_at = excluded.created_at`,
		r.UserID,
		r.Date,
		r.FocusMinutes,
		r.FocusSessions,
		r.CompletedTasks,
		r.Streak,
		r.PointsEarned,
		r.TreesPlanted,
		r.ProductivityScore,
		db.FormatTime(r.CreatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert rollup %s/%s", r.UserID, r.Date)
	}
	return nil
}

// GetRollup returns the rollup of a user for a day.
func (s *RollupStore) GetRollup(ctx context.Context, userID, date string) (*DailyRollup, error) {
	r, err := scanRollup(s.db.QueryRowContext(ctx,
		`SELECT `+rollupColumns+` FROM daily_rollups WHERE user_id = ? AND date = ?`, userID, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrRollupNotFound, "rollup %s/%s", userID, date)
		}
		return nil, errors.Wrapf(err, "failed to get rollup %s/%s", userID, date)
	}
	return r, nil
}

// ListRollups returns a user's most recent rollups, newest first.
func (s *RollupStore) ListRollups(ctx context.Context, userID string, limit int) ([]*DailyRollup, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rollupColumns+` FROM daily_rollups
		WHERE user_id = ? ORDER BY date DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list rollups for %s", userID)
	}
	defer rows.Close()

	var rollups []*DailyRollup
	for rows.Next() {
		r, err := scanRollup(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan rollup")
		}
		rollups = append(rollups, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating rollups")
	}
	return rollups, nil
}

func scanRollup(row rowScanner) (*DailyRollup, error) {
	var r DailyRollup
	var createdAt string
	err := row.Scan(
		&r.UserID,
		&r.Date,
		&r.FocusMinutes,
		&r.FocusSessions,
		&r.CompletedTasks,
		&r.Streak,
		&r.PointsEarned,
		&r.TreesPlanted,
		&r.ProductivityScore,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	if r.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "created_at for rollup %s/%s", r.UserID, r.Date)
	}
	return &r, nil
}
