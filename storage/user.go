package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
)

// User carries notification preferences, streak bookkeeping and point totals.
type User struct {
	ID           string
	Name         string
	Email        string
	NotifyPush   bool
	NotifyEmail  bool
	NotifyLocal  bool
	DailySummary bool
	AutoBreak    bool

	Streak          int
	LastFocusDate   *time.Time // calendar day, UTC midnight
	StreakCheckedOn *time.Time // day the daily streak job last evaluated this user

	TotalPoints       int
	TreesPlanted      int
	DailyFocusMinutes int
	DailyPoints       int
	CreatedAt         time.Time
}

// FocusCredit is what a validated focus session adds to a user.
type FocusCredit struct {
	Points    int
	Trees     int
	Minutes   int
	Streak    int
	FocusDate time.Time
}

// UserStore persists users.
type UserStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewUserStore creates a user store.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db, clock: time.Now}
}

const userColumns = `id, name, email, notify_push, notify_email, notify_local, daily_summary,
		       auto_break, streak, last_focus_date, streak_checked_on, total_points,
		       trees_planted, daily_focus_minutes, daily_points, created_at`

// CreateUser inserts a user, assigning an ID when empty.
func (s *UserStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.clock()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		user.Email,
		user.NotifyPush,
		user.NotifyEmail,
		user.NotifyLocal,
		user.DailySummary,
		user.AutoBreak,
		user.Streak,
		nullDate(user.LastFocusDate),
		nullDate(user.StreakCheckedOn),
		user.TotalPoints,
		user.TreesPlanted,
		user.DailyFocusMinutes,
		user.DailyPoints,
		db.FormatTime(user.CreatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create user %s", user.ID)
	}
	return nil
}

// GetUser finds a user by ID.
func (s *UserStore) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrUserNotFound, "user %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get user %s", id)
	}
	return user, nil
}

// ListUsers returns every user ordered by ID.
func (s *UserStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating users")
	}
	return users, nil
}

// UpdateStreak records the daily streak evaluation of a user.
func (s *UserStore) UpdateStreak(ctx context.Context, id string, streak int, checkedOn time.Time) error {
	return s.updateOne(ctx, id,
		`UPDATE users SET streak = ?, streak_checked_on = ? WHERE id = ?`,
		streak, db.FormatDate(checkedOn), id)
}

// CreditFocus adds a validated focus session to the user's totals and
// daily counters and stores the streak it produced.
func (s *UserStore) CreditFocus(ctx context.Context, id string, credit FocusCredit) error {
	return s.updateOne(ctx, id, `
		UPDATE users
		SET total_points = total_points + ?,
		    trees_planted = trees_planted + ?,
		    daily_focus_minutes = daily_focus_minutes + ?,
		    daily_points = daily_points + ?,
		    streak = ?,
		    last_focus_date = ?
		WHERE id = ?`,
		credit.Points, credit.Trees, credit.Minutes, credit.Points,
		credit.Streak, db.FormatDate(credit.FocusDate), id)
}

// ResetDailyCounters zeroes the per-day focus minutes and points of every
// user and returns how many rows had non-zero counters.
func (s *UserStore) ResetDailyCounters(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET daily_focus_minutes = 0, daily_points = 0
		WHERE daily_focus_minutes != 0 OR daily_points != 0`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reset daily counters")
	}
	return rowsAffected(result)
}

func (s *UserStore) updateOne(ctx context.Context, id, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to update user %s", id)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrUserNotFound, "user %s", id)
	}
	return nil
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var lastFocus, checkedOn sql.NullString
	var createdAt string

	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.NotifyPush,
		&user.NotifyEmail,
		&user.NotifyLocal,
		&user.DailySummary,
		&user.AutoBreak,
		&user.Streak,
		&lastFocus,
		&checkedOn,
		&user.TotalPoints,
		&user.TreesPlanted,
		&user.DailyFocusMinutes,
		&user.DailyPoints,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if user.LastFocusDate, err = scanNullDate(lastFocus); err != nil {
		return nil, errors.Wrapf(err, "last_focus_date for user %s", user.ID)
	}
	if user.StreakCheckedOn, err = scanNullDate(checkedOn); err != nil {
		return nil, errors.Wrapf(err, "streak_checked_on for user %s", user.ID)
	}
	if user.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "created_at for user %s", user.ID)
	}
	return &user, nil
}
