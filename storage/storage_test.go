package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/grove/errors"
	grovetest "github.com/teranos/grove/internal/testing"
	"github.com/teranos/grove/internal/util"
)

var now = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now }

func seedUser(t *testing.T, db *sql.DB, user *User) *User {
	t.Helper()
	store := NewUserStore(db)
	store.clock = fixedClock
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func TestUserStore(t *testing.T) {
	db := grovetest.CreateTestDB(t)
	store := NewUserStore(db)
	ctx := context.Background()

	user := seedUser(t, db, &User{Name: "ada", NotifyPush: true, DailySummary: true})
	assert.NotEmpty(t, user.ID)

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Name)
	assert.True(t, got.NotifyPush)
	assert.False(t, got.NotifyEmail)
	assert.True(t, got.DailySummary)
	assert.Nil(t, got.LastFocusDate)
	assert.True(t, now.Equal(got.CreatedAt))

	_, err = store.GetUser(ctx, "nobody")
	assert.True(t, errors.Is(err, ErrUserNotFound))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCreditFocusAndReset(t *testing.T) {
	db := grovetest.CreateTestDB(t)
	store := NewUserStore(db)
	ctx := context.Background()
	user := seedUser(t, db, &User{Name: "ada"})

	day := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreditFocus(ctx, user.ID, FocusCredit{Points: 25, Trees: 2, Minutes: 50, Streak: 1, FocusDate: day}))
	require.NoError(t, store.CreditFocus(ctx, user.ID, FocusCredit{Points: 13, Trees: 1, Minutes: 25, Streak: 1, FocusDate: day}))

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 38, got.TotalPoints)
	assert.Equal(t, 3, got.TreesPlanted)
	assert.Equal(t, 75, got.DailyFocusMinutes)
	assert.Equal(t, 38, got.DailyPoints)
	assert.Equal(t, 1, got.Streak)
	require.NotNil(t, got.LastFocusDate)
	assert.Equal(t, day, *got.LastFocusDate)

	seedUser(t, db, &User{Name: "idle"})
	n, err := store.ResetDailyCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only users with non-zero counters are touched")

	got, err = store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, got.DailyFocusMinutes)
	assert.Zero(t, got.DailyPoints)
	assert.Equal(t, 38, got.TotalPoints, "totals survive the reset")

	err = store.CreditFocus(ctx, "ghost", FocusCredit{FocusDate: day})
	assert.True(t, errors.Is(err, ErrUserNotFound))
}

func TestUpdateStreak(t *testing.T) {
	db := grovetest.CreateTestDB(t)
	store := NewUserStore(db)
	ctx := context.Background()
	user := seedUser(t, db, &User{Name: "ada", Streak: 4})

	require.NoError(t, store.UpdateStreak(ctx, user.ID, 0, now))

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Streak)
	require.NotNil(t, got.StreakCheckedOn)
	assert.Equal(t, "2026-03-10", got.StreakCheckedOn.Format("2006-01-02"))
}

func TestTaskReminderWindow(t *testing.T) {
	db := grovetest.CreateTestDB(t)
	store := NewTaskStore(db)
	ctx := context.Background()
	user := seedUser(t, db, &User{Name: "ada"})

	due := func(d time.Duration) *time.Time { return util.Ptr(now.Add(d)) }
	inWindow := &Task{UserID: user.ID, Title: "in window", DueAt: due(30 * time.Minute)}
	reminded := &Task{UserID: user.ID, Title: "reminded", DueAt: due(10 * time.Minute), ReminderSent: true}
	later := &Task{UserID: user.ID, Title: "later", DueAt: due(2 * time.Hour)}
	done := &Task{UserID: user.ID, Title: "done", DueAt: due(20 * time.Minute), Completed: true, CompletedAt: util.Ptr(now)}
	for _, task := range []*Task{inWindow, reminded, later, done} {
		require.NoError(t, store.CreateTask(ctx, task))
	}

	tasks, err := store.ListDueForReminder(ctx, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, inWindow.ID, tasks[0].ID)

	require.NoError(t, store.MarkReminderSent(ctx, inWindow.ID))
	tasks, err = store.ListDueForReminder(ctx, now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, tasks)

	assert.True(t, errors.Is(store.MarkReminderSent(ctx, "ghost"), ErrTaskNotFound))
}

func TestMarkOverdue(t *testing.T) {
	db := grovetest.CreateTestDB(t)
	store := NewTaskStore(db)
	ctx := context.Background()
	user := seedUser(t, db, &User{Name: "ada"})

	past := &Task{UserID: user.ID, Title: "late", DueAt: util.Ptr(now.Add(-time.Hour))}
	future := &Task{UserID: user.ID, Title: "soon", DueAt: util.Ptr(now.Add(time.Hour))}
	undated := &Task{UserID: user.ID, Title: "someday"}
	for _, task := range []*Task{past, future, undated} {
		require.NoError(t, store.CreateTask(ctx, task))
	}

	n, err := store.MarkOverdue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.MarkOverdue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "already flagged")

	got, err := store.GetTask(ctx, past.ID)
	require.NoError(t, err)
	assert.True(t, got.Overdue)
}

func TestCreateOccurrence(t *testing.T) {
	db := grovetest.CreateTestDB(t)
	store := NewTaskStore(db)
	ctx := context.Background()
	user := seedUser(t, db, &User{Name: "ada"})

	parent := &Task{
		UserID:      user.ID,
		Title:       "water plants",
		DueAt:       util.Ptr(now),
		Completed:   true,
		CompletedAt: util.Ptr(now),
		Recurrence:  "FREQ=DAILY;DTSTART=2026-03-01",
	}
	require.NoError(t, store.CreateTask(ctx, parent))

	recurring, err := store.ListCompletedRecurring(ctx)
	require.NoError(t, err)
	require.Len(t, recurring, 1)

	next, err := store.CreateOccurrence(ctx, parent, now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, parent.ID, next.ParentID)
	assert.Equal(t, parent.Recurrence, next.Recurrence)
	assert.False(t, next.Completed)

	stored, err := store.GetTask(ctx, next.ID)
	require.NoError(t, err)
	assert.True(t, now.AddDate(0, 0, 1).Equal(*stored.DueAt))
	assert.Equal(t, parent.ID, stored.SeriesID())

	recurring, err = store.ListCompletedRecurring(ctx)
	require.NoError(t, err)
	assert.Empty(t, recurring, "parent is regenerated, child is open")

	_, err = store.CreateOccurrence(ctx, parent, now.AddDate(0, 0, 2))
	assert.True(t, errors.Is(err, errors.ErrConflict))
	all, err := store.ListTasks(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2, "a conflicting occurrence is rolled back")
}

func TestStopRecurring(t *testing.T) {
	db := grovetest.CreateTestDB(t)
	store := NewTaskStore(db)
	ctx := context.Background()
	user := seedUser(t, db, &User{Name: "ada"})

	task := &Task{UserID: user.ID, Title: "x", Completed: true, CompletedAt: util.Ptr(now), Recurrence: "FREQ=DAILY"}
	require.NoError(t, store.CreateTask(ctx, task))
	require.NoError(t, store.StopRecurring(ctx, task.ID))

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.IsRecurring())
}

func TestArchiveAndCountCompleted(t *testing.T) {
	db := grovetest.CreateTestDB(t)
	store := NewTaskStore(db)
	ctx := context.Background()
	user := seedUser(t, db, &User{Name: "ada"})

	old := &Task{UserID: user.ID, Title: "old"}
	recent := &Task{UserID: user.ID, Title: "recent"}
	open := &Task{UserID: user.ID, Title: "open"}
	for _, task := range []*Task{old, recent, open} {
		require.NoError(t, store.CreateTask(ctx, task))
	}
	require.NoError(t, store.CompleteTask(ctx, old.ID, now.AddDate(0, 0, -40)))
	require.NoError(t, store.CompleteTask(ctx, recent.ID, now.Add(-2*time.Hour)))

	n, err := store.CountCompleted(ctx, user.ID, now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.ArchiveCompleted(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetTask(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)

	assert.True(t, errors.Is(store.CompleteTask(ctx, "ghost", now), ErrTaskNotFound))
}

func TestSessionLifecycle(t *testing.T) {
	db := grovetest.CreateTestDB(t)
	store := NewSessionStore(db)
	ctx := context.Background()
	user := seedUser(t, db, &User{Name: "ada"})

	session := &FocusSession{UserID: user.ID, Mode: ModeFocus, StartedAt: now, PlannedMinutes: 25, Hash: "abc"}
	require.NoError(t, store.CreateSession(ctx, session))
	assert.Equal(t, SessionActive, session.Status)
	assert.Equal(t, now.Add(25*time.Minute), session.PlannedEnd())
	assert.False(t, session.IsBreak())

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	end := now.Add(25 * time.Minute)
	require.NoError(t, store.CompleteSession(ctx, session.ID, end, SessionOutcome{Points: 13, Trees: 1}))

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, got.Status)
	assert.True(t, got.Processed)
	assert.Equal(t, 13, got.PointsAwarded)
	assert.Equal(t, 1, got.TreesGrown)
	require.NotNil(t, got.EndedAt)
	assert.True(t, end.Equal(*got.EndedAt))

	err = store.CompleteSession(ctx, session.ID, end, SessionOutcome{Points: 99})
	assert.True(t, errors.Is(err, ErrSessionNotFound), "a closed session cannot be credited twice")

	ids, err := store.ProcessedIDs(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{session.ID}, ids)

	sessions, err := store.ListSessions(ctx, user.ID, now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestCompleteSessionRejected(t *testing.T) {
	db := grovetest.CreateTestDB(t)
	store := NewSessionStore(db)
	ctx := context.Background()
	user := seedUser(t, db, &User{Name: "ada"})

	session := &FocusSession{UserID: user.ID, Mode: ModeFocus, StartedAt: now, PlannedMinutes: 25}
	require.NoError(t, store.CreateSession(ctx, session))
	require.NoError(t, store.CompleteSession(ctx, session.ID, now, SessionOutcome{Rejected: true, RejectReason: "hash_mismatch"}))

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, got.Rejected)
	assert.Equal(t, "hash_mismatch", got.RejectReason)
	assert.Zero(t, got.PointsAwarded)
}

func TestExpireStale(t *testing.T) {
	db := grovetest.CreateTestDB(t)
	store := NewSessionStore(db)
	ctx := context.Background()
	user := seedUser(t, db, &User{Name: "ada"})

	stale := &FocusSession{UserID: user.ID, Mode: ModeFocus, StartedAt: now.Add(-25 * time.Hour), PlannedMinutes: 25}
	fresh := &FocusSession{UserID: user.ID, Mode: ModeShortBreak, StartedAt: now.Add(-time.Hour), PlannedMinutes: 5}
	require.NoError(t, store.CreateSession(ctx, stale))
	require.NoError(t, store.CreateSession(ctx, fresh))

	n, err := store.ExpireStale(ctx, now, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetSession(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionExpired, got.Status)
	assert.False(t, got.Processed)

	got, err = store.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionActive, got.Status)
	assert.True(t, got.IsBreak())
}

func TestUpsertRollupOverwrites(t *testing.T) {
	db := grovetest.CreateTestDB(t)
	store := NewRollupStore(db)
	store.clock = fixedClock
	ctx := context.Background()
	user := seedUser(t, db, &User{Name: "ada"})

	require.NoError(t, store.UpsertRollup(ctx, &DailyRollup{UserID: user.ID, Date: "2026-03-09", FocusMinutes: 50, ProductivityScore: 40}))
	require.NoError(t, store.UpsertRollup(ctx, &DailyRollup{UserID: user.ID, Date: "2026-03-09", FocusMinutes: 75, ProductivityScore: 55}))
	require.NoError(t, store.UpsertRollup(ctx, &DailyRollup{UserID: user.ID, Date: "2026-03-08", FocusMinutes: 10}))

	got, err := store.GetRollup(ctx, user.ID, "2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, 75, got.FocusMinutes)
	assert.Equal(t, 55, got.ProductivityScore)

	list, err := store.ListRollups(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 2, "re-running a day does not duplicate its rollup")
	assert.Equal(t, "2026-03-09", list[0].Date)

	_, err = store.GetRollup(ctx, user.ID, "2026-01-01")
	assert.True(t, errors.Is(err, ErrRollupNotFound))

	err = store.UpsertRollup(ctx, &DailyRollup{UserID: user.ID, Date: "yesterday"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestListUsersQueryError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectQuery("SELECT (.+) FROM users").WillReturnError(sql.ErrConnDone)

	_, err = NewUserStore(mockDB).ListUsers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list users")
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOccurrenceRollsBackOnInsertError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tasks").WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	parent := &Task{ID: "t1", UserID: "u1", Title: "x", Recurrence: "FREQ=DAILY"}
	_, err = NewTaskStore(mockDB).CreateOccurrence(context.Background(), parent, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create task")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetDailyCountersExecError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("UPDATE users SET daily_focus_minutes = 0").WillReturnError(errors.New("database is locked"))

	_, err = NewUserStore(mockDB).ResetDailyCounters(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reset daily counters")
	assert.NoError(t, mock.ExpectationsWereMet())
}
