// Package jobs holds the bodies of the built-in scheduled jobs, grouped by
// cadence, and the narrow store contracts they act through.
//
// Bodies never touch the scheduler. Each one reads the clock once, works
// through its collaborators and returns a one-line summary that ends up in
// the execution's Result column.
package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/internal/clock"
	"github.com/teranos/grove/logger"
	"github.com/teranos/grove/notify"
	"github.com/teranos/grove/pulse/schedule"
	"github.com/teranos/grove/score"
	"github.com/teranos/grove/storage"
)

// Job IDs. The prefix matches the cadence.
const (
	ScheduleReminders = "hourly.schedule_reminders"
	ProcessDueTasks   = "hourly.process_due_tasks"
	PurgeSessions     = "hourly.purge_sessions"
	AdvanceSessions   = "minutely.advance_sessions"
	UpdateStreaks     = "daily.update_streaks"
	Rollup            = "daily.rollup"
	ResetCounters     = "daily.reset_counters"
	Archive           = "daily.archive"
)

// TaskStore is what the task jobs need from the task store.
type TaskStore interface {
	ListDueForReminder(ctx context.Context, from, to time.Time) ([]*storage.Task, error)
	MarkReminderSent(ctx context.Context, id string) error
	MarkOverdue(ctx context.Context, now time.Time) (int, error)
	ListCompletedRecurring(ctx context.Context) ([]*storage.Task, error)
	CreateOccurrence(ctx context.Context, parent *storage.Task, dueAt time.Time) (*storage.Task, error)
	StopRecurring(ctx context.Context, id string) error
	ArchiveCompleted(ctx context.Context, before time.Time) (int, error)
	CountCompleted(ctx context.Context, userID string, from, to time.Time) (int, error)
}

// UserStore is what the scoring jobs need from the user store.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*storage.User, error)
	ListUsers(ctx context.Context) ([]*storage.User, error)
	UpdateStreak(ctx context.Context, id string, streak int, checkedOn time.Time) error
	CreditFocus(ctx context.Context, id string, credit storage.FocusCredit) error
	ResetDailyCounters(ctx context.Context) (int, error)
}

// SessionStore is what the session jobs need from the focus-session store.
type SessionStore interface {
	CreateSession(ctx context.Context, session *storage.FocusSession) error
	ListActive(ctx context.Context) ([]*storage.FocusSession, error)
	ListSessions(ctx context.Context, userID string, from, to time.Time) ([]*storage.FocusSession, error)
	ProcessedIDs(ctx context.Context, userID string) ([]string, error)
	CompleteSession(ctx context.Context, id string, endedAt time.Time, outcome storage.SessionOutcome) error
	ExpireStale(ctx context.Context, now time.Time, maxAge time.Duration) (int, error)
}

// RollupStore writes daily rollups.
type RollupStore interface {
	UpsertRollup(ctx context.Context, r *storage.DailyRollup) error
}

// Dispatcher enqueues notifications.
type Dispatcher interface {
	Enqueue(ctx context.Context, p notify.Payload, ch notify.Channel) (notify.Outcome, error)
}

// ExecutionPruner removes old execution records.
type ExecutionPruner interface {
	CleanupOldExecutions(ctx context.Context, before time.Time) (int, error)
}

// Settings tunes the job bodies.
type Settings struct {
	ReminderWindow     time.Duration // how far ahead reminders look
	SessionMaxAge      time.Duration // active sessions older than this are expired
	TaskRetention      time.Duration // completed tasks older than this are archived
	ExecutionRetention time.Duration // execution records older than this are deleted
	ShortBreakMinutes  int
	LongBreakMinutes   int
	LongBreakEvery     int // every Nth focus session of the day earns a long break
}

// DefaultSettings returns the production job settings.
func DefaultSettings() Settings {
	return Settings{
		ReminderWindow:     time.Hour,
		SessionMaxAge:      24 * time.Hour,
		TaskRetention:      30 * 24 * time.Hour,
		ExecutionRetention: 90 * 24 * time.Hour,
		ShortBreakMinutes:  5,
		LongBreakMinutes:   15,
		LongBreakEvery:     4,
	}
}

// Deps are the collaborators of the job bodies.
type Deps struct {
	Tasks      TaskStore
	Users      UserStore
	Sessions   SessionStore
	Rollups    RollupStore
	Notifier   Dispatcher
	Executions ExecutionPruner
	Engine     *score.Engine
	Clock      clock.Clock
	Logger     *zap.SugaredLogger
	Settings   Settings
}

type bodies struct {
	Deps
	log *zap.SugaredLogger
}

// Register adds every built-in job body to the registry.
func Register(reg *schedule.Registry, deps Deps) error {
	if deps.Tasks == nil || deps.Users == nil || deps.Sessions == nil ||
		deps.Rollups == nil || deps.Notifier == nil || deps.Executions == nil {
		return errors.NewInvalidRequestError("job dependencies are incomplete")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Engine == nil {
		deps.Engine = score.New(score.DefaultConfig(), deps.Clock, nil)
	}
	if deps.Logger == nil {
		deps.Logger = logger.ComponentLogger("jobs")
	}
	if deps.Settings == (Settings{}) {
		deps.Settings = DefaultSettings()
	}

	b := &bodies{Deps: deps, log: logger.AddPulseSymbol(deps.Logger)}
	handlers := map[string]schedule.Handler{
		ScheduleReminders: b.scheduleReminders,
		ProcessDueTasks:   b.processDueTasks,
		PurgeSessions:     b.purgeSessions,
		AdvanceSessions:   b.advanceSessions,
		UpdateStreaks:     b.updateStreaks,
		Rollup:            b.rollup,
		ResetCounters:     b.resetCounters,
		Archive:           b.archive,
	}
	for _, def := range DefaultDefinitions() {
		if err := reg.Register(def.ID, handlers[def.ID]); err != nil {
			return err
		}
	}
	return nil
}

// DefaultDefinitions lists the built-in jobs.
func DefaultDefinitions() []schedule.Definition {
	return []schedule.Definition{
		{ID: AdvanceSessions, Cadence: schedule.CadenceMinutely, Name: "Advance sessions",
			Description: "Close finished focus and break sessions, score focus time, start auto-breaks"},
		{ID: ScheduleReminders, Cadence: schedule.CadenceHourly, Name: "Schedule reminders",
			Description: "Queue reminders for tasks due within the next hour"},
		{ID: ProcessDueTasks, Cadence: schedule.CadenceHourly, Name: "Process due tasks",
			Description: "Flag overdue tasks and create the next occurrence of completed recurring tasks"},
		{ID: PurgeSessions, Cadence: schedule.CadenceHourly, Name: "Purge sessions",
			Description: "Expire sessions left active for more than a day"},
		{ID: UpdateStreaks, Cadence: schedule.CadenceDaily, Name: "Update streaks",
			Description: "Reset or keep every user's streak for the new day"},
		{ID: Rollup, Cadence: schedule.CadenceDaily, Name: "Daily rollup",
			Description: "Snapshot yesterday's activity and productivity score per user"},
		{ID: ResetCounters, Cadence: schedule.CadenceDaily, Name: "Reset counters",
			Description: "Zero per-day focus minutes and points"},
		{ID: Archive, Cadence: schedule.CadenceDaily, Name: "Archive",
			Description: "Archive old completed tasks and prune execution history"},
	}
}

// OperatorAlert returns a scheduler OnDisabled hook that queues a local
// operator notification.
func OperatorAlert(d Dispatcher, log *zap.SugaredLogger) func(ctx context.Context, job *schedule.Job) {
	return func(ctx context.Context, job *schedule.Job) {
		_, err := d.Enqueue(ctx, notify.Payload{
			Kind:  notify.KindOperator,
			Title: fmt.Sprintf("Job %s disabled", job.ID),
			Body: fmt.Sprintf("%s failed %d times in a row and will not run until re-enabled.",
				job.ID, job.ErrorCount),
		}, notify.ChannelLocal)
		if err != nil && log != nil {
			log.Errorw("Failed to queue operator alert", logger.FieldJobID, job.ID, logger.FieldError, err)
		}
	}
}

// channelsFor returns the channels a user has enabled.
func channelsFor(u *storage.User) []notify.Channel {
	var chs []notify.Channel
	if u.NotifyPush {
		chs = append(chs, notify.ChannelPush)
	}
	if u.NotifyEmail {
		chs = append(chs, notify.ChannelEmail)
	}
	if u.NotifyLocal {
		chs = append(chs, notify.ChannelLocal)
	}
	return chs
}

// failures collects per-item errors so one bad record does not stop a run,
// while the run as a whole still counts as failed.
type failures struct {
	first error
	count int
}

func (f *failures) add(err error) {
	if f.first == nil {
		f.first = err
	}
	f.count++
}

func (f *failures) err(total int, what string) error {
	if f.first == nil {
		return nil
	}
	return errors.Wrapf(f.first, "%d of %d %s failed", f.count, total, what)
}
