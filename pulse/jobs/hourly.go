package jobs

import (
	"context"
	"fmt"

	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/logger"
	"github.com/teranos/grove/notify"
	"github.com/teranos/grove/pulse/schedule"
	"github.com/teranos/grove/recur"
	"github.com/teranos/grove/storage"
)

// scheduleReminders queues a reminder on every enabled channel for tasks due
// within the reminder window. A task is marked reminded once at least one
// channel accepted it. The query reaches one window back, so a fully
// throttled task is retried on the next run even if it has come due since.
func (b *bodies) scheduleReminders(ctx context.Context, _ *schedule.Job) (string, error) {
	now := b.Clock.Now()
	window := b.Settings.ReminderWindow
	tasks, err := b.Tasks.ListDueForReminder(ctx, now.Add(-window), now.Add(window))
	if err != nil {
		return "", err
	}

	users := make(map[string]*storage.User)
	var fails failures
	sent, queued, throttled, silent := 0, 0, 0, 0

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		user, ok := users[task.UserID]
		if !ok {
			user, err = b.Users.GetUser(ctx, task.UserID)
			if err != nil {
				fails.add(err)
				continue
			}
			users[task.UserID] = user
		}

		channels := channelsFor(user)
		if len(channels) == 0 {
			silent++
			continue
		}

		payload := notify.Payload{
			UserID: user.ID,
			Kind:   notify.KindReminder,
			Title:  "Reminder: " + task.Title,
			Body:   fmt.Sprintf("Due at %s", task.DueAt.UTC().Format("15:04 MST")),
		}
		accepted := 0
		for _, ch := range channels {
			outcome, err := b.Notifier.Enqueue(ctx, payload, ch)
			if err != nil {
				fails.add(err)
				continue
			}
			if outcome == notify.OutcomeThrottled {
				throttled++
				continue
			}
			accepted++
		}
		if accepted == 0 {
			continue
		}
		queued += accepted

		if err := b.Tasks.MarkReminderSent(ctx, task.ID); err != nil {
			fails.add(err)
			continue
		}
		sent++
	}

	result := fmt.Sprintf("%d tasks reminded, %d notifications queued, %d throttled, %d without channels",
		sent, queued, throttled, silent)
	return result, fails.err(len(tasks), "reminders")
}

// processDueTasks flags overdue tasks and regenerates completed recurring
// tasks. A rule that no longer parses or has no next occurrence ends the
// series instead of being retried.
func (b *bodies) processDueTasks(ctx context.Context, _ *schedule.Job) (string, error) {
	now := b.Clock.Now()

	overdue, err := b.Tasks.MarkOverdue(ctx, now)
	if err != nil {
		return "", err
	}

	recurring, err := b.Tasks.ListCompletedRecurring(ctx)
	if err != nil {
		return "", err
	}

	var fails failures
	created, stopped := 0, 0
	for _, task := range recurring {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		from := now
		switch {
		case task.DueAt != nil:
			from = *task.DueAt
		case task.CompletedAt != nil:
			from = *task.CompletedAt
		}

		rule, ok := recur.Parse(task.Recurrence)
		if !ok {
			b.log.Warnw("Unparseable recurrence, ending series",
				logger.FieldTaskID, task.ID, "recurrence", task.Recurrence)
			if err := b.Tasks.StopRecurring(ctx, task.ID); err != nil {
				fails.add(err)
				continue
			}
			stopped++
			continue
		}

		due, ok := recur.NextOccurrence(rule, from)
		if !ok {
			b.log.Infow("Recurrence exhausted, ending series",
				logger.FieldTaskID, task.ID, "recurrence", task.Recurrence)
			if err := b.Tasks.StopRecurring(ctx, task.ID); err != nil {
				fails.add(err)
				continue
			}
			stopped++
			continue
		}

		if _, err := b.Tasks.CreateOccurrence(ctx, task, due); err != nil {
			if errors.Is(err, errors.ErrConflict) {
				continue
			}
			fails.add(err)
			continue
		}
		created++
	}

	result := fmt.Sprintf("%d tasks overdue, %d occurrences created, %d series ended", overdue, created, stopped)
	return result, fails.err(len(recurring), "recurring tasks")
}

// purgeSessions expires sessions that were never closed.
func (b *bodies) purgeSessions(ctx context.Context, _ *schedule.Job) (string, error) {
	n, err := b.Sessions.ExpireStale(ctx, b.Clock.Now(), b.Settings.SessionMaxAge)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d sessions expired", n), nil
}
