package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/internal/clock"
	"github.com/teranos/grove/logger"
	"github.com/teranos/grove/notify"
	"github.com/teranos/grove/pulse/schedule"
	"github.com/teranos/grove/score"
	"github.com/teranos/grove/storage"
)

// updateStreaks evaluates every user's streak for today. Users already
// evaluated today are skipped, so a manual re-trigger changes nothing.
func (b *bodies) updateStreaks(ctx context.Context, _ *schedule.Job) (string, error) {
	today := clock.StartOfDay(b.Clock.Now())
	users, err := b.Users.ListUsers(ctx)
	if err != nil {
		return "", err
	}

	var fails failures
	checked, reset, skipped := 0, 0, 0
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if user.StreakCheckedOn != nil && clock.SameDay(today, *user.StreakCheckedOn) {
			skipped++
			continue
		}

		result := score.CalculateStreak(user.Streak, user.LastFocusDate, today)
		if err := b.Users.UpdateStreak(ctx, user.ID, result.NewStreak, today); err != nil {
			fails.add(err)
			continue
		}
		checked++
		if result.IsReset {
			reset++
			b.log.Debugw("Streak reset", logger.FieldUserID, user.ID, "previous", user.Streak)
		}
	}

	result := fmt.Sprintf("%d users checked, %d streaks reset, %d already checked today", checked, reset, skipped)
	return result, fails.err(len(users), "users")
}

// rollup snapshots the previous calendar day for every user. Rollups are
// upserted by (user, date), so re-running the job overwrites instead of
// duplicating.
func (b *bodies) rollup(ctx context.Context, _ *schedule.Job) (string, error) {
	dayEnd := clock.StartOfDay(b.Clock.Now())
	dayStart := dayEnd.AddDate(0, 0, -1)
	date := db.FormatDate(dayStart)

	users, err := b.Users.ListUsers(ctx)
	if err != nil {
		return "", err
	}

	var fails failures
	written, summaries, throttled := 0, 0, 0
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		r, err := b.buildRollup(ctx, user, dayStart, dayEnd)
		if err != nil {
			fails.add(err)
			continue
		}
		r.Date = date
		if err := b.Rollups.UpsertRollup(ctx, r); err != nil {
			fails.add(err)
			continue
		}
		written++

		if user.DailySummary {
			q, th := b.sendSummary(ctx, user, r)
			summaries += q
			throttled += th
		}
	}

	result := fmt.Sprintf("%d rollups for %s, %d summaries queued, %d throttled", written, date, summaries, throttled)
	return result, fails.err(len(users), "rollups")
}

func (b *bodies) buildRollup(ctx context.Context, user *storage.User, from, to time.Time) (*storage.DailyRollup, error) {
	sessions, err := b.Sessions.ListSessions(ctx, user.ID, from, to)
	if err != nil {
		return nil, err
	}
	completed, err := b.Tasks.CountCompleted(ctx, user.ID, from, to)
	if err != nil {
		return nil, err
	}

	r := &storage.DailyRollup{
		UserID:         user.ID,
		CompletedTasks: completed,
		Streak:         user.Streak,
	}
	for _, s := range sessions {
		if s.Mode != storage.ModeFocus || s.Status != storage.SessionCompleted || s.Rejected {
			continue
		}
		r.FocusSessions++
		r.FocusMinutes += s.PlannedMinutes
		r.PointsEarned += s.PointsAwarded
		r.TreesPlanted += s.TreesGrown
	}
	r.ProductivityScore = score.ProductivityScore(score.DayStats{
		FocusMinutes:   r.FocusMinutes,
		FocusSessions:  r.FocusSessions,
		CompletedTasks: r.CompletedTasks,
		Streak:         r.Streak,
	})
	return r, nil
}

// sendSummary queues the day's summary on every channel of user and reports
// how many were queued and how many the rate limit dropped.
func (b *bodies) sendSummary(ctx context.Context, user *storage.User, r *storage.DailyRollup) (queued, throttled int) {
	payload := notify.Payload{
		UserID: user.ID,
		Kind:   notify.KindSummary,
		Title:  fmt.Sprintf("Your day: %d/100", r.ProductivityScore),
		Body: fmt.Sprintf("%d min focused in %d sessions, %d tasks done, %d points, streak %d (next milestone %d).",
			r.FocusMinutes, r.FocusSessions, r.CompletedTasks, r.PointsEarned, r.Streak,
			score.NextStreakMilestone(r.Streak)),
	}
	for _, ch := range channelsFor(user) {
		outcome, err := b.Notifier.Enqueue(ctx, payload, ch)
		if err != nil {
			b.log.Warnw("Failed to queue daily summary",
				logger.FieldUserID, user.ID, "channel", string(ch), logger.FieldError, err)
			continue
		}
		switch outcome {
		case notify.OutcomeQueued:
			queued++
		case notify.OutcomeThrottled:
			throttled++
			b.log.Warnw("Daily summary throttled",
				logger.FieldUserID, user.ID, "channel", string(ch), "date", r.Date)
		}
	}
	return queued, throttled
}

// resetCounters zeroes per-day counters for every user.
func (b *bodies) resetCounters(ctx context.Context, _ *schedule.Job) (string, error) {
	n, err := b.Users.ResetDailyCounters(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d users reset", n), nil
}

// archive archives old completed tasks and prunes execution history.
func (b *bodies) archive(ctx context.Context, _ *schedule.Job) (string, error) {
	now := b.Clock.Now()

	tasks, err := b.Tasks.ArchiveCompleted(ctx, now.Add(-b.Settings.TaskRetention))
	if err != nil {
		return "", err
	}
	execs, err := b.Executions.CleanupOldExecutions(ctx, now.Add(-b.Settings.ExecutionRetention))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d tasks archived, %d executions pruned", tasks, execs), nil
}
