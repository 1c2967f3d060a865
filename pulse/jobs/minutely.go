package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/internal/clock"
	"github.com/teranos/grove/logger"
	"github.com/teranos/grove/notify"
	"github.com/teranos/grove/pulse/schedule"
	"github.com/teranos/grove/score"
	"github.com/teranos/grove/storage"
)

type advanceTally struct {
	credited, rejected, breaksDone, breaksStarted int
}

// advanceSessions closes every active session whose planned end has passed.
// Focus sessions are validated, then scored; rejected sessions are closed
// with no points. Breaks simply complete.
func (b *bodies) advanceSessions(ctx context.Context, _ *schedule.Job) (string, error) {
	now := b.Clock.Now()
	active, err := b.Sessions.ListActive(ctx)
	if err != nil {
		return "", err
	}

	users := make(map[string]*storage.User)
	processed := make(map[string]score.IDSet)
	var tally advanceTally
	var fails failures
	due := 0

	for _, session := range active {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		end := session.PlannedEnd()
		if now.Before(end) {
			continue
		}
		due++

		if session.IsBreak() {
			if err := b.Sessions.CompleteSession(ctx, session.ID, end, storage.SessionOutcome{}); err != nil {
				fails.add(err)
				continue
			}
			tally.breaksDone++
			continue
		}

		if err := b.finishFocus(ctx, session, users, processed, &tally); err != nil {
			fails.add(err)
		}
	}

	result := fmt.Sprintf("%d focus sessions credited, %d rejected, %d breaks completed, %d breaks started",
		tally.credited, tally.rejected, tally.breaksDone, tally.breaksStarted)
	return result, fails.err(due, "sessions")
}

func (b *bodies) finishFocus(
	ctx context.Context,
	session *storage.FocusSession,
	users map[string]*storage.User,
	processed map[string]score.IDSet,
	tally *advanceTally,
) error {
	user, ok := users[session.UserID]
	if !ok {
		var err error
		if user, err = b.Users.GetUser(ctx, session.UserID); err != nil {
			return err
		}
		users[session.UserID] = user
	}

	seen, ok := processed[user.ID]
	if !ok {
		ids, err := b.Sessions.ProcessedIDs(ctx, user.ID)
		if err != nil {
			return err
		}
		seen = score.NewIDSet(ids...)
		processed[user.ID] = seen
	}

	end := session.PlannedEnd()
	log := b.log.With(logger.FieldSessionID, session.ID, logger.FieldUserID, user.ID)

	verdict := b.Engine.ValidateSession(score.SessionClaim{
		SessionID:    session.ID,
		StartedAt:    session.StartedAt,
		FocusMinutes: session.PlannedMinutes,
		Hash:         session.Hash,
	}, seen)
	if !verdict.Valid {
		log.Warnw("Session rejected", logger.FieldReason, verdict.Reason, "flags", verdict.Flags)
		outcome := storage.SessionOutcome{Rejected: true, RejectReason: verdict.Reason}
		if err := b.Sessions.CompleteSession(ctx, session.ID, end, outcome); err != nil {
			return err
		}
		seen.Add(session.ID)
		tally.rejected++
		return nil
	}

	streak := score.ApplyFocus(user.Streak, user.LastFocusDate, end)
	points := b.Engine.CalculatePoints(session.PlannedMinutes, user.Streak)
	trees := 0
	if points.FinalPoints > 0 {
		trees = b.Engine.TreeGrowth(session.PlannedMinutes)
	}

	// Closing the session first makes a second credit impossible: only an
	// active session can be completed.
	outcome := storage.SessionOutcome{Points: points.FinalPoints, Trees: trees}
	if err := b.Sessions.CompleteSession(ctx, session.ID, end, outcome); err != nil {
		return err
	}
	seen.Add(session.ID)

	credit := storage.FocusCredit{
		Points:    points.FinalPoints,
		Trees:     trees,
		Minutes:   session.PlannedMinutes,
		Streak:    streak.NewStreak,
		FocusDate: *streak.LastFocusDate,
	}
	if err := b.Users.CreditFocus(ctx, user.ID, credit); err != nil {
		return errors.Wrapf(err, "session %s closed but not credited", session.ID)
	}
	user.Streak = streak.NewStreak
	user.LastFocusDate = streak.LastFocusDate
	user.TotalPoints += points.FinalPoints
	tally.credited++

	log.Infow("Focus session credited",
		"points", points.FinalPoints,
		"breakdown", points.Breakdown,
		"streak", streak.NewStreak)

	if user.NotifyLocal {
		body := fmt.Sprintf("+%d points. %s", points.FinalPoints, points.Breakdown)
		if next := score.NextPointsMilestone(user.TotalPoints); next > user.TotalPoints {
			body += fmt.Sprintf(" Next milestone: %d.", next)
		}
		if _, err := b.Notifier.Enqueue(ctx, notify.Payload{
			UserID: user.ID,
			Kind:   notify.KindSession,
			Title:  "Focus session complete",
			Body:   body,
		}, notify.ChannelLocal); err != nil {
			log.Warnw("Failed to queue session notification", logger.FieldError, err)
		}
	}

	if user.AutoBreak {
		if err := b.startBreak(ctx, user, end); err != nil {
			return err
		}
		tally.breaksStarted++
	}
	return nil
}

// startBreak opens a break after a focus session. Every LongBreakEvery-th
// credited focus session of the day earns a long break.
func (b *bodies) startBreak(ctx context.Context, user *storage.User, at time.Time) error {
	dayStart := clock.StartOfDay(at)
	sessions, err := b.Sessions.ListSessions(ctx, user.ID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	focused := 0
	for _, s := range sessions {
		if s.Mode == storage.ModeFocus && s.Status == storage.SessionCompleted && !s.Rejected {
			focused++
		}
	}

	mode, minutes := storage.ModeShortBreak, b.Settings.ShortBreakMinutes
	if every := b.Settings.LongBreakEvery; every > 0 && focused > 0 && focused%every == 0 {
		mode, minutes = storage.ModeLongBreak, b.Settings.LongBreakMinutes
	}

	return b.Sessions.CreateSession(ctx, &storage.FocusSession{
		UserID:         user.ID,
		Mode:           mode,
		StartedAt:      at,
		PlannedMinutes: minutes,
	})
}
