package am

import (
	"github.com/robfig/cron/v3"

	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/pulse/schedule"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Scheduler
	if _, err := schedule.ParseAlignment(c.Scheduler.Alignment); err != nil {
		return errors.Wrap(err, "scheduler.alignment")
	}
	if c.Scheduler.ExecutionTimeoutSeconds < 0 {
		return errors.Newf("scheduler.execution_timeout_seconds must be >= 0, got %d", c.Scheduler.ExecutionTimeoutSeconds)
	}
	if c.Scheduler.MaxRetries < 0 {
		return errors.Newf("scheduler.max_retries must be >= 0, got %d", c.Scheduler.MaxRetries)
	}
	for _, id := range c.Scheduler.JobIDs() {
		jc, _ := c.Scheduler.Job(id)
		if jc.Schedule != "" {
			if _, err := cron.ParseStandard(jc.Schedule); err != nil {
				return errors.WithHint(
					errors.Wrapf(err, "scheduler.jobs.%s.schedule %q", id, jc.Schedule),
					"use a five-field cron expression such as \"0 2 * * *\"")
			}
		}
		if jc.MaxRetries != nil && *jc.MaxRetries < 0 {
			return errors.Newf("scheduler.jobs.%s.max_retries must be >= 0, got %d", id, *jc.MaxRetries)
		}
	}

	// Scoring: zero means zero, negative is invalid
	if c.Scoring.MinFocusMinutes < 0 {
		return errors.Newf("scoring.min_focus_minutes must be >= 0, got %d", c.Scoring.MinFocusMinutes)
	}
	if c.Scoring.MaxPointsPerSession <= 0 {
		return errors.Newf("scoring.max_points_per_session must be > 0, got %d", c.Scoring.MaxPointsPerSession)
	}
	if c.Scoring.StreakBonus < 0 {
		return errors.Newf("scoring.streak_bonus must be >= 0, got %f", c.Scoring.StreakBonus)
	}
	if c.Scoring.MaxMultiplier < 1 {
		return errors.Newf("scoring.max_multiplier must be >= 1, got %f", c.Scoring.MaxMultiplier)
	}
	if c.Scoring.LongSessionMinutes <= 0 {
		return errors.Newf("scoring.long_session_minutes must be > 0, got %d", c.Scoring.LongSessionMinutes)
	}

	// Integrity
	if c.Integrity.MaxSessionMinutes <= 0 {
		return errors.Newf("integrity.max_session_minutes must be > 0, got %d", c.Integrity.MaxSessionMinutes)
	}
	if c.Integrity.MaxClockSkewHours <= 0 {
		return errors.Newf("integrity.max_clock_skew_hours must be > 0, got %d", c.Integrity.MaxClockSkewHours)
	}

	// Notify: zero rate blocks everything after the burst, which is legal
	if c.Notify.RatePerMinute < 0 {
		return errors.Newf("notify.rate_per_minute must be >= 0, got %f", c.Notify.RatePerMinute)
	}
	if c.Notify.Burst < 0 {
		return errors.Newf("notify.burst must be >= 0, got %d", c.Notify.Burst)
	}

	// Retention
	if c.Retention.TaskDays <= 0 {
		return errors.Newf("retention.task_days must be > 0, got %d", c.Retention.TaskDays)
	}
	if c.Retention.ExecutionDays <= 0 {
		return errors.Newf("retention.execution_days must be > 0, got %d", c.Retention.ExecutionDays)
	}
	if c.Retention.SessionHours <= 0 {
		return errors.Newf("retention.session_hours must be > 0, got %d", c.Retention.SessionHours)
	}

	// Sessions
	if c.Sessions.ReminderWindowMinutes <= 0 {
		return errors.Newf("sessions.reminder_window_minutes must be > 0, got %d", c.Sessions.ReminderWindowMinutes)
	}
	if c.Sessions.ShortBreakMinutes < 0 || c.Sessions.LongBreakMinutes < 0 {
		return errors.New("sessions break lengths must be >= 0")
	}
	if c.Sessions.LongBreakEvery < 0 {
		return errors.Newf("sessions.long_break_every must be >= 0, got %d", c.Sessions.LongBreakEvery)
	}

	return nil
}
