package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/teranos/grove/notify"
	"github.com/teranos/grove/pulse/jobs"
	"github.com/teranos/grove/pulse/schedule"
	"github.com/teranos/grove/score"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "grove.db")

	// Scheduler defaults
	v.SetDefault("scheduler.alignment", string(schedule.AlignInterval))
	v.SetDefault("scheduler.execution_timeout_seconds", int(schedule.DefaultExecutionTimeout/time.Second))
	v.SetDefault("scheduler.max_retries", schedule.DefaultMaxRetries)
	v.SetDefault("scheduler.metrics_addr", "")

	// Scoring defaults
	scoring := score.DefaultConfig()
	v.SetDefault("scoring.min_focus_minutes", scoring.MinFocusMinutes)
	v.SetDefault("scoring.max_points_per_session", scoring.MaxPointsPerSession)
	v.SetDefault("scoring.streak_bonus", scoring.StreakBonus)
	v.SetDefault("scoring.max_multiplier", scoring.MaxMultiplier)
	v.SetDefault("scoring.long_session_minutes", scoring.LongSessionMinutes)

	// Integrity defaults (empty secret keeps the legacy rolling hash)
	v.SetDefault("integrity.secret", "")
	v.SetDefault("integrity.max_session_minutes", scoring.MaxSessionMinutes)
	v.SetDefault("integrity.max_clock_skew_hours", int(scoring.MaxClockSkew/time.Hour))

	// Notification outbox defaults
	n := notify.DefaultConfig()
	v.SetDefault("notify.rate_per_minute", n.RatePerMinute)
	v.SetDefault("notify.burst", n.Burst)

	// Retention defaults
	s := jobs.DefaultSettings()
	v.SetDefault("retention.task_days", int(s.TaskRetention/(24*time.Hour)))
	v.SetDefault("retention.execution_days", int(s.ExecutionRetention/(24*time.Hour)))
	v.SetDefault("retention.session_hours", int(s.SessionMaxAge/time.Hour))

	// Session defaults
	v.SetDefault("sessions.reminder_window_minutes", int(s.ReminderWindow/time.Minute))
	v.SetDefault("sessions.short_break_minutes", s.ShortBreakMinutes)
	v.SetDefault("sessions.long_break_minutes", s.LongBreakMinutes)
	v.SetDefault("sessions.long_break_every", s.LongBreakEvery)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("integrity.secret", "GROVE_INTEGRITY_SECRET")
	v.BindEnv("database.path", "GROVE_DATABASE_PATH", "DB_PATH")
	v.BindEnv("scheduler.metrics_addr", "GROVE_METRICS_ADDR")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "grove.db"
	}
	return c.Database.Path
}

// ScorePolicy returns the scoring engine configuration.
func (c *Config) ScorePolicy() score.Config {
	return score.Config{
		MinFocusMinutes:     c.Scoring.MinFocusMinutes,
		MaxPointsPerSession: c.Scoring.MaxPointsPerSession,
		StreakBonus:         c.Scoring.StreakBonus,
		MaxMultiplier:       c.Scoring.MaxMultiplier,
		MaxSessionMinutes:   c.Integrity.MaxSessionMinutes,
		MaxClockSkew:        time.Duration(c.Integrity.MaxClockSkewHours) * time.Hour,
		LongSessionMinutes:  c.Scoring.LongSessionMinutes,
	}
}

// Hasher returns the session hash function selected by integrity.secret.
func (c *Config) Hasher() score.Hasher {
	return score.HasherFor(c.Integrity.Secret)
}

// NotifyPolicy returns the dispatcher rate limits.
func (c *Config) NotifyPolicy() notify.Config {
	return notify.Config{
		RatePerMinute: c.Notify.RatePerMinute,
		Burst:         c.Notify.Burst,
	}
}

// JobSettings returns the tunables shared by the built-in job bodies.
func (c *Config) JobSettings() jobs.Settings {
	return jobs.Settings{
		ReminderWindow:     time.Duration(c.Sessions.ReminderWindowMinutes) * time.Minute,
		SessionMaxAge:      time.Duration(c.Retention.SessionHours) * time.Hour,
		TaskRetention:      time.Duration(c.Retention.TaskDays) * 24 * time.Hour,
		ExecutionRetention: time.Duration(c.Retention.ExecutionDays) * 24 * time.Hour,
		ShortBreakMinutes:  c.Sessions.ShortBreakMinutes,
		LongBreakMinutes:   c.Sessions.LongBreakMinutes,
		LongBreakEvery:     c.Sessions.LongBreakEvery,
	}
}

// SchedulerOptions returns the scheduler options carried by the config.
// Clock, logger, metrics and hooks are wired by the caller.
func (c *Config) SchedulerOptions() (schedule.Options, error) {
	alignment, err := schedule.ParseAlignment(c.Scheduler.Alignment)
	if err != nil {
		return schedule.Options{}, err
	}
	return schedule.Options{
		Alignment:        alignment,
		ExecutionTimeout: c.Scheduler.ExecutionTimeout(),
	}, nil
}

// ApplyDefinitions layers the configured per-job overrides and the global
// retry limit onto job definitions. The input slice is not modified.
func (c *Config) ApplyDefinitions(defs []schedule.Definition) []schedule.Definition {
	out := make([]schedule.Definition, len(defs))
	for i, def := range defs {
		if def.MaxRetries == 0 {
			def.MaxRetries = c.Scheduler.MaxRetries
		}
		if jc, ok := c.Scheduler.Job(def.ID); ok {
			if jc.Schedule != "" {
				def.Schedule = jc.Schedule
			}
			if jc.MaxRetries != nil {
				def.MaxRetries = *jc.MaxRetries
			}
			if jc.Enabled != nil {
				def.Disabled = !*jc.Enabled
			}
		}
		out[i] = def
	}
	return out
}

// String returns a string representation of the config
func (c *Config) String() string {
	secret := "unset"
	if c.Integrity.Secret != "" {
		secret = "set"
	}
	return fmt.Sprintf("Config{Database: %s, Scheduler: {Alignment: %s, Timeout: %ds}, Integrity: {Secret: %s}}",
		c.Database.Path, c.Scheduler.Alignment, c.Scheduler.ExecutionTimeoutSeconds, secret)
}
