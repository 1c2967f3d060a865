// Package am loads grove configuration.
//
// Settings are merged from built-in defaults, /etc/grove/am.toml,
// ~/.grove/am.toml, ~/.grove/am_overrides.toml (written by the CLI), the
// nearest project am.toml and finally GROVE_* environment variables.
package am

import (
	"sort"
	"strings"
	"time"
)

// Config represents the core grove configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Integrity IntegrityConfig `mapstructure:"integrity"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Retention RetentionConfig `mapstructure:"retention"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig configures the background job scheduler
type SchedulerConfig struct {
	Alignment               string                          `mapstructure:"alignment"`                 // interval (default) or calendar
	ExecutionTimeoutSeconds int                             `mapstructure:"execution_timeout_seconds"` // per-run deadline (default: 600)
	MaxRetries              int                             `mapstructure:"max_retries"`               // consecutive failures before a job is disabled (default: 3)
	MetricsAddr             string                          `mapstructure:"metrics_addr"`              // empty = no /metrics listener
	Jobs                    map[string]map[string]JobConfig `mapstructure:"jobs"`                      // cadence -> name -> override, i.e. scheduler.jobs.daily.rollup
}

// JobConfig overrides a single built-in job.
// Nil fields leave the built-in definition untouched.
type JobConfig struct {
	Enabled    *bool  `mapstructure:"enabled"`
	Schedule   string `mapstructure:"schedule"`
	MaxRetries *int   `mapstructure:"max_retries"`
}

// ScoringConfig configures points and tree growth
type ScoringConfig struct {
	MinFocusMinutes     int     `mapstructure:"min_focus_minutes"`      // below this a session earns nothing (default: 1)
	MaxPointsPerSession int     `mapstructure:"max_points_per_session"` // minutes capped at twice this (default: 1000)
	StreakBonus         float64 `mapstructure:"streak_bonus"`           // multiplier per streak day (default: 0.1)
	MaxMultiplier       float64 `mapstructure:"max_multiplier"`         // multiplier cap (default: 2.0)
	LongSessionMinutes  int     `mapstructure:"long_session_minutes"`   // two trees at or above this (default: 50)
}

// IntegrityConfig configures session anti-cheat validation
type IntegrityConfig struct {
	Secret            string `mapstructure:"secret"`               // set = HMAC-SHA256, empty = legacy rolling hash
	MaxSessionMinutes int    `mapstructure:"max_session_minutes"`  // longest plausible session (default: 1440)
	MaxClockSkewHours int    `mapstructure:"max_clock_skew_hours"` // tolerated start-time distance (default: 24)
}

// NotifyConfig configures the notification outbox
type NotifyConfig struct {
	RatePerMinute float64 `mapstructure:"rate_per_minute"` // sustained enqueue rate per channel (default: 60)
	Burst         int     `mapstructure:"burst"`           // per-channel burst (default: 20)
}

// RetentionConfig configures cleanup windows used by the archive job
type RetentionConfig struct {
	TaskDays      int `mapstructure:"task_days"`      // completed tasks archived after (default: 30)
	ExecutionDays int `mapstructure:"execution_days"` // execution history pruned after (default: 90)
	SessionHours  int `mapstructure:"session_hours"`  // active sessions expired after (default: 24)
}

// SessionsConfig configures automatic breaks and reminders
type SessionsConfig struct {
	ReminderWindowMinutes int `mapstructure:"reminder_window_minutes"` // default: 60
	ShortBreakMinutes     int `mapstructure:"short_break_minutes"`     // default: 5
	LongBreakMinutes      int `mapstructure:"long_break_minutes"`      // default: 15
	LongBreakEvery        int `mapstructure:"long_break_every"`        // default: 4
}

// ExecutionTimeout returns the per-run deadline.
func (c SchedulerConfig) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutSeconds) * time.Second
}

// Job returns the override configured for a job ID such as "daily.rollup".
// Job IDs contain a dot, so overrides nest one level per ID segment.
func (c SchedulerConfig) Job(id string) (JobConfig, bool) {
	cadence, name, found := strings.Cut(id, ".")
	if !found {
		return JobConfig{}, false
	}
	jc, ok := c.Jobs[cadence][name]
	return jc, ok
}

// JobEnabled reports the enabled override for a job, if one is configured.
func (c SchedulerConfig) JobEnabled(id string) (enabled bool, ok bool) {
	jc, found := c.Job(id)
	if !found || jc.Enabled == nil {
		return false, false
	}
	return *jc.Enabled, true
}

// JobIDs lists every job ID that carries an override, sorted.
func (c SchedulerConfig) JobIDs() []string {
	var ids []string
	for cadence, jobs := range c.Jobs {
		for name := range jobs {
			ids = append(ids, cadence+"."+name)
		}
	}
	sort.Strings(ids)
	return ids
}

// File system constants
const (
	DefaultDirPermissions  = 0750
	DefaultFilePermissions = 0644
)
