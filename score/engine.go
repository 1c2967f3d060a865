// Package score converts focus-session facts into points and streaks and
// screens client-reported sessions for tampering.
//
// Engine holds configuration and an injected clock only; every method is a
// pure function of its arguments and the current time, so one Engine may be
// shared by any number of job bodies.
package score

import (
	"time"

	"github.com/teranos/grove/internal/clock"
)

// Config carries the scoring policy knobs.
type Config struct {
	MinFocusMinutes     int           // below this a session earns nothing
	MaxPointsPerSession int           // minutes are capped at twice this value
	StreakBonus         float64       // multiplier added per streak day
	MaxMultiplier       float64       // hard cap on the streak multiplier
	MaxSessionMinutes   int           // longest plausible session
	MaxClockSkew        time.Duration // largest tolerated distance between startedAt and now
	LongSessionMinutes  int           // sessions at or above this grow two trees
}

// DefaultConfig returns the production scoring policy.
func DefaultConfig() Config {
	return Config{
		MinFocusMinutes:     1,
		MaxPointsPerSession: 1000,
		StreakBonus:         0.1,
		MaxMultiplier:       2.0,
		MaxSessionMinutes:   1440,
		MaxClockSkew:        24 * time.Hour,
		LongSessionMinutes:  50,
	}
}

// Engine evaluates points, streaks and session integrity.
type Engine struct {
	cfg    Config
	clock  clock.Clock
	hasher Hasher
}

// New creates an Engine. A nil clock uses the wall clock and a nil hasher
// uses the RollingHasher.
func New(cfg Config, clk clock.Clock, hasher Hasher) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	if hasher == nil {
		hasher = RollingHasher{}
	}
	return &Engine{cfg: cfg, clock: clk, hasher: hasher}
}

// Config returns the policy the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Hasher returns the session hash function in use.
func (e *Engine) Hasher() Hasher {
	return e.hasher
}
