package score

import (
	"time"

	"github.com/teranos/grove/internal/clock"
)

// StreakResult is the outcome of one streak transition.
type StreakResult struct {
	NewStreak     int
	IsExtended    bool
	IsMaintained  bool
	IsReset       bool
	LastFocusDate *time.Time
}

// CalculateStreak evaluates a user's streak on today without recording new
// focus. Calling it repeatedly on the same day with the same inputs always
// yields the same result.
//
//	focused today, streak 0     -> extended to 1
//	focused today, streak > 0   -> maintained (already counted)
//	focused yesterday           -> maintained (grace period)
//	older focus, streak > 0     -> reset to 0
//	otherwise                   -> 0
func CalculateStreak(currentStreak int, lastFocusDate *time.Time, today time.Time) StreakResult {
	focusedToday, focusedYesterday := focusDays(lastFocusDate, today)
	result := StreakResult{NewStreak: currentStreak, LastFocusDate: lastFocusDate}

	switch {
	case focusedToday && currentStreak == 0:
		result.NewStreak = 1
		result.IsExtended = true
	case focusedToday:
		result.IsMaintained = true
	case focusedYesterday:
		result.IsMaintained = true
	case currentStreak > 0:
		result.NewStreak = 0
		result.IsReset = true
	default:
		result.NewStreak = 0
	}
	return result
}

// ApplyFocus records focus on today. It extends the streak when the last
// focus was yesterday, restarts it at 1 after a gap, and leaves it untouched
// when today was already counted.
func ApplyFocus(currentStreak int, lastFocusDate *time.Time, today time.Time) StreakResult {
	focusedToday, focusedYesterday := focusDays(lastFocusDate, today)
	day := clock.StartOfDay(today)

	switch {
	case focusedToday:
		return StreakResult{NewStreak: currentStreak, IsMaintained: true, LastFocusDate: lastFocusDate}
	case focusedYesterday:
		return StreakResult{NewStreak: currentStreak + 1, IsExtended: true, LastFocusDate: &day}
	default:
		return StreakResult{NewStreak: 1, IsExtended: true, IsReset: currentStreak > 0, LastFocusDate: &day}
	}
}

// CalculateStreak is the Engine form of the package function, using the
// engine clock for today.
func (e *Engine) CalculateStreak(currentStreak int, lastFocusDate *time.Time) StreakResult {
	return CalculateStreak(currentStreak, lastFocusDate, e.clock.Now())
}

// ApplyFocus is the Engine form of the package function.
func (e *Engine) ApplyFocus(currentStreak int, lastFocusDate *time.Time) StreakResult {
	return ApplyFocus(currentStreak, lastFocusDate, e.clock.Now())
}

func focusDays(lastFocusDate *time.Time, today time.Time) (focusedToday, focusedYesterday bool) {
	if lastFocusDate == nil {
		return false, false
	}
	yesterday := clock.StartOfDay(today).AddDate(0, 0, -1)
	return clock.SameDay(today, *lastFocusDate), clock.SameDay(yesterday, *lastFocusDate)
}
