package score

import (
	"fmt"
	"math"
)

// PointsCalculation is the audited result of scoring one session.
type PointsCalculation struct {
	BasePoints    int
	Multiplier    float64
	FinalPoints   int
	CappedMinutes int
	Breakdown     string
}

// CalculatePoints scores a focus session of focusMinutes for a user on a
// streakDays streak. Sessions under the configured minimum score zero.
func (e *Engine) CalculatePoints(focusMinutes, streakDays int) PointsCalculation {
	if focusMinutes < e.cfg.MinFocusMinutes {
		return PointsCalculation{
			Multiplier: 1.0,
			Breakdown:  fmt.Sprintf("%d min is below the %d min minimum: 0 points", focusMinutes, e.cfg.MinFocusMinutes),
		}
	}

	capped := focusMinutes
	if limit := 2 * e.cfg.MaxPointsPerSession; capped > limit {
		capped = limit
	}

	base := (capped + 1) / 2
	multiplier := e.Multiplier(streakDays)
	final := int(math.Round(float64(base) * multiplier))

	breakdown := fmt.Sprintf("%d base (%d min / 2) x %.1f streak multiplier = %d points", base, capped, multiplier, final)
	if capped != focusMinutes {
		breakdown += fmt.Sprintf(" [capped from %d min]", focusMinutes)
	}

	return PointsCalculation{
		BasePoints:    base,
		Multiplier:    multiplier,
		FinalPoints:   final,
		CappedMinutes: capped,
		Breakdown:     breakdown,
	}
}

// Multiplier returns the streak bonus for streakDays, capped at MaxMultiplier.
func (e *Engine) Multiplier(streakDays int) float64 {
	if streakDays < 0 {
		streakDays = 0
	}
	return math.Min(1+float64(streakDays)*e.cfg.StreakBonus, e.cfg.MaxMultiplier)
}

// TreeGrowth returns the trees grown by a completed focus session.
func (e *Engine) TreeGrowth(focusMinutes int) int {
	if focusMinutes >= e.cfg.LongSessionMinutes {
		return 2
	}
	return 1
}
