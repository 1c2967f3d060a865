package recur

import (
	"time"
)

// NextOccurrence returns the first occurrence of rule strictly after from.
// Each search walks at most MaxIterations periods of the rule's frequency and
// reports false when none matches, when Until has been passed, or when the
// rule's Count is exhausted.
func NextOccurrence(rule Rule, from time.Time) (time.Time, bool) {
	if rule.Count <= 0 {
		return rule.next(from)
	}

	// Count numbers occurrences from Start, so they are walked in order.
	prev := rule.Start.Add(-time.Nanosecond)
	for n := 0; n < rule.Count; n++ {
		occ, ok := rule.next(prev)
		if !ok {
			return time.Time{}, false
		}
		if occ.After(from) {
			return occ, true
		}
		prev = occ
	}
	return time.Time{}, false
}

// GenerateOccurrences lists up to count occurrences starting at the rule's
// Start. The rule's own Count, when set, caps the result further.
func GenerateOccurrences(rule Rule, count int) []time.Time {
	limit := count
	if rule.Count > 0 && rule.Count < limit {
		limit = rule.Count
	}
	if limit <= 0 {
		return nil
	}

	out := make([]time.Time, 0, min(limit, 64))
	prev := rule.Start.Add(-time.Nanosecond)
	for len(out) < limit {
		occ, ok := rule.next(prev)
		if !ok {
			break
		}
		out = append(out, occ)
		prev = occ
	}
	return out
}

// next ignores Count.
func (r Rule) next(from time.Time) (time.Time, bool) {
	loc := r.Start.Location()
	from = from.In(loc)
	step := r.interval()

	first := r.periodOf(from)
	if first < 0 {
		first = 0
	}
	if rem := first % step; rem != 0 {
		first += step - rem
	}

	for i := 0; i < MaxIterations; i++ {
		period := first + i*step
		for _, day := range r.candidates(period) {
			occ := time.Date(day.Year(), day.Month(), day.Day(),
				r.Start.Hour(), r.Start.Minute(), r.Start.Second(), r.Start.Nanosecond(), loc)
			if !occ.After(from) || occ.Before(r.Start) {
				continue
			}
			if r.Until != nil && occ.After(*r.Until) {
				return time.Time{}, false
			}
			return occ, true
		}
		if r.Until != nil && r.periodStart(period).After(*r.Until) {
			return time.Time{}, false
		}
	}
	return time.Time{}, false
}

// periodOf returns the index of the period containing t, counted from the
// period containing Start.
func (r Rule) periodOf(t time.Time) int {
	switch r.Frequency {
	case Weekly:
		return floorDiv(daysBetween(weekStart(r.Start), t), 7)
	case Monthly:
		return (t.Year()-r.Start.Year())*12 + int(t.Month()) - int(r.Start.Month())
	case Yearly:
		return t.Year() - r.Start.Year()
	default:
		return daysBetween(r.Start, t)
	}
}

func (r Rule) periodStart(period int) time.Time {
	s := r.Start
	switch r.Frequency {
	case Weekly:
		return weekStart(s).AddDate(0, 0, 7*period)
	case Monthly:
		return time.Date(s.Year(), s.Month()+time.Month(period), 1, 0, 0, 0, 0, s.Location())
	case Yearly:
		return time.Date(s.Year()+period, time.January, 1, 0, 0, 0, 0, s.Location())
	default:
		return dateOf(s).AddDate(0, 0, period)
	}
}

// candidates lists the matching days of one period in ascending order.
func (r Rule) candidates(period int) []time.Time {
	start := r.periodStart(period)
	var days []time.Time

	switch r.Frequency {
	case Weekly:
		for i := 0; i < 7; i++ {
			day := start.AddDate(0, 0, i)
			if len(r.ByDay) == 0 && day.Weekday() != r.Start.Weekday() {
				continue
			}
			if r.matches(day) {
				days = append(days, day)
			}
		}
	case Monthly:
		days = r.monthDays(start)
	case Yearly:
		months := r.ByMonth
		if len(months) == 0 {
			months = []time.Month{r.Start.Month()}
		}
		for _, m := range normalize(months) {
			first := time.Date(start.Year(), m, 1, 0, 0, 0, 0, start.Location())
			days = append(days, r.monthDays(first)...)
		}
	default:
		if r.matches(start) {
			days = append(days, start)
		}
	}
	return days
}

// monthDays lists the matching days of the month beginning at first.
// Without BYMONTHDAY or BYDAY the month contributes Start's day of month,
// which short months skip.
func (r Rule) monthDays(first time.Time) []time.Time {
	var days []time.Time
	n := daysIn(first)

	if len(r.ByMonthDay) == 0 && len(r.ByDay) == 0 {
		if d := r.Start.Day(); d <= n {
			day := first.AddDate(0, 0, d-1)
			if r.matches(day) {
				days = append(days, day)
			}
		}
		return days
	}
	for d := 1; d <= n; d++ {
		day := first.AddDate(0, 0, d-1)
		if r.matches(day) {
			days = append(days, day)
		}
	}
	return days
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func weekStart(t time.Time) time.Time {
	return dateOf(t).AddDate(0, 0, -int(t.Weekday()))
}

func daysIn(first time.Time) int {
	return time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// daysBetween counts calendar days from a to b, ignoring time of day and
// DST shifts.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int((ub.Unix() - ua.Unix()) / 86400)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
