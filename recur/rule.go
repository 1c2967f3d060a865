// Package recur turns repeat rules on tasks into due dates.
//
// A rule string is a semicolon-delimited list of KEY=VALUE pairs:
//
//	FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;DTSTART=2026-01-05
//
// Parse is lenient by contract: a missing or unreadable FREQ or DTSTART yields
// no rule rather than an error, and callers treat that as "does not repeat".
// Occurrence search is bounded by MaxIterations so a rule that can never match
// (BYMONTHDAY=31 on 30-day months only) terminates with no result.
package recur

import (
	"slices"
	"time"
)

// Frequency is the base period of a rule.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// MaxIterations bounds the number of periods NextOccurrence examines.
const MaxIterations = 1000

// Rule is an immutable recurrence rule anchored at Start.
type Rule struct {
	Frequency  Frequency
	Interval   int
	ByDay      []time.Weekday // 0=Sunday..6=Saturday
	ByMonthDay []int          // 1..31
	ByMonth    []time.Month   // 1..12
	Until      *time.Time     // inclusive end, nil = open-ended
	Count      int            // total occurrences from Start, 0 = unbounded
	Start      time.Time
}

func (r Rule) interval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// matches reports whether day passes every restriction list of the rule.
// Empty lists do not restrict.
func (r Rule) matches(day time.Time) bool {
	if len(r.ByMonth) > 0 && !slices.Contains(r.ByMonth, day.Month()) {
		return false
	}
	if len(r.ByMonthDay) > 0 && !slices.Contains(r.ByMonthDay, day.Day()) {
		return false
	}
	if len(r.ByDay) > 0 && !slices.Contains(r.ByDay, day.Weekday()) {
		return false
	}
	return true
}

// Equal reports whether two rules describe the same recurrence.
// Restriction lists compare as sets.
func (r Rule) Equal(o Rule) bool {
	if r.Frequency != o.Frequency || r.interval() != o.interval() || r.Count != o.Count {
		return false
	}
	if !r.Start.Equal(o.Start) {
		return false
	}
	if (r.Until == nil) != (o.Until == nil) || (r.Until != nil && !r.Until.Equal(*o.Until)) {
		return false
	}
	return sameSet(r.ByDay, o.ByDay) && sameSet(r.ByMonthDay, o.ByMonthDay) && sameSet(r.ByMonth, o.ByMonth)
}

func sameSet[T ~int](a, b []T) bool {
	as := normalize(a)
	bs := normalize(b)
	return slices.Equal(as, bs)
}

// normalize returns a sorted, de-duplicated copy.
func normalize[T ~int](in []T) []T {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
