package recur

import (
	"fmt"
	"strconv"
	"strings"
)

var frequencyUnits = map[Frequency]string{
	Daily:   "day",
	Weekly:  "week",
	Monthly: "month",
	Yearly:  "year",
}

var shortWeekdays = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Describe renders a rule as a short English phrase, e.g.
// "every 2 weeks on Mon, Wed from 2026-01-05".
func Describe(rule Rule) string {
	var b strings.Builder

	unit := frequencyUnits[rule.Frequency]
	if unit == "" {
		unit = string(rule.Frequency)
	}
	if n := rule.interval(); n == 1 {
		b.WriteString("every " + unit)
	} else {
		fmt.Fprintf(&b, "every %d %ss", n, unit)
	}

	if len(rule.ByDay) > 0 {
		names := make([]string, 0, len(rule.ByDay))
		for _, d := range normalize(rule.ByDay) {
			names = append(names, shortWeekdays[d])
		}
		b.WriteString(" on " + strings.Join(names, ", "))
	}
	if len(rule.ByMonthDay) > 0 {
		days := make([]string, 0, len(rule.ByMonthDay))
		for _, d := range normalize(rule.ByMonthDay) {
			days = append(days, strconv.Itoa(d))
		}
		b.WriteString(" on day " + strings.Join(days, ", "))
	}
	if len(rule.ByMonth) > 0 {
		months := make([]string, 0, len(rule.ByMonth))
		for _, m := range normalize(rule.ByMonth) {
			months = append(months, m.String()[:3])
		}
		b.WriteString(" in " + strings.Join(months, ", "))
	}

	b.WriteString(" from " + rule.Start.Format("2006-01-02"))
	if rule.Until != nil {
		b.WriteString(" until " + rule.Until.Format("2006-01-02"))
	}
	if rule.Count > 0 {
		fmt.Fprintf(&b, ", %d times", rule.Count)
	}
	return b.String()
}
