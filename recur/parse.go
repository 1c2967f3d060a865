package recur

import (
	"strconv"
	"strings"
	"time"
)

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var weekdayNames = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

var dateLayouts = []string{
	"2006-01-02",
	"20060102",
	"20060102T150405Z",
	time.RFC3339,
}

// Parse reads a recurrence rule string. The boolean is false when FREQ or
// DTSTART is absent or unreadable. Unknown keys and malformed list entries
// are skipped.
func Parse(text string) (Rule, bool) {
	var rule Rule
	var haveFreq, haveStart bool

	for _, part := range strings.Split(text, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "FREQ":
			switch Frequency(strings.ToLower(value)) {
			case Daily, Weekly, Monthly, Yearly:
				rule.Frequency = Frequency(strings.ToLower(value))
				haveFreq = true
			}
		case "INTERVAL":
			if n, err := strconv.Atoi(value); err == nil {
				rule.Interval = n
			}
		case "BYDAY":
			rule.ByDay = parseWeekdays(value)
		case "BYMONTHDAY":
			for _, n := range parseInts(value) {
				if n >= 1 && n <= 31 {
					rule.ByMonthDay = append(rule.ByMonthDay, n)
				}
			}
		case "BYMONTH":
			for _, n := range parseInts(value) {
				if n >= 1 && n <= 12 {
					rule.ByMonth = append(rule.ByMonth, time.Month(n))
				}
			}
		case "UNTIL":
			if t, ok := parseDate(value); ok {
				rule.Until = &t
			}
		case "COUNT":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				rule.Count = n
			}
		case "DTSTART":
			if t, ok := parseDate(value); ok {
				rule.Start = t
				haveStart = true
			}
		}
	}

	if !haveFreq || !haveStart {
		return Rule{}, false
	}
	if rule.Interval < 1 {
		rule.Interval = 1
	}
	rule.ByDay = normalize(rule.ByDay)
	rule.ByMonthDay = normalize(rule.ByMonthDay)
	rule.ByMonth = normalize(rule.ByMonth)
	return rule, true
}

func parseWeekdays(value string) []time.Weekday {
	var days []time.Weekday
	for _, tok := range strings.Split(value, ",") {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if d, ok := weekdayCodes[tok]; ok {
			days = append(days, d)
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil && n >= 0 && n <= 6 {
			days = append(days, time.Weekday(n))
		}
	}
	return days
}

func parseInts(value string) []int {
	var out []int
	for _, tok := range strings.Split(value, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(tok)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func parseDate(value string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func formatDate(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("20060102T150405Z")
}

// String serializes the rule in the form Parse reads. INTERVAL is omitted
// when 1 and restriction lists are omitted when empty.
func (r Rule) String() string {
	parts := []string{"FREQ=" + strings.ToUpper(string(r.Frequency))}

	if r.interval() != 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.interval()))
	}
	if len(r.ByDay) > 0 {
		codes := make([]string, 0, len(r.ByDay))
		for _, d := range normalize(r.ByDay) {
			codes = append(codes, weekdayNames[d])
		}
		parts = append(parts, "BYDAY="+strings.Join(codes, ","))
	}
	if len(r.ByMonthDay) > 0 {
		parts = append(parts, "BYMONTHDAY="+joinInts(normalize(r.ByMonthDay)))
	}
	if len(r.ByMonth) > 0 {
		parts = append(parts, "BYMONTH="+joinInts(normalize(r.ByMonth)))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+formatDate(*r.Until))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	parts = append(parts, "DTSTART="+formatDate(r.Start))

	return strings.Join(parts, ";")
}

// Serialize is the inverse of Parse.
func Serialize(r Rule) string {
	return r.String()
}

func joinInts[T ~int](values []T) string {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = strconv.Itoa(int(v))
	}
	return strings.Join(strs, ",")
}
