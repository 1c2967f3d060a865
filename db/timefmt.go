package db

import (
	"database/sql"
	"time"

	"github.com/teranos/grove/errors"
)

// TimeLayout is the fixed-width UTC layout used for every timestamp column,
// so lexical comparison in SQL matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// DateLayout is used for calendar-day columns (rollups, streak bookkeeping).
const DateLayout = "2006-01-02"

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid timestamp %q", s)
	}
	return t, nil
}

// NullTime converts an optional time into a value for a nullable column.
func NullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// ScanNullTime converts a scanned nullable column into an optional time.
func ScanNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FormatDate renders the calendar day of t in its own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
