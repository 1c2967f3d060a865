// Package storage is the SQLite reference implementation of the task, user,
// focus-session and rollup stores that job bodies act through.
//
// Timestamps are written in db.TimeLayout (UTC) and calendar days in
// db.DateLayout so that SQL string comparison follows chronological order.
package storage

import (
	"database/sql"
	"time"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
)

var (
	ErrUserNotFound    = errors.Wrap(errors.ErrNotFound, "user not found")
	ErrTaskNotFound    = errors.Wrap(errors.ErrNotFound, "task not found")
	ErrSessionNotFound = errors.Wrap(errors.ErrNotFound, "session not found")
	ErrRollupNotFound  = errors.Wrap(errors.ErrNotFound, "rollup not found")
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return db.FormatDate(*t)
}

func scanNullDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(db.DateLayout, ns.String)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid date %q", ns.String)
	}
	return &t, nil
}

func rowsAffected(result sql.Result) (int, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}
