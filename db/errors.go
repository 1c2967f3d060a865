package db

import (
	"database/sql"
	"strings"

	"github.com/teranos/grove/errors"
)

// ErrClosed marks storage work attempted after the database was closed, such
// as a job still recording its execution while the daemon shuts down.
var ErrClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err came from a closed *sql.DB or
// connection. database/sql keeps its closed-pool error unexported, so its
// message is matched too.
func IsDatabaseClosed(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrClosed), errors.Is(err, sql.ErrConnDone):
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
