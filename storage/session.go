package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
)

// SessionMode distinguishes focus time from breaks.
type SessionMode string

const (
	ModeFocus      SessionMode = "focus"
	ModeShortBreak SessionMode = "short_break"
	ModeLongBreak  SessionMode = "long_break"
)

// SessionStatus is the lifecycle state of a focus session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

// FocusSession is a timed focus or break block started by a client.
type FocusSession struct {
	ID             string
	UserID         string
	Mode           SessionMode
	Status         SessionStatus
	StartedAt      time.Time
	PlannedMinutes int
	EndedAt        *time.Time
	Hash           string // integrity hash computed by the client
	Processed      bool
	PointsAwarded  int
	TreesGrown     int
	Rejected       bool
	RejectReason   string
}

// PlannedEnd is when the session is due to finish.
func (f *FocusSession) PlannedEnd() time.Time {
	return f.StartedAt.Add(time.Duration(f.PlannedMinutes) * time.Minute)
}

// IsBreak reports whether the session is a short or long break.
func (f *FocusSession) IsBreak() bool {
	return f.Mode == ModeShortBreak || f.Mode == ModeLongBreak
}

// SessionOutcome is written when a session is closed.
type SessionOutcome struct {
	Points       int
	Trees        int
	Rejected     bool
	RejectReason string
}

// SessionStore persists focus sessions.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a session store.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `id, user_id, mode, status, started_at, planned_minutes, ended_at,
		       hash, processed, points_awarded, trees_grown, rejected, reject_reason`

// CreateSession inserts a session, assigning an ID when empty. New sessions
// are active unless a status is set.
func (s *SessionStore) CreateSession(ctx context.Context, session *FocusSession) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Status == "" {
		session.Status = SessionActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO focus_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		string(session.Mode),
		string(session.Status),
		db.FormatTime(session.StartedAt),
		session.PlannedMinutes,
		db.NullTime(session.EndedAt),
		session.Hash,
		session.Processed,
		session.PointsAwarded,
		session.TreesGrown,
		session.Rejected,
		nullString(session.RejectReason),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create session %s", session.ID)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*FocusSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM focus_sessions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrSessionNotFound, "session %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get session %s", id)
	}
	return session, nil
}

// ListActive returns every active session, oldest first.
func (s *SessionStore) ListActive(ctx context.Context) ([]*FocusSession, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM focus_sessions WHERE status = 'active' ORDER BY started_at, id`)
}

// ListSessions returns a user's sessions started in [from, to).
func (s *SessionStore) ListSessions(ctx context.Context, userID string, from, to time.Time) ([]*FocusSession, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM focus_sessions
		WHERE user_id = ? AND started_at >= ? AND started_at < ?
		ORDER BY started_at, id`,
		userID, db.FormatTime(from), db.FormatTime(to))
}

// ProcessedIDs returns the IDs of a user's sessions that have already been
// scored.
func (s *SessionStore) ProcessedIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM focus_sessions WHERE user_id = ? AND processed = 1`, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list processed sessions for %s", userID)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan session id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CompleteSession closes an active session with its scoring outcome.
// A session that is no longer active is left untouched and reported as not
// found.
func (s *SessionStore) CompleteSession(ctx context.Context, id string, endedAt time.Time, outcome SessionOutcome) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE focus_sessions
		SET status = 'completed',
		    ended_at = ?,
		    processed = 1,
		    points_awarded = ?,
		    trees_grown = ?,
		    rejected = ?,
		    reject_reason = ?
		WHERE id = ? AND status = 'active'`,
		db.FormatTime(endedAt),
		outcome.Points,
		outcome.Trees,
		outcome.Rejected,
		nullString(outcome.RejectReason),
		id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to complete session %s", id)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrSessionNotFound, "active session %s", id)
	}
	return nil
}

// ExpireStale expires active sessions started more than maxAge before now.
func (s *SessionStore) ExpireStale(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE focus_sessions SET status = 'expired', ended_at = ?
		WHERE status = 'active' AND started_at < ?`,
		db.FormatTime(now), db.FormatTime(now.Add(-maxAge)))
	if err != nil {
		return 0, errors.Wrap(err, "failed to expire sessions")
	}
	return rowsAffected(result)
}

func (s *SessionStore) querySessions(ctx context.Context, query string, args ...interface{}) ([]*FocusSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query sessions")
	}
	defer rows.Close()

	var sessions []*FocusSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating sessions")
	}
	return sessions, nil
}

func scanSession(row rowScanner) (*FocusSession, error) {
	var session FocusSession
	var mode, status, startedAt string
	var endedAt, rejectReason sql.NullString

	err := row.Scan(
		&session.ID,
		&session.UserID,
		&mode,
		&status,
		&startedAt,
		&session.PlannedMinutes,
		&endedAt,
		&session.Hash,
		&session.Processed,
		&session.PointsAwarded,
		&session.TreesGrown,
		&session.Rejected,
		&rejectReason,
	)
	if err != nil {
		return nil, err
	}
	session.Mode = SessionMode(mode)
	session.Status = SessionStatus(status)
	session.RejectReason = rejectReason.String

	if session.StartedAt, err = db.ParseTime(startedAt); err != nil {
		return nil, errors.Wrapf(err, "started_at for session %s", session.ID)
	}
	if session.EndedAt, err = db.ScanNullTime(endedAt); err != nil {
		return nil, errors.Wrapf(err, "ended_at for session %s", session.ID)
	}
	return &session, nil
}
