package score

import (
	"crypto/subtle"
	"fmt"
	"time"
)

// Reason codes carried by a rejected ValidationResult.
const (
	ReasonAlreadyProcessed = "already_processed"
	ReasonHashMismatch     = "hash_mismatch"
	ReasonInvalidDuration  = "invalid_duration"
	ReasonClockAnomaly     = "clock_anomaly"
)

// SessionClaim is what a client reports about a finished session.
type SessionClaim struct {
	SessionID    string
	StartedAt    time.Time
	FocusMinutes int
	Hash         string
}

// ValidationResult is the verdict on a SessionClaim. Rejections are values,
// not errors; the caller decides what to do with the session.
type ValidationResult struct {
	Valid  bool
	Reason string
	Flags  []string
}

// ProcessedSet answers whether a session has already been credited.
type ProcessedSet interface {
	Contains(sessionID string) bool
}

// IDSet is a map-backed ProcessedSet.
type IDSet map[string]struct{}

// NewIDSet builds an IDSet from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add marks id as processed.
func (s IDSet) Add(id string) { s[id] = struct{}{} }

// Contains implements ProcessedSet.
func (s IDSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// ValidateSession screens a claim. Checks run in order and stop at the first
// failure: replay, hash, duration, clock distance.
func (e *Engine) ValidateSession(claim SessionClaim, processed ProcessedSet) ValidationResult {
	if processed != nil && processed.Contains(claim.SessionID) {
		return reject(ReasonAlreadyProcessed, "session %s already credited", claim.SessionID)
	}

	expected := e.hasher.Hash(claim.SessionID, claim.StartedAt)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(claim.Hash)) != 1 {
		return reject(ReasonHashMismatch, "hash %q does not match session fields", claim.Hash)
	}

	if claim.FocusMinutes < 0 || claim.FocusMinutes > e.cfg.MaxSessionMinutes {
		return reject(ReasonInvalidDuration, "%d min outside [0, %d]", claim.FocusMinutes, e.cfg.MaxSessionMinutes)
	}

	distance := e.clock.Now().Sub(claim.StartedAt)
	if distance < 0 {
		distance = -distance
	}
	if distance > e.cfg.MaxClockSkew {
		return reject(ReasonClockAnomaly, "started %s from now, limit %s", distance.Round(time.Second), e.cfg.MaxClockSkew)
	}

	return ValidationResult{Valid: true}
}

func reject(reason, format string, args ...interface{}) ValidationResult {
	return ValidationResult{
		Reason: reason,
		Flags:  []string{fmt.Sprintf(format, args...)},
	}
}
