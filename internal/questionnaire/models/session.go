package models

import (
	"time"

	dErrors "signals/pkg/domain-errors"
)

// SessionState is derived from the frozen/invalidated flags and startedAt.
type SessionState string

const (
	SessionStateOpen        SessionState = "open"
	SessionStateAnswering   SessionState = "answering"
	SessionStateFrozen      SessionState = "frozen"
	SessionStateInvalidated SessionState = "invalidated"
)

// Session is one traversal of a questionnaire's graph.
//
// Invariants:
//   - ID and Questionnaire never change after creation
//   - StartedAt is set by the first accepted answer and never reset
//   - Frozen and Invalidated are one-way and mutually exclusive
//   - a frozen or invalidated session accepts no answers
//
// Expiry is never stored; it is computed from now against SubmitBefore and
// StartedAt+Duration whenever the session is accessed.
type Session struct {
	ID            SessionID       `json:"id"`
	Questionnaire QuestionnaireID `json:"questionnaire_id"`
	Incident      *IncidentID     `json:"incident_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	SubmitBefore  *time.Time      `json:"submit_before,omitempty"`
	Duration      time.Duration   `json:"duration,omitempty"`
	Frozen        bool            `json:"frozen"`
	FrozenAt      *time.Time      `json:"frozen_at,omitempty"`
	Invalidated   bool            `json:"invalidated"`
}

// NewSession creates an empty session. Zero window values mean no deadline.
func NewSession(questionnaire QuestionnaireID, incident *IncidentID, now time.Time, submitWithin, duration time.Duration) *Session {
	s := &Session{
		ID:            NewSessionID(),
		Questionnaire: questionnaire,
		Incident:      incident,
		CreatedAt:     now,
		Duration:      duration,
	}
	if submitWithin > 0 {
		deadline := now.Add(submitWithin)
		s.SubmitBefore = &deadline
	}
	return s
}

// State reports the lifecycle state.
func (s *Session) State() SessionState {
	switch {
	case s.Frozen:
		return SessionStateFrozen
	case s.Invalidated:
		return SessionStateInvalidated
	case s.StartedAt != nil:
		return SessionStateAnswering
	default:
		return SessionStateOpen
	}
}

// Deadline returns the earliest moment the session expires, if any.
func (s *Session) Deadline() (time.Time, bool) {
	var deadline time.Time
	found := false
	if s.SubmitBefore != nil {
		deadline, found = *s.SubmitBefore, true
	}
	if s.StartedAt != nil && s.Duration > 0 {
		d := s.StartedAt.Add(s.Duration)
		if !found || d.Before(deadline) {
			deadline, found = d, true
		}
	}
	return deadline, found
}

// IsExpired reports whether now is past the session's deadline.
func (s *Session) IsExpired(now time.Time) bool {
	deadline, ok := s.Deadline()
	return ok && now.After(deadline)
}

// CheckAccessible gates every read and write of a session's public lifecycle.
func (s *Session) CheckAccessible(now time.Time) error {
	if s.Frozen {
		return dErrors.New(dErrors.CodeSessionFrozen, "session is already frozen")
	}
	if s.Invalidated {
		return dErrors.New(dErrors.CodeSessionInvalidated, "session is invalidated")
	}
	if s.IsExpired(now) {
		return dErrors.New(dErrors.CodeSessionExpired, "session has expired")
	}
	return nil
}

// Start records the first answer time. It reports whether the clock started now.
func (s *Session) Start(now time.Time) bool {
	if s.StartedAt != nil {
		return false
	}
	s.StartedAt = &now
	return true
}

// ApplyFreeze marks the session frozen. Callers check CheckAccessible and the
// path's CanFreeze first; stores enforce the one-way transition.
func (s *Session) ApplyFreeze(now time.Time) {
	s.Frozen = true
	s.FrozenAt = &now
}

// ApplyInvalidation marks the session abandoned.
func (s *Session) ApplyInvalidation() {
	s.Invalidated = true
}
