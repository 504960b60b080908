package models

import "time"

// CompletionKind distinguishes the side effect a pending completion replays.
type CompletionKind string

const (
	CompletionFreeze CompletionKind = "freeze"
	CompletionExpire CompletionKind = "expire"
)

// PendingCompletion records a flow side effect that must run after a session
// reached a terminal state. It is written in the same transaction as the
// frozen/invalidated flag and removed once the effect succeeds.
type PendingCompletion struct {
	Session       SessionID      `json:"session_id"`
	Flow          Flow           `json:"flow"`
	Kind          CompletionKind `json:"kind"`
	Attempts      int            `json:"attempts"`
	LastError     string         `json:"last_error,omitempty"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	CreatedAt     time.Time      `json:"created_at"`
}

// RecordFailure bumps the attempt counter and schedules the next try with
// exponential backoff capped at maxBackoff.
func (c *PendingCompletion) RecordFailure(err error, now time.Time, base, maxBackoff time.Duration) {
	c.Attempts++
	c.LastError = err.Error()
	backoff := base
	for i := 1; i < c.Attempts && backoff < maxBackoff; i++ {
		backoff *= 2
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	c.NextAttemptAt = now.Add(backoff)
}
