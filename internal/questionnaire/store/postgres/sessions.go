package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signals/internal/questionnaire/models"
	"signals/pkg/platform/sentinel"
)

const sessionColumns = `s.id, s.questionnaire_id, s.incident_id, s.created_at, s.started_at,
	s.submit_before, s.duration_ms, s.frozen, s.frozen_at, s.invalidated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s            models.Session
		id           uuid.UUID
		incident     sql.NullInt64
		startedAt    sql.NullTime
		submitBefore sql.NullTime
		durationMS   int64
		frozenAt     sql.NullTime
	)
	if err := row.Scan(&id, &s.Questionnaire, &incident, &s.CreatedAt, &startedAt,
		&submitBefore, &durationMS, &s.Frozen, &frozenAt, &s.Invalidated); err != nil {
		return nil, err
	}
	s.ID = models.SessionID(id)
	if incident.Valid {
		v := models.IncidentID(incident.Int64)
		s.Incident = &v
	}
	s.StartedAt = timePtr(startedAt)
	s.SubmitBefore = timePtr(submitBefore)
	s.FrozenAt = timePtr(frozenAt)
	s.Duration = time.Duration(durationMS) * time.Millisecond
	return &s, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// CreateSession fails with ErrConflict for a duplicate id and ErrNotFound for
// an unknown questionnaire.
func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	var incident sql.NullInt64
	if session.Incident != nil {
		incident = sql.NullInt64{Int64: int64(*session.Incident), Valid: true}
	}
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO sessions (id, questionnaire_id, incident_id, created_at, started_at,
		                      submit_before, duration_ms, frozen, frozen_at, invalidated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		session.ID.String(),
		session.Questionnaire,
		incident,
		session.CreatedAt,
		nullTime(session.StartedAt),
		nullTime(session.SubmitBefore),
		session.Duration.Milliseconds(),
		session.Frozen,
		nullTime(session.FrozenAt),
		session.Invalidated,
	)
	if err != nil {
		return translate(err, "create session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create session rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", session.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *Store) FindSession(ctx context.Context, id models.SessionID) (*models.Session, error) {
	return s.findSession(ctx, id, "")
}

// FindSessionForUpdate locks the row until the bound transaction ends.
func (s *Store) FindSessionForUpdate(ctx context.Context, id models.SessionID) (*models.Session, error) {
	return s.findSession(ctx, id, "FOR UPDATE")
}

func (s *Store) findSession(ctx context.Context, id models.SessionID, lock string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s WHERE s.id = $1 ` + lock
	session, err := scanSession(s.conn(ctx).QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return session, nil
}

// MarkStarted sets started_at once; later calls keep the first value.
func (s *Store) MarkStarted(ctx context.Context, id models.SessionID, startedAt time.Time) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE sessions SET started_at = $2
		WHERE id = $1 AND started_at IS NULL
	`, id.String(), startedAt)
	if err != nil {
		return fmt.Errorf("mark session started: %w", err)
	}
	return nil
}

// FreezeSession flips frozen from false to true on a session that is not
// invalidated.
func (s *Store) FreezeSession(ctx context.Context, id models.SessionID, frozenAt time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE sessions SET frozen = TRUE, frozen_at = $2
		WHERE id = $1 AND NOT frozen AND NOT invalidated
	`, id.String(), frozenAt)
	if err != nil {
		return fmt.Errorf("freeze session: %w", err)
	}
	return s.checkTransition(ctx, res, id, true)
}

// InvalidateSession flips invalidated from false to true on a session that
// is not frozen.
func (s *Store) InvalidateSession(ctx context.Context, id models.SessionID) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE sessions SET invalidated = TRUE
		WHERE id = $1 AND NOT frozen AND NOT invalidated
	`, id.String())
	if err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return s.checkTransition(ctx, res, id, false)
}

// checkTransition explains a conditional update that matched no row.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, id models.SessionID, freezing bool) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session transition rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var frozen, invalidated bool
	err = s.conn(ctx).QueryRowContext(ctx, `SELECT frozen, invalidated FROM sessions WHERE id = $1`, id.String()).
		Scan(&frozen, &invalidated)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read session state: %w", err)
	}
	if (freezing && frozen) || (!freezing && invalidated) {
		return fmt.Errorf("session %s: %w", id, sentinel.ErrAlreadyUsed)
	}
	return fmt.Errorf("session %s: %w", id, sentinel.ErrInvalidState)
}

// ListExpiredSessions returns open sessions of flow whose deadline passed
// before now, oldest first.
func (s *Store) ListExpiredSessions(ctx context.Context, flow models.Flow, now time.Time, limit int) ([]*models.Session, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		JOIN questionnaires q ON q.id = s.questionnaire_id
		WHERE q.flow = $1
		  AND NOT s.frozen AND NOT s.invalidated
		  AND (
		        (s.submit_before IS NOT NULL AND s.submit_before < $2)
		     OR (s.started_at IS NOT NULL AND s.duration_ms > 0
		         AND s.started_at + s.duration_ms * INTERVAL '1 millisecond' < $2)
		  )
		ORDER BY s.created_at, s.id
		LIMIT NULLIF($3, 0)
	`, string(flow), now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// CreateAnswer appends an answer and assigns its id.
func (s *Store) CreateAnswer(ctx context.Context, a *models.Answer) error {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO answers (session_id, question_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, a.Session.String(), a.Question, string(a.Payload), a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return translate(err, "create answer")
	}
	return nil
}

// ListAnswers returns every answer of the session, superseded ones included.
func (s *Store) ListAnswers(ctx context.Context, session models.SessionID) ([]models.Answer, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, question_id, payload, created_at
		FROM answers
		WHERE session_id = $1
		ORDER BY created_at, id
	`, session.String())
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	answers := []models.Answer{}
	for rows.Next() {
		var (
			a       models.Answer
			payload []byte
		)
		if err := rows.Scan(&a.ID, &a.Question, &payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a.Session = session
		a.Payload = models.Payload(payload)
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return answers, nil
}

// SaveCompletion inserts or replaces the completion for (session, kind).
func (s *Store) SaveCompletion(ctx context.Context, c *models.PendingCompletion) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO pending_completions (session_id, kind, flow, attempts, last_error, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, kind) DO UPDATE SET
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			next_attempt_at = EXCLUDED.next_attempt_at
	`, c.Session.String(), string(c.Kind), string(c.Flow), c.Attempts, c.LastError, c.NextAttemptAt, c.CreatedAt)
	if err != nil {
		return translate(err, "save completion")
	}
	return nil
}

func (s *Store) DeleteCompletion(ctx context.Context, session models.SessionID, kind models.CompletionKind) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM pending_completions WHERE session_id = $1 AND kind = $2
	`, session.String(), string(kind))
	if err != nil {
		return fmt.Errorf("delete completion: %w", err)
	}
	return nil
}

// ClaimCompletion moves a due completion's next attempt to until. Of
// concurrent claimers only one matches the due condition.
func (s *Store) ClaimCompletion(ctx context.Context, session models.SessionID, kind models.CompletionKind, now, until time.Time) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE pending_completions SET next_attempt_at = $4
		WHERE session_id = $1 AND kind = $2 AND next_attempt_at <= $3
	`, session.String(), string(kind), now, until)
	if err != nil {
		return false, fmt.Errorf("claim completion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim completion rows affected: %w", err)
	}
	return n > 0, nil
}

// ListDueCompletions returns completions due at now with fewer than
// maxAttempts failures, earliest first. A non-positive maxAttempts disables
// the attempt filter.
func (s *Store) ListDueCompletions(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*models.PendingCompletion, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT session_id, kind, flow, attempts, last_error, next_attempt_at, created_at
		FROM pending_completions
		WHERE next_attempt_at <= $1
		  AND ($2 <= 0 OR attempts < $2)
		ORDER BY next_attempt_at, session_id
		LIMIT NULLIF($3, 0)
	`, now, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list due completions: %w", err)
	}
	defer rows.Close()

	var due []*models.PendingCompletion
	for rows.Next() {
		var (
			c    models.PendingCompletion
			id   uuid.UUID
			kind string
			flow string
		)
		if err := rows.Scan(&id, &kind, &flow, &c.Attempts, &c.LastError, &c.NextAttemptAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		c.Session = models.SessionID(id)
		c.Kind = models.CompletionKind(kind)
		c.Flow = models.Flow(flow)
		due = append(due, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completions: %w", err)
	}
	return due, nil
}
