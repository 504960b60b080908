package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"signals/internal/questionnaire/models"
)

// CreateFeedback archives feedback. A row with the same id is kept as is,
// so a retried completion writes it once.
func (s *Store) CreateFeedback(ctx context.Context, f *models.Feedback) error {
	var incident sql.NullInt64
	if f.Incident != nil {
		incident = sql.NullInt64{Int64: int64(*f.Incident), Valid: true}
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO feedback (id, incident_id, session_id, is_satisfied, text, text_extra, allows_contact, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, f.ID.String(), incident, f.Session.String(), f.IsSatisfied, f.Text, f.TextExtra, f.AllowsContact, f.SubmittedAt)
	if err != nil {
		return translate(err, "create feedback")
	}
	return nil
}

// ListFeedback returns the feedback recorded for a session.
func (s *Store) ListFeedback(ctx context.Context, session models.SessionID) ([]models.Feedback, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, incident_id, is_satisfied, text, text_extra, allows_contact, submitted_at
		FROM feedback
		WHERE session_id = $1
		ORDER BY submitted_at, id
	`, session.String())
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []models.Feedback
	for rows.Next() {
		var (
			f        models.Feedback
			id       uuid.UUID
			incident sql.NullInt64
		)
		if err := rows.Scan(&id, &incident, &f.IsSatisfied, &f.Text, &f.TextExtra, &f.AllowsContact, &f.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		f.ID = id
		f.Session = session
		if incident.Valid {
			v := models.IncidentID(incident.Int64)
			f.Incident = &v
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return out, nil
}
