package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"signals/internal/questionnaire/models"
	"signals/internal/questionnaire/session"
	"signals/pkg/requestcontext"
)

// GetSession returns the session's live path. Frozen, invalidated and
// expired sessions are not exposed.
func (s *Service) GetSession(ctx context.Context, id models.SessionID) (*models.SessionView, error) {
	ctx, span := tracer.Start(ctx, "service.GetSession")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id.String()))

	now := requestcontext.Now(ctx)
	sess, qn, err := loadSession(ctx, s.store, id, false)
	if err != nil {
		return nil, err
	}
	if err := sess.CheckAccessible(now); err != nil {
		return nil, err
	}

	in, err := s.loadPathInputs(ctx, s.store, qn, sess.ID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	path, err := session.ComputePath(in.graph, in.questions, in.answers)
	s.metrics.ObservePathCompute(start)
	if err != nil {
		return nil, err
	}
	return buildView(sess, qn, path, in.questions), nil
}

func buildView(sess *models.Session, qn *models.Questionnaire, path *models.PathSnapshot, questions map[models.QuestionID]models.Question) *models.SessionView {
	view := &models.SessionView{
		ID:                    sess.ID,
		Questionnaire:         qn.ID,
		Flow:                  qn.Flow,
		State:                 sess.State(),
		StartedAt:             sess.StartedAt,
		SubmitBefore:          sess.SubmitBefore,
		PathQuestions:         path.Questions,
		AnsweredQuestionIDs:   path.AnsweredQuestionIDs(),
		UnansweredQuestionIDs: path.UnansweredOrEmpty(),
		NextQuestion:          path.NextUnanswered(),
		CanFreeze:             path.CanFreeze,
		Frozen:                sess.Frozen,
		Invalidated:           sess.Invalidated,
		Questions:             make([]models.QuestionView, 0, len(path.Questions)),
	}
	if deadline, ok := sess.Deadline(); ok {
		view.ExpiresAt = &deadline
	}
	for _, id := range path.Questions {
		q := questions[id]
		qv := models.QuestionView{
			ID:          q.ID,
			AnalysisKey: q.AnalysisKey,
			Label:       q.Label,
			ShortLabel:  q.ShortLabel,
			FieldType:   q.FieldType,
			Required:    q.Required,
			Choices:     q.Choices,
		}
		if a, ok := path.Answers[id]; ok {
			answeredAt := a.CreatedAt
			qv.Answer = a.Payload
			qv.AnsweredAt = &answeredAt
		}
		view.Questions = append(view.Questions, qv)
	}
	return view
}
