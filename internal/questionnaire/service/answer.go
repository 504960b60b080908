package service

import (
	"context"
	"errors"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"signals/internal/questionnaire/models"
	"signals/internal/questionnaire/session"
	dErrors "signals/pkg/domain-errors"
	"signals/pkg/platform/audit"
	"signals/pkg/platform/sentinel"
	"signals/pkg/requestcontext"
)

// Answer validates and stores one answer, creating the session first when the
// request names only a questionnaire.
//
// The question must belong to the session's graph but need not lie on the
// current path; an off-path answer is kept and counts once the path reaches
// its question. Rejected answers write nothing, and the session's clock only
// starts with the first accepted answer.
func (s *Service) Answer(ctx context.Context, req models.AnswerRequest) (*models.AnswerResult, error) {
	ctx, span := tracer.Start(ctx, "service.Answer")
	defer span.End()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	sessionID := models.NewSessionID()
	if req.SessionID != nil {
		sessionID = *req.SessionID
	}
	span.SetAttributes(
		attribute.String("session.id", sessionID.String()),
		attribute.Int64("question.id", int64(req.QuestionID)),
	)

	var (
		result  *models.AnswerResult
		flow    models.Flow
		created bool
	)
	err := s.tx.RunInTx(withSessionKey(ctx, sessionID), func(store Store) error {
		sess, qn, err := s.resolveSession(ctx, store, req, sessionID, now)
		if err != nil {
			return err
		}
		flow = qn.Flow
		created = req.SessionID == nil

		in, err := s.loadPathInputs(ctx, store, qn, sess.ID)
		if err != nil {
			return err
		}
		if !in.graph.Contains(req.QuestionID) {
			return dErrors.NewField(dErrors.CodeQuestionNotInQuestionnaire, "question_id",
				"question is not part of this questionnaire")
		}

		started := sess.Start(now)
		if err := sess.CheckAccessible(now); err != nil {
			return err
		}

		q, ok := in.questions[req.QuestionID]
		if !ok {
			return dErrors.New(dErrors.CodeInvariantViolation, "graph references a question that does not exist")
		}
		if err := s.validator.Validate(req.Payload, &q); err != nil {
			return err
		}

		// The path is computed with the new answer before anything is written
		// so a graph error leaves no partial state behind.
		candidate := models.Answer{
			ID:        math.MaxInt64,
			Session:   sess.ID,
			Question:  q.ID,
			Payload:   req.Payload,
			CreatedAt: now,
		}
		start := time.Now()
		path, err := session.ComputePath(in.graph, in.questions, append(in.answers, candidate))
		s.metrics.ObservePathCompute(start)
		if err != nil {
			return err
		}

		if created {
			if err := store.CreateSession(ctx, sess); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					return dErrors.New(dErrors.CodeConflict, "session already exists")
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
			}
		} else if started {
			if err := store.MarkStarted(ctx, sess.ID, now); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to start session")
			}
		}

		answer := &models.Answer{
			Session:   sess.ID,
			Question:  q.ID,
			Payload:   req.Payload,
			CreatedAt: now,
		}
		if err := store.CreateAnswer(ctx, answer); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store answer")
		}

		result = &models.AnswerResult{
			AnswerID:  answer.ID,
			SessionID: sess.ID,
			CanFreeze: path.CanFreeze,
		}
		if next, ok := in.graph.NextQuestion(q.ID, req.Payload); ok {
			result.NextQuestion = &next
		}
		return nil
	})
	if err != nil {
		s.metrics.IncrementAnswer(string(flow), string(dErrors.CodeOf(err)))
		markFailed(span, err, "answer rejected")
		return nil, err
	}

	s.metrics.IncrementAnswer(string(flow), "accepted")
	if created {
		s.logAudit(ctx, audit.EventSessionStarted,
			"session_id", result.SessionID.String(),
			"flow", string(flow),
		)
	}
	s.logAudit(ctx, audit.EventAnswerRecorded,
		"session_id", result.SessionID.String(),
		"flow", string(flow),
		"question_id", req.QuestionID.String(),
	)
	return result, nil
}

// resolveSession loads the requested session or builds a new, unsaved one
// for the questionnaire with its flow's window.
func (s *Service) resolveSession(ctx context.Context, store Store, req models.AnswerRequest, id models.SessionID, now time.Time) (*models.Session, *models.Questionnaire, error) {
	if req.SessionID != nil {
		sess, qn, err := loadSession(ctx, store, id, true)
		if err != nil {
			return nil, nil, err
		}
		if req.QuestionnaireID > 0 && req.QuestionnaireID != sess.Questionnaire {
			return nil, nil, dErrors.NewField(dErrors.CodeValidation, "questionnaire_id",
				"questionnaire_id does not match the session")
		}
		return sess, qn, nil
	}

	qn, err := findQuestionnaire(ctx, store, req.QuestionnaireID)
	if err != nil {
		return nil, nil, err
	}
	if !qn.IsActive {
		return nil, nil, dErrors.NewField(dErrors.CodeValidation, "questionnaire_id", "questionnaire is not active")
	}
	policy, err := s.policies.Policy(qn.Flow)
	if err != nil {
		return nil, nil, err
	}
	sess := models.NewSession(qn.ID, nil, now, policy.Window.SubmitWithin, policy.Window.Duration)
	sess.ID = id
	return sess, qn, nil
}
