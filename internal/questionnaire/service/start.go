package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"signals/internal/questionnaire/flows"
	"signals/internal/questionnaire/models"
	dErrors "signals/pkg/domain-errors"
	"signals/pkg/platform/audit"
	"signals/pkg/platform/sentinel"
	"signals/pkg/requestcontext"
)

// StartSession builds the flow's questionnaire for one incident and opens a
// session on it with the flow's deadline window.
func (s *Service) StartSession(ctx context.Context, req models.StartSessionRequest) (*models.Session, error) {
	ctx, span := tracer.Start(ctx, "service.StartSession")
	defer span.End()
	span.SetAttributes(attribute.String("flow", string(req.Flow)))

	if err := req.Validate(); err != nil {
		return nil, err
	}
	policy, err := s.policies.Policy(req.Flow)
	if err != nil {
		return nil, err
	}
	params := flows.Params(req.Params)
	if err := policy.CheckParams(params); err != nil {
		return nil, err
	}
	if err := s.checkSize(policy.Definition); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	sessionID := models.NewSessionID()
	var sess *models.Session
	err = s.tx.RunInTx(withSessionKey(ctx, sessionID), func(store Store) error {
		qn, err := flows.Materialize(ctx, store, req.Flow, policy.Definition, params)
		if err != nil {
			return asDomainError(err, "failed to build questionnaire")
		}
		sess = models.NewSession(qn.ID, req.Incident, now, policy.Window.SubmitWithin, policy.Window.Duration)
		sess.ID = sessionID
		if err := store.CreateSession(ctx, sess); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "session already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, audit.EventSessionStarted,
		"session_id", sess.ID.String(),
		"flow", string(req.Flow),
	)
	return sess, nil
}

// CreateQuestionnaire stores an administrator-authored definition as a new
// questionnaire bound to flow.
func (s *Service) CreateQuestionnaire(ctx context.Context, flow models.Flow, def flows.Definition) (*models.Questionnaire, error) {
	ctx, span := tracer.Start(ctx, "service.CreateQuestionnaire")
	defer span.End()
	span.SetAttributes(attribute.String("flow", string(flow)))

	if _, err := s.policies.Policy(flow); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkSize(def); err != nil {
		return nil, err
	}

	var qn *models.Questionnaire
	err := s.tx.RunInTx(ctx, func(store Store) error {
		var err error
		qn, err = flows.Materialize(ctx, store, flow, def, nil)
		if err != nil {
			return asDomainError(err, "failed to store questionnaire")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, audit.EventQuestionnaireCreated,
		"subject", "questionnaire:"+qn.ID.String(),
		"flow", string(flow),
		"graph_id", qn.Graph.String(),
	)
	return qn, nil
}

// checkSize rejects definitions with more questions than a graph may hold,
// before anything is written.
func (s *Service) checkSize(def flows.Definition) error {
	if len(def.Questions) > s.maxQuestions {
		return dErrors.New(dErrors.CodeGraphTooLarge,
			fmt.Sprintf("definition has %d questions, the limit is %d", len(def.Questions), s.maxQuestions))
	}
	return nil
}

func asDomainError(err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
