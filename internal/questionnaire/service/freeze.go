package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"signals/internal/questionnaire/flows"
	"signals/internal/questionnaire/models"
	"signals/internal/questionnaire/session"
	dErrors "signals/pkg/domain-errors"
	"signals/pkg/platform/audit"
	"signals/pkg/platform/sentinel"
	"signals/pkg/requestcontext"
)

// Submit freezes the session and runs its flow's completion hook.
//
// The frozen flag and a pending completion are committed together; the hook
// runs after commit. Of two concurrent submits only one passes the
// conditional freeze, the other fails with session_frozen and runs nothing.
// A failing hook leaves the session frozen and the completion queued for the
// retry worker.
func (s *Service) Submit(ctx context.Context, id models.SessionID) (*models.SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "service.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id.String()))

	now := requestcontext.Now(ctx)
	var (
		sess       *models.Session
		qn         *models.Questionnaire
		path       *models.PathSnapshot
		policy     flows.Policy
		completion *models.PendingCompletion
	)
	err := s.tx.RunInTx(withSessionKey(ctx, id), func(store Store) error {
		var err error
		sess, qn, err = loadSession(ctx, store, id, true)
		if err != nil {
			return err
		}
		if err := sess.CheckAccessible(now); err != nil {
			return err
		}
		policy, err = s.policies.Policy(qn.Flow)
		if err != nil {
			return err
		}

		in, err := s.loadPathInputs(ctx, store, qn, sess.ID)
		if err != nil {
			return err
		}
		start := time.Now()
		path, err = session.ComputePath(in.graph, in.questions, in.answers)
		s.metrics.ObservePathCompute(start)
		if err != nil {
			return err
		}
		if err := session.CheckFreeze(path); err != nil {
			return err
		}

		if err := store.FreezeSession(ctx, id, now); err != nil {
			return translateTransitionError(err)
		}
		sess.ApplyFreeze(now)

		if policy.OnFreeze != nil {
			completion = &models.PendingCompletion{
				Session:       id,
				Flow:          qn.Flow,
				Kind:          models.CompletionFreeze,
				NextAttemptAt: now.Add(s.retry.Lease),
				CreatedAt:     now,
			}
			if err := store.SaveCompletion(ctx, completion); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue completion")
			}
		}
		return nil
	})
	if err != nil {
		flow := ""
		if qn != nil {
			flow = string(qn.Flow)
		}
		s.metrics.IncrementFreeze(flow, string(dErrors.CodeOf(err)))
		markFailed(span, err, "submit rejected")
		return nil, err
	}

	s.metrics.IncrementFreeze(string(qn.Flow), "frozen")
	s.logAudit(ctx, audit.EventSessionFrozen,
		"session_id", id.String(),
		"flow", string(qn.Flow),
		"decision", "frozen",
	)

	result := &models.SubmitResult{SessionID: id, FrozenAt: now}
	if completion != nil {
		ok := s.runCompletion(ctx, completion, policy.OnFreeze, flows.Completion{
			Session:       sess,
			Questionnaire: qn,
			Path:          path,
			Now:           now,
		})
		result.CompletionPending = !ok
	}
	return result, nil
}

// translateTransitionError maps store facts about a one-way transition to
// lifecycle errors.
func translateTransitionError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeSessionFrozen, "session is already frozen")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeSessionInvalidated, "session is invalidated")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "session not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update session")
	}
}

// runCompletion runs hook for a queued completion. Success removes the
// completion; failure records the attempt and reschedules it with backoff.
// It reports whether the hook succeeded.
func (s *Service) runCompletion(ctx context.Context, pc *models.PendingCompletion, hook flows.Hook, c flows.Completion) bool {
	// The hook outlives the request that committed the freeze.
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "service.runCompletion")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", pc.Session.String()),
		attribute.String("completion.kind", string(pc.Kind)),
		attribute.Int("completion.attempt", pc.Attempts+1),
	)

	hookErr := hook(ctx, c)
	if hookErr == nil {
		if err := s.store.DeleteCompletion(ctx, pc.Session, pc.Kind); err != nil {
			s.logger.WarnContext(ctx, "failed to clear completion",
				"session_id", pc.Session.String(),
				"kind", string(pc.Kind),
				"error", err,
			)
		}
		s.metrics.IncrementCompletion(string(pc.Flow), string(pc.Kind), "ok")
		s.logAudit(ctx, audit.EventCompletionSucceeded,
			"session_id", pc.Session.String(),
			"flow", string(pc.Flow),
			"decision", string(pc.Kind),
		)
		return true
	}

	markFailed(span, hookErr, "completion failed")
	return s.recordCompletionFailure(ctx, pc, hookErr)
}

// recordCompletionFailure reschedules pc, or gives up once it is out of
// attempts. It always reports false.
func (s *Service) recordCompletionFailure(ctx context.Context, pc *models.PendingCompletion, cause error) bool {
	pc.RecordFailure(cause, requestcontext.Now(ctx), s.retry.BaseBackoff, s.retry.MaxBackoff)
	s.logger.ErrorContext(ctx, "flow completion failed",
		"session_id", pc.Session.String(),
		"flow", string(pc.Flow),
		"kind", string(pc.Kind),
		"attempt", pc.Attempts,
		"next_attempt_at", pc.NextAttemptAt,
		"error", cause,
	)
	if err := s.store.SaveCompletion(ctx, pc); err != nil {
		s.logger.ErrorContext(ctx, "failed to reschedule completion",
			"session_id", pc.Session.String(),
			"kind", string(pc.Kind),
			"error", err,
		)
	}

	event, outcome := audit.EventCompletionFailed, "failed"
	if s.retry.MaxAttempts > 0 && pc.Attempts >= s.retry.MaxAttempts {
		event, outcome = audit.EventCompletionAbandoned, "abandoned"
		s.logger.ErrorContext(ctx, "flow completion abandoned after max attempts",
			"session_id", pc.Session.String(),
			"flow", string(pc.Flow),
			"kind", string(pc.Kind),
			"attempt", pc.Attempts,
		)
	}
	s.metrics.IncrementCompletion(string(pc.Flow), string(pc.Kind), outcome)
	s.logAudit(ctx, event,
		"session_id", pc.Session.String(),
		"flow", string(pc.Flow),
		"decision", string(pc.Kind),
		"reason", cause.Error(),
		"attempt", strconv.Itoa(pc.Attempts),
	)
	return false
}
