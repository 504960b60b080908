package service

import (
	"context"
	"errors"
	"fmt"
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

var errSkipped = errors.New("session no longer expired and open")

// InvalidateExpired invalidates open sessions of flow whose deadline passed
// and queues the flow's expiry fallback for each of them. A session frozen or
// invalidated concurrently is skipped.
func (s *Service) InvalidateExpired(ctx context.Context, flow models.Flow) (*models.CleanupResult, error) {
	ctx, span := tracer.Start(ctx, "service.InvalidateExpired")
	defer span.End()
	span.SetAttributes(attribute.String("flow", string(flow)))

	policy, err := s.policies.Policy(flow)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	expired, err := s.store.ListExpiredSessions(ctx, flow, now, s.batchSize)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expired sessions")
	}

	result := &models.CleanupResult{Flow: flow, Invalidated: []models.SessionID{}}
	for _, candidate := range expired {
		sess, qn, pc, err := s.invalidateOne(ctx, candidate.ID, policy, now)
		if errors.Is(err, errSkipped) {
			continue
		}
		if err != nil {
			result.Failed++
			s.logger.ErrorContext(ctx, "failed to invalidate expired session",
				"session_id", candidate.ID.String(),
				"flow", string(flow),
				"error", err,
			)
			continue
		}
		result.Invalidated = append(result.Invalidated, sess.ID)
		s.logAudit(ctx, audit.EventSessionInvalidated,
			"session_id", sess.ID.String(),
			"flow", string(flow),
			"reason", "deadline passed",
		)
		if pc != nil {
			s.runCompletion(ctx, pc, policy.OnExpire, flows.Completion{
				Session:       sess,
				Questionnaire: qn,
				Now:           now,
			})
		}
	}

	s.metrics.AddInvalidated(string(flow), len(result.Invalidated))
	if len(result.Invalidated) > 0 || result.Failed > 0 {
		s.logger.InfoContext(ctx, "expired sessions swept",
			"flow", string(flow),
			"invalidated", len(result.Invalidated),
			"failed", result.Failed,
		)
	}
	return result, nil
}

func (s *Service) invalidateOne(ctx context.Context, id models.SessionID, policy flows.Policy, now time.Time) (*models.Session, *models.Questionnaire, *models.PendingCompletion, error) {
	var (
		sess *models.Session
		qn   *models.Questionnaire
		pc   *models.PendingCompletion
	)
	err := s.tx.RunInTx(withSessionKey(ctx, id), func(store Store) error {
		var err error
		sess, qn, err = loadSession(ctx, store, id, true)
		if err != nil {
			return err
		}
		if sess.Frozen || sess.Invalidated || !sess.IsExpired(now) {
			return errSkipped
		}
		if err := store.InvalidateSession(ctx, id); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) || errors.Is(err, sentinel.ErrInvalidState) {
				return errSkipped
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to invalidate session")
		}
		sess.ApplyInvalidation()

		if policy.OnExpire != nil {
			pc = &models.PendingCompletion{
				Session:       id,
				Flow:          policy.Flow,
				Kind:          models.CompletionExpire,
				NextAttemptAt: now.Add(s.retry.Lease),
				CreatedAt:     now,
			}
			if err := store.SaveCompletion(ctx, pc); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue completion")
			}
		}
		return nil
	})
	return sess, qn, pc, err
}

// RetryCompletions re-runs due completions whose hooks failed earlier (or
// whose process died before running them). It returns how many succeeded.
func (s *Service) RetryCompletions(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "service.RetryCompletions")
	defer span.End()

	now := requestcontext.Now(ctx)
	due, err := s.store.ListDueCompletions(ctx, now, s.retry.MaxAttempts, s.batchSize)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list due completions")
	}

	succeeded := 0
	for _, pc := range due {
		claimed, err := s.store.ClaimCompletion(ctx, pc.Session, pc.Kind, now, now.Add(s.retry.Lease))
		if err != nil {
			s.logger.WarnContext(ctx, "failed to claim completion",
				"session_id", pc.Session.String(),
				"kind", string(pc.Kind),
				"error", err,
			)
			continue
		}
		if !claimed {
			continue
		}

		hook, c, err := s.completionFor(ctx, pc)
		if err != nil {
			s.recordCompletionFailure(ctx, pc, err)
			continue
		}
		if hook == nil {
			if err := s.store.DeleteCompletion(ctx, pc.Session, pc.Kind); err != nil {
				s.logger.WarnContext(ctx, "failed to clear completion",
					"session_id", pc.Session.String(),
					"kind", string(pc.Kind),
					"error", err,
				)
			}
			continue
		}
		if s.runCompletion(ctx, pc, hook, c) {
			succeeded++
		}
	}
	span.SetAttributes(
		attribute.Int("completions.due", len(due)),
		attribute.Int("completions.succeeded", succeeded),
	)
	return succeeded, nil
}

// completionFor rebuilds the hook input of a queued completion. Freeze
// completions recompute the path from the stored answers, which no longer
// change once the session is frozen.
func (s *Service) completionFor(ctx context.Context, pc *models.PendingCompletion) (flows.Hook, flows.Completion, error) {
	sess, qn, err := loadSession(ctx, s.store, pc.Session, false)
	if err != nil {
		return nil, flows.Completion{}, err
	}
	policy, err := s.policies.Policy(qn.Flow)
	if err != nil {
		return nil, flows.Completion{}, err
	}
	c := flows.Completion{Session: sess, Questionnaire: qn, Now: pc.CreatedAt}

	switch pc.Kind {
	case models.CompletionFreeze:
		if !sess.Frozen {
			return nil, c, fmt.Errorf("session %s has a freeze completion but is not frozen", sess.ID)
		}
		in, err := s.loadPathInputs(ctx, s.store, qn, sess.ID)
		if err != nil {
			return nil, c, err
		}
		c.Path, err = session.ComputePath(in.graph, in.questions, in.answers)
		if err != nil {
			return nil, c, err
		}
		return policy.OnFreeze, c, nil
	case models.CompletionExpire:
		return policy.OnExpire, c, nil
	default:
		return nil, c, fmt.Errorf("unknown completion kind %q", pc.Kind)
	}
}

// RunCleanup sweeps every flow for expired sessions each interval until ctx
// is cancelled.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, flow := range models.Flows {
				if _, err := s.InvalidateExpired(ctx, flow); err != nil {
					s.logger.ErrorContext(ctx, "cleanup sweep failed", "flow", string(flow), "error", err)
				}
			}
		}
	}
}

// RunRetries re-runs due completions each interval until ctx is cancelled.
func (s *Service) RunRetries(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RetryCompletions(ctx); err != nil {
				s.logger.ErrorContext(ctx, "completion retry failed", "error", err)
			}
		}
	}
}
