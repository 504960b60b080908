// Package service orchestrates questionnaire sessions: accepting answers,
// exposing a session's live path, freezing it and running the flow's
// completion side effects, and sweeping expired sessions.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"signals/internal/questionnaire/flows"
	"signals/internal/questionnaire/graph"
	"signals/internal/questionnaire/metrics"
	"signals/internal/questionnaire/models"
	"signals/internal/questionnaire/validation"
	"signals/pkg/attrs"
	dErrors "signals/pkg/domain-errors"
	"signals/pkg/platform/audit"
	"signals/pkg/platform/sentinel"
	"signals/pkg/requestcontext"
)

var tracer = otel.Tracer("signals.questionnaire.service")

func markFailed(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// Store is the persistence the service needs. Implementations return
// sentinel errors for store facts (not found, already frozen, ...).
type Store interface {
	flows.Writer

	FindQuestionnaire(ctx context.Context, id models.QuestionnaireID) (*models.Questionnaire, error)
	FindQuestions(ctx context.Context, ids []models.QuestionID) (map[models.QuestionID]models.Question, error)

	CreateSession(ctx context.Context, session *models.Session) error
	FindSession(ctx context.Context, id models.SessionID) (*models.Session, error)
	// FindSessionForUpdate locks the session row for the rest of the transaction.
	FindSessionForUpdate(ctx context.Context, id models.SessionID) (*models.Session, error)
	MarkStarted(ctx context.Context, id models.SessionID, startedAt time.Time) error
	// FreezeSession flips frozen false→true; ErrAlreadyUsed when already frozen.
	FreezeSession(ctx context.Context, id models.SessionID, frozenAt time.Time) error
	// InvalidateSession flips invalidated false→true; ErrAlreadyUsed when already invalidated.
	InvalidateSession(ctx context.Context, id models.SessionID) error
	ListExpiredSessions(ctx context.Context, flow models.Flow, now time.Time, limit int) ([]*models.Session, error)

	CreateAnswer(ctx context.Context, answer *models.Answer) error
	ListAnswers(ctx context.Context, session models.SessionID) ([]models.Answer, error)

	SaveCompletion(ctx context.Context, completion *models.PendingCompletion) error
	DeleteCompletion(ctx context.Context, session models.SessionID, kind models.CompletionKind) error
	// ClaimCompletion pushes a due completion's next attempt to until and
	// reports whether this caller won it.
	ClaimCompletion(ctx context.Context, session models.SessionID, kind models.CompletionKind, now, until time.Time) (bool, error)
	ListDueCompletions(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*models.PendingCompletion, error)
}

// Graphs loads in-memory graphs by id.
type Graphs interface {
	Load(ctx context.Context, id models.GraphID) (*graph.Graph, error)
}

type Validator interface {
	Validate(payload models.Payload, q *models.Question) error
}

// Policies selects the completion policy of a flow.
type Policies interface {
	Policy(flow models.Flow) (flows.Policy, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// RetryPolicy governs how failed completion side effects are retried. Lease
// is how long a running completion is hidden from the retry worker.
type RetryPolicy struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
	Lease       time.Duration
}

var defaultRetryPolicy = RetryPolicy{
	BaseBackoff: 30 * time.Second,
	MaxBackoff:  time.Hour,
	MaxAttempts: 10,
	Lease:       5 * time.Minute,
}

const defaultBatchSize = 100

// Service orchestrates questionnaire sessions.
type Service struct {
	store          Store
	tx             Tx
	graphs         Graphs
	policies       Policies
	validator      Validator
	maxQuestions   int
	retry          RetryPolicy
	batchSize      int
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
}

type Option func(*Service)

// WithTx sets the transaction runner. Defaults to a per-session lock over store.
func WithTx(tx Tx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithValidator(v Validator) Option {
	return func(s *Service) {
		s.validator = v
	}
}

func WithMaxQuestions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxQuestions = n
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) {
		if p.BaseBackoff > 0 {
			s.retry.BaseBackoff = p.BaseBackoff
		}
		if p.MaxBackoff > 0 {
			s.retry.MaxBackoff = p.MaxBackoff
		}
		if p.MaxAttempts > 0 {
			s.retry.MaxAttempts = p.MaxAttempts
		}
		if p.Lease > 0 {
			s.retry.Lease = p.Lease
		}
	}
}

// WithBatchSize bounds how many sessions or completions one sweep handles.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// New constructs a Service.
func New(store Store, graphs Graphs, policies Policies, opts ...Option) *Service {
	s := &Service{
		store:        store,
		graphs:       graphs,
		policies:     policies,
		maxQuestions: models.MaxQuestions,
		retry:        defaultRetryPolicy,
		batchSize:    defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = NewMemoryTx(store)
	}
	if s.validator == nil {
		s.validator = validation.New()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// loadSession fetches a session and its questionnaire, mapping missing rows
// to not_found.
func loadSession(ctx context.Context, store Store, id models.SessionID, forUpdate bool) (*models.Session, *models.Questionnaire, error) {
	find := store.FindSession
	if forUpdate {
		find = store.FindSessionForUpdate
	}
	sess, err := find(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	qn, err := findQuestionnaire(ctx, store, sess.Questionnaire)
	if err != nil {
		return nil, nil, err
	}
	return sess, qn, nil
}

func findQuestionnaire(ctx context.Context, store Store, id models.QuestionnaireID) (*models.Questionnaire, error) {
	qn, err := store.FindQuestionnaire(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.NewField(dErrors.CodeNotFound, "questionnaire_id", "questionnaire not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load questionnaire")
	}
	return qn, nil
}

// pathInputs loads everything path computation needs for a session.
type pathInputs struct {
	graph     *graph.Graph
	questions map[models.QuestionID]models.Question
	answers   []models.Answer
}

func (s *Service) loadPathInputs(ctx context.Context, store Store, qn *models.Questionnaire, session models.SessionID) (*pathInputs, error) {
	g, err := s.graphs.Load(ctx, qn.Graph)
	if err != nil {
		return nil, err
	}
	questions, err := store.FindQuestions(ctx, g.Questions())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load questions")
	}
	answers, err := store.ListAnswers(ctx, session)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load answers")
	}
	return &pathInputs{graph: g, questions: questions, answers: answers}, nil
}

// logAudit logs an audit event and hands it to the audit publisher. Audit
// failures are logged and never fail the operation.
func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	s.logger.InfoContext(ctx, string(event), args...)
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Subject:  attrs.First(attributes, "session_id", "subject"),
		Action:   string(event),
		Flow:     attrs.String(attributes, "flow"),
		Decision: attrs.String(attributes, "decision"),
		Reason:   attrs.String(attributes, "reason"),
		ActorID:  attrs.String(attributes, "actor_id"),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "event", string(event), "error", err)
	}
}
