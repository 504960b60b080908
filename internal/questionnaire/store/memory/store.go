// Package memory is the in-process questionnaire store used by tests and by
// the server when no database is configured.
//
// Error contract:
//   - ErrNotFound when the requested row does not exist
//   - ErrAlreadyUsed when a one-way transition (freeze, invalidate) already happened
//   - ErrInvalidState when the opposite terminal transition already happened
//
// Rows are copied in and out so callers never share memory with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"signals/internal/questionnaire/models"
	"signals/pkg/platform/sentinel"
)

type completionKey struct {
	session models.SessionID
	kind    models.CompletionKind
}

// Store keeps questionnaire configuration and session data in maps.
type Store struct {
	mu sync.RWMutex

	questions      map[models.QuestionID]models.Question
	graphs         map[models.GraphID]models.QuestionGraph
	edges          map[models.GraphID][]models.Edge
	questionnaires map[models.QuestionnaireID]models.Questionnaire
	sessions       map[models.SessionID]models.Session
	answers        map[models.SessionID][]models.Answer
	completions    map[completionKey]models.PendingCompletion

	nextQuestion      models.QuestionID
	nextChoice        models.ChoiceID
	nextGraph         models.GraphID
	nextEdge          models.EdgeID
	nextQuestionnaire models.QuestionnaireID
	nextAnswer        models.AnswerID
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		questions:      make(map[models.QuestionID]models.Question),
		graphs:         make(map[models.GraphID]models.QuestionGraph),
		edges:          make(map[models.GraphID][]models.Edge),
		questionnaires: make(map[models.QuestionnaireID]models.Questionnaire),
		sessions:       make(map[models.SessionID]models.Session),
		answers:        make(map[models.SessionID][]models.Answer),
		completions:    make(map[completionKey]models.PendingCompletion),
	}
}

// CreateQuestion assigns ids to the question and its choices.
func (s *Store) CreateQuestion(_ context.Context, q *models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextQuestion++
	q.ID = s.nextQuestion
	for i := range q.Choices {
		s.nextChoice++
		q.Choices[i].ID = s.nextChoice
		q.Choices[i].Question = q.ID
	}
	s.questions[q.ID] = cloneQuestion(*q)
	return nil
}

func (s *Store) CreateGraph(_ context.Context, g *models.QuestionGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGraph++
	g.ID = s.nextGraph
	s.graphs[g.ID] = *g
	return nil
}

// CreateEdge requires the graph and both questions to exist.
func (s *Store) CreateEdge(_ context.Context, e *models.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[e.Graph]; !ok {
		return fmt.Errorf("graph %d: %w", e.Graph, sentinel.ErrNotFound)
	}
	if _, ok := s.questions[e.Question]; !ok {
		return fmt.Errorf("question %d: %w", e.Question, sentinel.ErrNotFound)
	}
	if _, ok := s.questions[e.NextQuestion]; !ok {
		return fmt.Errorf("question %d: %w", e.NextQuestion, sentinel.ErrNotFound)
	}
	s.nextEdge++
	e.ID = s.nextEdge
	e.Choice = cloneChoice(e.Choice)
	s.edges[e.Graph] = append(s.edges[e.Graph], *e)
	return nil
}

func (s *Store) CreateQuestionnaire(_ context.Context, q *models.Questionnaire) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[q.Graph]; !ok {
		return fmt.Errorf("graph %d: %w", q.Graph, sentinel.ErrNotFound)
	}
	s.nextQuestionnaire++
	q.ID = s.nextQuestionnaire
	s.questionnaires[q.ID] = *q
	return nil
}

func (s *Store) FindGraph(_ context.Context, id models.GraphID) (*models.QuestionGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[id]
	if !ok {
		return nil, fmt.Errorf("graph %d: %w", id, sentinel.ErrNotFound)
	}
	return &g, nil
}

func (s *Store) ListEdges(_ context.Context, id models.GraphID) ([]models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edges := make([]models.Edge, 0, len(s.edges[id]))
	for _, e := range s.edges[id] {
		e.Choice = cloneChoice(e.Choice)
		edges = append(edges, e)
	}
	models.SortEdges(edges)
	return edges, nil
}

// UpdateEdgeOrders applies all orders or none.
func (s *Store) UpdateEdgeOrders(_ context.Context, id models.GraphID, orders map[models.EdgeID]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	edges := s.edges[id]
	found := 0
	for _, e := range edges {
		if _, ok := orders[e.ID]; ok {
			found++
		}
	}
	if found != len(orders) {
		return fmt.Errorf("graph %d edges: %w", id, sentinel.ErrNotFound)
	}
	for i := range edges {
		if order, ok := orders[edges[i].ID]; ok {
			edges[i].Order = order
		}
	}
	return nil
}

func (s *Store) FindQuestionnaire(_ context.Context, id models.QuestionnaireID) (*models.Questionnaire, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questionnaires[id]
	if !ok {
		return nil, fmt.Errorf("questionnaire %d: %w", id, sentinel.ErrNotFound)
	}
	return &q, nil
}

// FindQuestions returns the requested questions that exist; missing ids are
// left out of the result.
func (s *Store) FindQuestions(_ context.Context, ids []models.QuestionID) (map[models.QuestionID]models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.QuestionID]models.Question, len(ids))
	for _, id := range ids {
		if q, ok := s.questions[id]; ok {
			out[id] = cloneQuestion(q)
		}
	}
	return out, nil
}

func (s *Store) CreateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questionnaires[session.Questionnaire]; !ok {
		return fmt.Errorf("questionnaire %d: %w", session.Questionnaire, sentinel.ErrNotFound)
	}
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("session %s: %w", session.ID, sentinel.ErrConflict)
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *Store) FindSession(_ context.Context, id models.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}
	return &session, nil
}

// FindSessionForUpdate is FindSession; callers serialize through the
// service's transaction runner.
func (s *Store) FindSessionForUpdate(ctx context.Context, id models.SessionID) (*models.Session, error) {
	return s.FindSession(ctx, id)
}

// MarkStarted sets startedAt once; later calls keep the first value.
func (s *Store) MarkStarted(_ context.Context, id models.SessionID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}
	if session.StartedAt == nil {
		session.StartedAt = &startedAt
		s.sessions[id] = session
	}
	return nil
}

// FreezeSession flips frozen from false to true.
func (s *Store) FreezeSession(_ context.Context, id models.SessionID, frozenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}
	if session.Frozen {
		return fmt.Errorf("session %s frozen: %w", id, sentinel.ErrAlreadyUsed)
	}
	if session.Invalidated {
		return fmt.Errorf("session %s invalidated: %w", id, sentinel.ErrInvalidState)
	}
	session.ApplyFreeze(frozenAt)
	s.sessions[id] = session
	return nil
}

// InvalidateSession flips invalidated from false to true on a session that is
// not frozen.
func (s *Store) InvalidateSession(_ context.Context, id models.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}
	if session.Invalidated {
		return fmt.Errorf("session %s invalidated: %w", id, sentinel.ErrAlreadyUsed)
	}
	if session.Frozen {
		return fmt.Errorf("session %s frozen: %w", id, sentinel.ErrInvalidState)
	}
	session.ApplyInvalidation()
	s.sessions[id] = session
	return nil
}

// ListExpiredSessions returns open sessions of the flow whose deadline passed
// before now, oldest first.
func (s *Store) ListExpiredSessions(_ context.Context, flow models.Flow, now time.Time, limit int) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []*models.Session
	for _, session := range s.sessions {
		if session.Frozen || session.Invalidated || !session.IsExpired(now) {
			continue
		}
		if s.questionnaires[session.Questionnaire].Flow != flow {
			continue
		}
		copied := session
		expired = append(expired, &copied)
	}
	sort.Slice(expired, func(i, j int) bool {
		if !expired[i].CreatedAt.Equal(expired[j].CreatedAt) {
			return expired[i].CreatedAt.Before(expired[j].CreatedAt)
		}
		return expired[i].ID.String() < expired[j].ID.String()
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// CreateAnswer appends an answer and assigns its id.
func (s *Store) CreateAnswer(_ context.Context, a *models.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[a.Session]; !ok {
		return fmt.Errorf("session %s: %w", a.Session, sentinel.ErrNotFound)
	}
	s.nextAnswer++
	a.ID = s.nextAnswer
	stored := *a
	stored.Payload = append(models.Payload(nil), a.Payload...)
	s.answers[a.Session] = append(s.answers[a.Session], stored)
	return nil
}

func (s *Store) ListAnswers(_ context.Context, session models.SessionID) ([]models.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	answers := make([]models.Answer, len(s.answers[session]))
	copy(answers, s.answers[session])
	return answers, nil
}

// SaveCompletion inserts or replaces the completion for (session, kind).
func (s *Store) SaveCompletion(_ context.Context, c *models.PendingCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions[completionKey{session: c.Session, kind: c.Kind}] = *c
	return nil
}

func (s *Store) DeleteCompletion(_ context.Context, session models.SessionID, kind models.CompletionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.completions, completionKey{session: session, kind: kind})
	return nil
}

// ClaimCompletion moves a due completion's next attempt to until, so only
// one caller runs it. It reports false when the completion is gone or not due.
func (s *Store) ClaimCompletion(_ context.Context, session models.SessionID, kind models.CompletionKind, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := completionKey{session: session, kind: kind}
	c, ok := s.completions[key]
	if !ok || c.NextAttemptAt.After(now) {
		return false, nil
	}
	c.NextAttemptAt = until
	s.completions[key] = c
	return true, nil
}

// ListDueCompletions returns completions whose next attempt is at or before
// now and that have fewer than maxAttempts failures, earliest first. A
// non-positive maxAttempts disables the attempt filter.
func (s *Store) ListDueCompletions(_ context.Context, now time.Time, maxAttempts, limit int) ([]*models.PendingCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*models.PendingCompletion
	for _, c := range s.completions {
		if c.NextAttemptAt.After(now) || (maxAttempts > 0 && c.Attempts >= maxAttempts) {
			continue
		}
		copied := c
		due = append(due, &copied)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].Session.String() < due[j].Session.String()
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func cloneQuestion(q models.Question) models.Question {
	q.Choices = append([]models.Choice(nil), q.Choices...)
	return q
}

func cloneChoice(c *models.Choice) *models.Choice {
	if c == nil {
		return nil
	}
	copied := *c
	return &copied
}
