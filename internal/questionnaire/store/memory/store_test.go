package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signals/internal/questionnaire/models"
	"signals/pkg/platform/sentinel"
)

// Terminal transitions and listing filters are store semantics the service
// relies on, so they are pinned here.
type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
	now   time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) questionnaire(flow models.Flow) *models.Questionnaire {
	q := &models.Question{AnalysisKey: "q", FieldType: models.FieldTypePlainText, Required: true}
	s.Require().NoError(s.store.CreateQuestion(s.ctx, q))
	g := &models.QuestionGraph{Name: "g", FirstQuestion: &q.ID}
	s.Require().NoError(s.store.CreateGraph(s.ctx, g))
	qn := &models.Questionnaire{Graph: g.ID, Flow: flow, Name: string(flow), IsActive: true}
	s.Require().NoError(s.store.CreateQuestionnaire(s.ctx, qn))
	return qn
}

func (s *StoreSuite) session(flow models.Flow, submitWithin time.Duration) *models.Session {
	qn := s.questionnaire(flow)
	session := models.NewSession(qn.ID, nil, s.now, submitWithin, 0)
	s.Require().NoError(s.store.CreateSession(s.ctx, session))
	return session
}

func (s *StoreSuite) TestFreezeIsOneWay() {
	session := s.session(models.FlowFeedbackRequest, 0)

	s.Require().NoError(s.store.FreezeSession(s.ctx, session.ID, s.now))
	s.ErrorIs(s.store.FreezeSession(s.ctx, session.ID, s.now), sentinel.ErrAlreadyUsed)
	s.ErrorIs(s.store.InvalidateSession(s.ctx, session.ID), sentinel.ErrInvalidState)

	found, err := s.store.FindSession(s.ctx, session.ID)
	s.Require().NoError(err)
	s.True(found.Frozen)
	s.False(found.Invalidated)
	s.Equal(s.now, *found.FrozenAt)
}

func (s *StoreSuite) TestInvalidateIsOneWay() {
	session := s.session(models.FlowForwardToExternal, time.Hour)

	s.Require().NoError(s.store.InvalidateSession(s.ctx, session.ID))
	s.ErrorIs(s.store.InvalidateSession(s.ctx, session.ID), sentinel.ErrAlreadyUsed)
	s.ErrorIs(s.store.FreezeSession(s.ctx, session.ID, s.now), sentinel.ErrInvalidState)
}

func (s *StoreSuite) TestMarkStartedKeepsFirstValue() {
	session := s.session(models.FlowFeedbackRequest, 0)

	s.Require().NoError(s.store.MarkStarted(s.ctx, session.ID, s.now))
	s.Require().NoError(s.store.MarkStarted(s.ctx, session.ID, s.now.Add(time.Hour)))

	found, err := s.store.FindSession(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(s.now, *found.StartedAt)
}

func (s *StoreSuite) TestUnknownRows() {
	_, err := s.store.FindSession(s.ctx, models.NewSessionID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindGraph(s.ctx, 404)
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.store.CreateAnswer(s.ctx, &models.Answer{Session: models.NewSessionID(), Question: 1})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestAnswersAreAppendOnlyCopies() {
	session := s.session(models.FlowExtraProperties, 0)
	answer := &models.Answer{Session: session.ID, Question: 1, Payload: models.PayloadOf("first"), CreatedAt: s.now}
	s.Require().NoError(s.store.CreateAnswer(s.ctx, answer))
	second := &models.Answer{Session: session.ID, Question: 1, Payload: models.PayloadOf("second"), CreatedAt: s.now}
	s.Require().NoError(s.store.CreateAnswer(s.ctx, second))
	s.Greater(second.ID, answer.ID)

	answer.Payload[1] = 'X'

	answers, err := s.store.ListAnswers(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Require().Len(answers, 2)
	s.True(answers[0].Payload.Equal(models.PayloadOf("first")))
}

func (s *StoreSuite) TestUpdateEdgeOrdersIsAllOrNothing() {
	a := &models.Question{AnalysisKey: "a", FieldType: models.FieldTypePlainText}
	b := &models.Question{AnalysisKey: "b", FieldType: models.FieldTypePlainText}
	s.Require().NoError(s.store.CreateQuestion(s.ctx, a))
	s.Require().NoError(s.store.CreateQuestion(s.ctx, b))
	g := &models.QuestionGraph{Name: "g", FirstQuestion: &a.ID}
	s.Require().NoError(s.store.CreateGraph(s.ctx, g))
	edge := &models.Edge{Graph: g.ID, Question: a.ID, NextQuestion: b.ID, Order: 1}
	s.Require().NoError(s.store.CreateEdge(s.ctx, edge))

	err := s.store.UpdateEdgeOrders(s.ctx, g.ID, map[models.EdgeID]int{edge.ID: 5, 999: 1})
	s.ErrorIs(err, sentinel.ErrNotFound)

	edges, err := s.store.ListEdges(s.ctx, g.ID)
	s.Require().NoError(err)
	s.Equal(1, edges[0].Order)

	s.Require().NoError(s.store.UpdateEdgeOrders(s.ctx, g.ID, map[models.EdgeID]int{edge.ID: 5}))
	edges, err = s.store.ListEdges(s.ctx, g.ID)
	s.Require().NoError(err)
	s.Equal(5, edges[0].Order)
}

func (s *StoreSuite) TestListExpiredSessions() {
	expired := s.session(models.FlowForwardToExternal, time.Hour)
	s.session(models.FlowForwardToExternal, 72*time.Hour)
	s.session(models.FlowFeedbackRequest, time.Hour)
	frozen := s.session(models.FlowForwardToExternal, time.Hour)
	s.Require().NoError(s.store.FreezeSession(s.ctx, frozen.ID, s.now))

	sessions, err := s.store.ListExpiredSessions(s.ctx, models.FlowForwardToExternal, s.now.Add(2*time.Hour), 0)
	s.Require().NoError(err)
	s.Require().Len(sessions, 1)
	s.Equal(expired.ID, sessions[0].ID)
}

func (s *StoreSuite) TestListDueCompletions() {
	due := &models.PendingCompletion{Session: models.NewSessionID(), Flow: models.FlowReactionRequest, Kind: models.CompletionFreeze, NextAttemptAt: s.now}
	later := &models.PendingCompletion{Session: models.NewSessionID(), Flow: models.FlowReactionRequest, Kind: models.CompletionFreeze, NextAttemptAt: s.now.Add(time.Hour)}
	exhausted := &models.PendingCompletion{Session: models.NewSessionID(), Flow: models.FlowReactionRequest, Kind: models.CompletionExpire, Attempts: 10, NextAttemptAt: s.now}
	for _, c := range []*models.PendingCompletion{due, later, exhausted} {
		s.Require().NoError(s.store.SaveCompletion(s.ctx, c))
	}

	list, err := s.store.ListDueCompletions(s.ctx, s.now, 10, 0)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(due.Session, list[0].Session)

	s.Require().NoError(s.store.DeleteCompletion(s.ctx, due.Session, models.CompletionFreeze))
	list, err = s.store.ListDueCompletions(s.ctx, s.now, 10, 0)
	s.Require().NoError(err)
	s.Empty(list)
}
