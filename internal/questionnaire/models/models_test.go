package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signals/internal/questionnaire/models"
	dErrors "signals/pkg/domain-errors"
)

type ModelsSuite struct {
	suite.Suite
	now time.Time
}

func TestModelsSuite(t *testing.T) {
	suite.Run(t, new(ModelsSuite))
}

func (s *ModelsSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *ModelsSuite) TestPayloadEquality() {
	s.Run("compares decoded values", func() {
		s.True(models.Payload(`"a"`).Equal(models.Payload(` "a" `)))
		s.True(models.Payload(`{"x":1,"y":[1,2]}`).Equal(models.Payload(`{"y":[1,2],"x":1}`)))
		s.True(models.Payload(`1.0`).Equal(models.Payload(`1`)))
		s.True(models.Payload(`9007199254740993`).Equal(models.Payload(` 9007199254740993`)))
	})

	s.Run("is exact, not partial", func() {
		s.False(models.Payload(`"a"`).Equal(models.Payload(`"ab"`)))
		s.False(models.Payload(`["a"]`).Equal(models.Payload(`["a","b"]`)))
		s.False(models.Payload(`1`).Equal(models.Payload(`"1"`)))
		s.False(models.Payload(`9007199254740993`).Equal(models.Payload(`9007199254740992`)))
		s.False(models.Payload(`[18014398509481985]`).Equal(models.Payload(`[18014398509481984]`)))
	})

	s.Run("null only equals null", func() {
		s.True(models.Payload(nil).Equal(models.Payload(`null`)))
		s.False(models.Payload(nil).Equal(models.Payload(`"a"`)))
	})

	s.Run("undecodable payloads never match", func() {
		s.False(models.Payload(`{`).Equal(models.Payload(`{`)))
	})
}

func (s *ModelsSuite) TestEdgeMatching() {
	choice := &models.Choice{ID: 1, Payload: models.PayloadOf("yes")}

	s.Run("default edge matches anything", func() {
		e := models.Edge{ID: 1}
		s.True(e.Matches(models.PayloadOf("whatever")))
		s.True(e.Matches(nil))
	})

	s.Run("choice edge matches its payload only", func() {
		e := models.Edge{ID: 2, Choice: choice}
		s.True(e.Matches(models.PayloadOf("yes")))
		s.False(e.Matches(models.PayloadOf("no")))
		s.False(e.Matches(nil))
	})

	s.Run("sorts by order then id", func() {
		edges := []models.Edge{{ID: 9, Order: 1}, {ID: 3, Order: 2}, {ID: 2, Order: 1}}
		models.SortEdges(edges)
		s.Equal([]models.EdgeID{2, 9, 3}, []models.EdgeID{edges[0].ID, edges[1].ID, edges[2].ID})
	})
}

func (s *ModelsSuite) TestLatestAnswers() {
	older := models.Answer{ID: 10, Question: 1, Payload: models.PayloadOf("old"), CreatedAt: s.now}
	newer := models.Answer{ID: 5, Question: 1, Payload: models.PayloadOf("new"), CreatedAt: s.now.Add(time.Second)}
	tieLow := models.Answer{ID: 20, Question: 2, Payload: models.PayloadOf("low"), CreatedAt: s.now}
	tieHigh := models.Answer{ID: 21, Question: 2, Payload: models.PayloadOf("high"), CreatedAt: s.now}

	s.Run("later createdAt wins regardless of insertion order", func() {
		forward := models.LatestAnswers([]models.Answer{older, newer})
		backward := models.LatestAnswers([]models.Answer{newer, older})
		s.Equal(newer.ID, forward[1].ID)
		s.Equal(newer.ID, backward[1].ID)
	})

	s.Run("ties go to the higher id", func() {
		latest := models.LatestAnswers([]models.Answer{tieHigh, tieLow})
		s.Equal(tieHigh.ID, latest[2].ID)
	})
}

func (s *ModelsSuite) TestSessionAccessibility() {
	s.Run("fresh session is accessible", func() {
		session := models.NewSession(1, nil, s.now, 24*time.Hour, 0)
		s.NoError(session.CheckAccessible(s.now))
		s.Equal(models.SessionStateOpen, session.State())
	})

	s.Run("past submitBefore expires", func() {
		session := models.NewSession(1, nil, s.now, time.Hour, 0)
		err := session.CheckAccessible(s.now.Add(2 * time.Hour))
		s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))
	})

	s.Run("duration counts from the first answer", func() {
		session := models.NewSession(1, nil, s.now, 0, 30*time.Minute)
		s.NoError(session.CheckAccessible(s.now.Add(48 * time.Hour)))

		session.Start(s.now.Add(48 * time.Hour))
		s.Equal(models.SessionStateAnswering, session.State())
		err := session.CheckAccessible(s.now.Add(49 * time.Hour))
		s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))
	})

	s.Run("frozen takes precedence over expiry", func() {
		session := models.NewSession(1, nil, s.now, time.Hour, 0)
		session.ApplyFreeze(s.now)
		err := session.CheckAccessible(s.now.Add(2 * time.Hour))
		s.True(dErrors.HasCode(err, dErrors.CodeSessionFrozen))
		s.Equal(models.SessionStateFrozen, session.State())
	})

	s.Run("invalidated sessions are closed", func() {
		session := models.NewSession(1, nil, s.now, 0, 0)
		session.ApplyInvalidation()
		err := session.CheckAccessible(s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeSessionInvalidated))
	})

	s.Run("start only sets the clock once", func() {
		session := models.NewSession(1, nil, s.now, 0, 0)
		s.True(session.Start(s.now))
		s.False(session.Start(s.now.Add(time.Minute)))
		s.Equal(s.now, *session.StartedAt)
	})
}

func (s *ModelsSuite) TestPendingCompletionBackoff() {
	c := &models.PendingCompletion{}
	boom := errors.New("incident backend unavailable")

	c.RecordFailure(boom, s.now, time.Minute, 10*time.Minute)
	s.Equal(1, c.Attempts)
	s.Equal(s.now.Add(time.Minute), c.NextAttemptAt)

	c.RecordFailure(boom, s.now, time.Minute, 10*time.Minute)
	s.Equal(s.now.Add(2*time.Minute), c.NextAttemptAt)

	for i := 0; i < 10; i++ {
		c.RecordFailure(boom, s.now, time.Minute, 10*time.Minute)
	}
	s.Equal(s.now.Add(10*time.Minute), c.NextAttemptAt)
	s.Equal("incident backend unavailable", c.LastError)
}
