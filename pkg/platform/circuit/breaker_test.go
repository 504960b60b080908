package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type BreakerSuite struct {
	suite.Suite
	now time.Time
	b   *Breaker
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerSuite))
}

func (s *BreakerSuite) SetupTest() {
	s.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.b = New("notifier",
		WithFailureThreshold(3),
		WithSuccessThreshold(2),
		WithCooldown(time.Minute),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *BreakerSuite) trip() {
	for range 3 {
		s.b.RecordFailure()
	}
	s.Require().True(s.b.IsOpen())
}

func (s *BreakerSuite) TestStartsClosed() {
	s.Equal("notifier", s.b.Name())
	s.Equal(StateClosed, s.b.State())
	s.True(s.b.Allow())
}

func (s *BreakerSuite) TestOpensOnConsecutiveFailures() {
	useFallback, change := s.b.RecordFailure()
	s.False(useFallback)
	s.False(change.Opened)

	// A success in between restarts the count.
	s.b.RecordFailure()
	s.b.RecordSuccess()
	s.b.RecordFailure()
	s.b.RecordFailure()
	s.False(s.b.IsOpen())

	useFallback, change = s.b.RecordFailure()
	s.True(useFallback)
	s.True(change.Opened)
	s.Equal(StateOpen, s.b.State())
}

func (s *BreakerSuite) TestOpenBreakerProbesOncePerCooldown() {
	s.trip()
	s.False(s.b.Allow())

	s.now = s.now.Add(time.Minute)
	s.True(s.b.Allow(), "cooldown elapsed")
	s.False(s.b.Allow(), "one probe per cooldown")

	// A failed probe pushes the next probe out again.
	s.now = s.now.Add(30 * time.Second)
	useFallback, change := s.b.RecordFailure()
	s.True(useFallback)
	s.False(change.Opened)
	s.now = s.now.Add(59 * time.Second)
	s.False(s.b.Allow())
}

func (s *BreakerSuite) TestClosesAfterSuccessThreshold() {
	s.trip()

	usePrimary, change := s.b.RecordSuccess()
	s.False(usePrimary)
	s.False(change.Closed)

	usePrimary, change = s.b.RecordSuccess()
	s.True(usePrimary)
	s.True(change.Closed)
	s.Equal(StateClosed, s.b.State())
}

func (s *BreakerSuite) TestReset() {
	s.trip()
	s.b.Reset()

	s.Equal(StateClosed, s.b.State())
	s.True(s.b.Allow())
	s.b.RecordFailure()
	s.b.RecordFailure()
	s.False(s.b.IsOpen(), "counters cleared")
}

func TestDefaults(t *testing.T) {
	b := New("x", WithFailureThreshold(0), WithCooldown(-time.Second))
	for range 4 {
		b.RecordFailure()
	}
	if b.IsOpen() {
		t.Fatal("opened before the default threshold of 5")
	}
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("expected open after 5 failures")
	}
}
