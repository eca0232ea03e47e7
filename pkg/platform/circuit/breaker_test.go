package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const target = "https://hooks.example.com/alice"

type BreakerSuite struct {
	suite.Suite
	now time.Time
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerSuite))
}

func (s *BreakerSuite) SetupTest() {
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *BreakerSuite) breaker(opts ...Option) *Breaker {
	opts = append(opts, WithClock(func() time.Time { return s.now }))
	return New(target, opts...)
}

func (s *BreakerSuite) TestNewBreakerIsClosed() {
	b := s.breaker()
	s.Equal(target, b.Name())
	s.Equal(StateClosed, b.State())
	s.True(b.Allow())
}

func (s *BreakerSuite) TestConsecutiveFailuresOpen() {
	b := s.breaker(WithFailureThreshold(3))

	for i := 0; i < 2; i++ {
		open, change := b.RecordFailure()
		s.False(open)
		s.False(change.Opened)
	}
	open, change := b.RecordFailure()
	s.True(open)
	s.True(change.Opened)
	s.True(b.IsOpen())

	s.Run("further failures report no transition", func() {
		open, change := b.RecordFailure()
		s.True(open)
		s.False(change.Opened)
	})
}

func (s *BreakerSuite) TestSuccessClearsFailureStreak() {
	b := s.breaker(WithFailureThreshold(2))

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	s.False(b.IsOpen(), "failures must be consecutive")

	b.RecordFailure()
	s.True(b.IsOpen())
}

func (s *BreakerSuite) TestClosingNeedsConsecutiveSuccesses() {
	b := s.breaker(WithFailureThreshold(1), WithSuccessThreshold(2))
	b.RecordFailure()

	b.RecordSuccess()
	b.RecordFailure()
	closed, change := b.RecordSuccess()
	s.False(closed, "a failure restarts the success streak")
	s.False(change.Closed)

	closed, change = b.RecordSuccess()
	s.True(closed)
	s.True(change.Closed)
	s.Equal(StateClosed, b.State())
}

func (s *BreakerSuite) TestOpenBreakerAllowsOneTrialPerCooldown() {
	b := s.breaker(WithFailureThreshold(1), WithCooldown(time.Minute))
	b.RecordFailure()
	s.False(b.Allow())

	s.now = s.now.Add(time.Minute)
	s.True(b.Allow())
	s.False(b.Allow())

	s.now = s.now.Add(time.Minute)
	s.True(b.Allow())
	_, change := b.RecordSuccess()
	s.True(change.Closed)
	s.True(b.Allow())
}

func (s *BreakerSuite) TestResetCloses() {
	b := s.breaker(WithFailureThreshold(1))
	b.RecordFailure()

	b.Reset()
	s.Equal(StateClosed, b.State())
	s.True(b.Allow())
}

func (s *BreakerSuite) TestRegistryKeepsOneBreakerPerTarget() {
	r := NewRegistry(WithFailureThreshold(1))
	r.Get(target).RecordFailure()

	s.Same(r.Get(target), r.Get(target))
	s.True(r.Get(target).IsOpen())
	s.False(r.Get("https://hooks.example.com/bob").IsOpen())
}
