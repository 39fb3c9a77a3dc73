package local

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"anyzine/internal/ratelimit/models"
)

type CounterSuite struct {
	suite.Suite
	counter *Counter
	now     time.Time
}

func TestCounterSuite(t *testing.T) {
	suite.Run(t, new(CounterSuite))
}

func (s *CounterSuite) SetupTest() {
	s.counter = New()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

var anonKey = models.IdentityKey{Kind: models.IdentitySession, Value: "sess-1"}

func (s *CounterSuite) TestCheckIsReadOnly() {
	for range 3 {
		result := s.counter.Check(anonKey, models.TierAnonymous, s.now)
		s.True(result.Allowed)
		s.Equal(2, result.Remaining)
	}
	s.Zero(s.counter.Len())
}

func (s *CounterSuite) TestTakeMatchesPrimaryPath() {
	first := s.counter.Take(anonKey, models.TierAnonymous, s.now)
	s.True(first.Allowed)
	s.Equal(1, first.Remaining)
	s.Equal(s.now.Add(time.Hour), first.ResetAt)

	second := s.counter.Take(anonKey, models.TierAnonymous, s.now.Add(time.Minute))
	s.True(second.Allowed)
	s.Equal(0, second.Remaining)
	s.Equal(s.now.Add(time.Hour), second.ResetAt, "window end does not move on increment")

	third := s.counter.Take(anonKey, models.TierAnonymous, s.now.Add(2*time.Minute))
	s.False(third.Allowed)
	s.Equal(0, third.Remaining)
	s.Equal(3480, third.RetryAfter)
}

func (s *CounterSuite) TestRecordThenCheck() {
	s.counter.Record(anonKey, models.TierAnonymous, s.now)
	s.counter.Record(anonKey, models.TierAnonymous, s.now)
	s.counter.Record(anonKey, models.TierAnonymous, s.now)

	result := s.counter.Check(anonKey, models.TierAnonymous, s.now)
	s.False(result.Allowed)
	s.Equal(2, result.Limit)
}

func (s *CounterSuite) TestExactWindowEndStartsFreshWindow() {
	s.counter.Take(anonKey, models.TierAnonymous, s.now)
	s.counter.Take(anonKey, models.TierAnonymous, s.now)

	result := s.counter.Take(anonKey, models.TierAnonymous, s.now.Add(time.Hour))
	s.True(result.Allowed)
	s.Equal(1, result.Remaining)
	s.Equal(s.now.Add(2*time.Hour), result.ResetAt)
}

func (s *CounterSuite) TestIdentitiesAreIndependent() {
	subject := models.IdentityKey{Kind: models.IdentitySubject, Value: "sess-1"}
	s.counter.Take(anonKey, models.TierAnonymous, s.now)
	s.counter.Take(anonKey, models.TierAnonymous, s.now)

	result := s.counter.Take(subject, models.TierAuthenticated, s.now)
	s.True(result.Allowed)
	s.Equal(9, result.Remaining)
	s.Equal(10, result.Limit)
}

func (s *CounterSuite) TestSweepIsThrottled() {
	s.counter = New(WithSweepInterval(10 * time.Minute))
	s.counter.Take(anonKey, models.TierAnonymous, s.now)
	other := models.IdentityKey{Kind: models.IdentityNetworkAddress, Value: "203.0.113.9"}

	// The first call swept immediately; nothing had expired yet.
	s.Equal(1, s.counter.Len())

	s.counter.Check(other, models.TierAnonymous, s.now.Add(55*time.Minute))
	s.Equal(1, s.counter.Len())

	// Expired, but the next sweep is not due until 65m.
	s.counter.Check(other, models.TierAnonymous, s.now.Add(61*time.Minute))
	s.Equal(1, s.counter.Len())

	s.counter.Check(other, models.TierAnonymous, s.now.Add(65*time.Minute))
	s.Zero(s.counter.Len())
}

func (s *CounterSuite) TestInvalidKeyIsNotRecorded() {
	result := s.counter.Take(models.IdentityKey{}, models.TierAnonymous, s.now)
	s.True(result.Allowed)
	s.Zero(s.counter.Len())
}
