package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "anyzine/pkg/domain-errors"
)

type ModelsSuite struct {
	suite.Suite
	now time.Time
}

func TestModelsSuite(t *testing.T) {
	suite.Run(t, new(ModelsSuite))
}

func (s *ModelsSuite) SetupTest() {
	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
}

func (s *ModelsSuite) TestPolicyTable() {
	s.Run("anonymous tier", func() {
		p := PolicyFor(TierAnonymous)
		s.Equal(2, p.MaxRequests)
		s.Equal(time.Hour, p.WindowDuration)
	})

	s.Run("authenticated tier", func() {
		p := PolicyFor(TierAuthenticated)
		s.Equal(10, p.MaxRequests)
		s.Equal(24*time.Hour, p.WindowDuration)
	})

	s.Run("unknown tier falls back to anonymous", func() {
		s.Equal(PolicyFor(TierAnonymous), PolicyFor(Tier("gold")))
	})

	s.Run("upgrade only offered to anonymous callers", func() {
		s.True(TierAnonymous.UpgradeAvailable())
		s.False(TierAuthenticated.UpgradeAvailable())
	})
}

func (s *ModelsSuite) TestIdentityKey() {
	s.Run("subject wins over session and address", func() {
		id := Identity{SubjectID: "user_1", SessionID: "sess", ClientIP: "192.0.2.1"}
		key, err := id.Key()
		s.Require().NoError(err)
		s.Equal(IdentityKey{Kind: IdentitySubject, Value: "user_1"}, key)
		s.Equal(TierAuthenticated, id.Tier())
	})

	s.Run("session wins over address", func() {
		id := Identity{SessionID: "sess", ClientIP: "192.0.2.1"}
		key, err := id.Key()
		s.Require().NoError(err)
		s.Equal(IdentitySession, key.Kind)
		s.Equal(TierAnonymous, id.Tier())
	})

	s.Run("address is the last resort", func() {
		key, err := Identity{ClientIP: "192.0.2.1"}.Key()
		s.Require().NoError(err)
		s.Equal(IdentityKey{Kind: IdentityNetworkAddress, Value: "192.0.2.1"}, key)
	})

	s.Run("blank subject is anonymous", func() {
		id := Identity{SubjectID: "  ", SessionID: "sess"}
		s.Equal(TierAnonymous, id.Tier())
	})

	s.Run("empty identity rejected", func() {
		_, err := Identity{}.Key()
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("key string escapes delimiters", func() {
		key := IdentityKey{Kind: IdentitySession, Value: "a:b"}
		s.Equal("session:a%3Ab", key.String())
	})

	s.Run("values differing only in delimiters render distinct keys", func() {
		colon := IdentityKey{Kind: IdentitySubject, Value: "auth0:alice"}
		underscore := IdentityKey{Kind: IdentitySubject, Value: "auth0_alice"}
		s.NotEqual(colon.String(), underscore.String())
	})
}

func (s *ModelsSuite) TestNewConsumptionWindow() {
	s.Run("end is start plus tier duration", func() {
		w, err := NewConsumptionWindow("w1", IdentityKey{Kind: IdentitySession, Value: "sess"}, TierAnonymous, s.now)
		s.Require().NoError(err)
		s.Equal(1, w.RequestCount)
		s.Equal(s.now, w.WindowStart)
		s.Equal(s.now.Add(time.Hour), w.WindowEnd)
		s.Equal(2, w.MaxRequests)
	})

	s.Run("rejects invalid input", func() {
		_, err := NewConsumptionWindow("", IdentityKey{Kind: IdentitySession, Value: "sess"}, TierAnonymous, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		_, err = NewConsumptionWindow("w1", IdentityKey{Kind: "email", Value: "x"}, TierAnonymous, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		_, err = NewConsumptionWindow("w1", IdentityKey{Kind: IdentitySession, Value: ""}, TierAnonymous, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		_, err = NewConsumptionWindow("w1", IdentityKey{Kind: IdentitySession, Value: "s"}, Tier("gold"), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *ModelsSuite) TestWindowLifecycle() {
	w, err := NewConsumptionWindow("w1", IdentityKey{Kind: IdentitySession, Value: "sess"}, TierAnonymous, s.now)
	s.Require().NoError(err)

	s.Run("active strictly before end", func() {
		s.True(w.IsActive(s.now.Add(59 * time.Minute)))
		s.False(w.IsActive(w.WindowEnd))
		s.False((*ConsumptionWindow)(nil).IsActive(s.now))
	})

	s.Run("convert anchors end on original start", func() {
		c := w.Clone()
		c.RequestCount = 2
		c.ConvertToSubject("user_9")
		s.Equal(IdentitySubject, c.IdentityKind)
		s.Equal("user_9", c.IdentityValue)
		s.Equal(TierAuthenticated, c.Tier)
		s.Equal(10, c.MaxRequests)
		s.Equal(s.now.Add(24*time.Hour), c.WindowEnd)
		s.Equal(2, c.RequestCount)
	})

	s.Run("clone does not share migrated timestamp", func() {
		c := w.Clone()
		c.MarkMigrated("user_9", s.now)
		s.True(c.IsMigrated())
		s.False(w.IsMigrated())

		d := c.Clone()
		*d.MigratedAt = s.now.Add(time.Hour)
		s.Equal(s.now, *c.MigratedAt)
	})
}
