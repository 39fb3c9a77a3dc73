package window_test

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"anyzine/internal/ratelimit/models"
	"anyzine/internal/ratelimit/ports"
	"anyzine/pkg/platform/sentinel"
)

// contractSuite holds the behaviour every WindowStore backend must share.
// Backend suites embed it and set newStore before each test.
type contractSuite struct {
	suite.Suite
	store ports.WindowStore
	base  time.Time
	ids   atomic.Int64
}

func (s *contractSuite) nextID() string {
	return "w-" + strconv.FormatInt(s.ids.Add(1), 10)
}

func (s *contractSuite) newWindow(key models.IdentityKey, tier models.Tier, at time.Time) *models.ConsumptionWindow {
	w, err := models.NewConsumptionWindow(s.nextID(), key, tier, at)
	s.Require().NoError(err)
	return w
}

func sessionKey(v string) models.IdentityKey {
	return models.IdentityKey{Kind: models.IdentitySession, Value: v}
}

func subjectKey(v string) models.IdentityKey {
	return models.IdentityKey{Kind: models.IdentitySubject, Value: v}
}

func (s *contractSuite) TestFindActive() {
	ctx := context.Background()
	key := sessionKey("sess-find")

	s.Run("returns nil when nothing is stored", func() {
		w, err := s.store.FindActive(ctx, key, s.base)
		s.Require().NoError(err)
		s.Nil(w)
	})

	created := s.newWindow(key, models.TierAnonymous, s.base)
	s.Require().NoError(s.store.Create(ctx, created))

	s.Run("returns the window while active", func() {
		w, err := s.store.FindActive(ctx, key, s.base.Add(59*time.Minute))
		s.Require().NoError(err)
		s.Require().NotNil(w)
		s.Equal(created.ID, w.ID)
		s.Equal(1, w.RequestCount)
		s.Equal(2, w.MaxRequests)
		s.Equal(models.TierAnonymous, w.Tier)
		s.True(created.WindowStart.Equal(w.WindowStart))
		s.True(created.WindowEnd.Equal(w.WindowEnd))
		s.Equal(time.Hour, w.WindowDuration)
	})

	s.Run("treats exactly window end as expired", func() {
		w, err := s.store.FindActive(ctx, key, created.WindowEnd)
		s.Require().NoError(err)
		s.Nil(w)
	})

	s.Run("does not match another identity kind with the same value", func() {
		w, err := s.store.FindActive(ctx, subjectKey("sess-find"), s.base)
		s.Require().NoError(err)
		s.Nil(w)
	})

	s.Run("keeps values differing only in delimiters apart", func() {
		colon := s.newWindow(subjectKey("a:b"), models.TierAuthenticated, s.base)
		s.Require().NoError(s.store.Create(ctx, colon))
		_, err := s.store.Increment(ctx, colon)
		s.Require().NoError(err)

		w, err := s.store.FindActive(ctx, subjectKey("a_b"), s.base)
		s.Require().NoError(err)
		s.Nil(w)

		underscore := s.newWindow(subjectKey("a_b"), models.TierAuthenticated, s.base)
		s.Require().NoError(s.store.Create(ctx, underscore))

		got, err := s.store.FindActive(ctx, subjectKey("a:b"), s.base)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(colon.ID, got.ID)
		s.Equal(2, got.RequestCount)

		got, err = s.store.FindActive(ctx, subjectKey("a_b"), s.base)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(underscore.ID, got.ID)
		s.Equal(1, got.RequestCount)
	})
}

func (s *contractSuite) TestCreate() {
	ctx := context.Background()
	key := sessionKey("sess-create")

	first := s.newWindow(key, models.TierAnonymous, s.base)
	s.Require().NoError(s.store.Create(ctx, first))

	s.Run("rejects a second window while the first is active", func() {
		err := s.store.Create(ctx, s.newWindow(key, models.TierAnonymous, s.base.Add(time.Minute)))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("opens a new window once the previous one ended", func() {
		next := s.newWindow(key, models.TierAnonymous, first.WindowEnd)
		s.Require().NoError(s.store.Create(ctx, next))

		w, err := s.store.FindActive(ctx, key, first.WindowEnd)
		s.Require().NoError(err)
		s.Require().NotNil(w)
		s.Equal(next.ID, w.ID)
		s.Equal(1, w.RequestCount)
	})
}

func (s *contractSuite) TestIncrement() {
	ctx := context.Background()
	key := subjectKey("user-increment")

	w := s.newWindow(key, models.TierAuthenticated, s.base)
	s.Require().NoError(s.store.Create(ctx, w))

	s.Run("adds one request without moving the window", func() {
		updated, err := s.store.Increment(ctx, w)
		s.Require().NoError(err)
		s.Equal(2, updated.RequestCount)
		s.True(w.WindowStart.Equal(updated.WindowStart))
		s.True(w.WindowEnd.Equal(updated.WindowEnd))
	})

	s.Run("never exceeds max requests", func() {
		for range 20 {
			_, err := s.store.Increment(ctx, w)
			s.Require().NoError(err)
		}
		stored, err := s.store.FindActive(ctx, key, s.base)
		s.Require().NoError(err)
		s.Equal(10, stored.RequestCount)
	})

	s.Run("reports missing windows", func() {
		ghost := s.newWindow(subjectKey("ghost"), models.TierAuthenticated, s.base)
		_, err := s.store.Increment(ctx, ghost)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *contractSuite) TestConcurrentIncrementStopsAtMax() {
	ctx := context.Background()
	key := subjectKey("user-concurrent")
	w := s.newWindow(key, models.TierAuthenticated, s.base)
	s.Require().NoError(s.store.Create(ctx, w))

	var wg sync.WaitGroup
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Increment(ctx, w)
			s.NoError(err)
		}()
	}
	wg.Wait()

	stored, err := s.store.FindActive(ctx, key, s.base)
	s.Require().NoError(err)
	s.Equal(10, stored.RequestCount)
}

func (s *contractSuite) TestSave() {
	ctx := context.Background()

	s.Run("converts a session window to a subject window", func() {
		w := s.newWindow(sessionKey("sess-save"), models.TierAnonymous, s.base)
		s.Require().NoError(s.store.Create(ctx, w))

		converted := w.Clone()
		converted.ConvertToSubject("user-save")
		s.Require().NoError(s.store.Save(ctx, converted))

		gone, err := s.store.FindActive(ctx, sessionKey("sess-save"), s.base)
		s.Require().NoError(err)
		s.Nil(gone)

		got, err := s.store.FindActive(ctx, subjectKey("user-save"), s.base)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(w.ID, got.ID)
		s.Equal(models.TierAuthenticated, got.Tier)
		s.Equal(10, got.MaxRequests)
		s.True(s.base.Add(24 * time.Hour).Equal(got.WindowEnd))
	})

	s.Run("persists migration markers", func() {
		w := s.newWindow(sessionKey("sess-mark"), models.TierAnonymous, s.base)
		s.Require().NoError(s.store.Create(ctx, w))

		marked := w.Clone()
		marked.MarkMigrated("user-mark", s.base.Add(time.Minute))
		s.Require().NoError(s.store.Save(ctx, marked))

		got, err := s.store.FindActive(ctx, sessionKey("sess-mark"), s.base)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.True(got.IsMigrated())
		s.Equal("user-mark", got.MigratedToIdentityValue)
		s.True(s.base.Add(time.Minute).Equal(*got.MigratedAt))
	})

	s.Run("converts onto a subject whose previous window expired", func() {
		previous := s.newWindow(subjectKey("user-returning"), models.TierAuthenticated, s.base.Add(-25*time.Hour))
		s.Require().NoError(s.store.Create(ctx, previous))

		w := s.newWindow(sessionKey("sess-returning"), models.TierAnonymous, s.base)
		s.Require().NoError(s.store.Create(ctx, w))
		converted := w.Clone()
		converted.ConvertToSubject("user-returning")
		s.Require().NoError(s.store.Save(ctx, converted))

		got, err := s.store.FindActive(ctx, subjectKey("user-returning"), s.base)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(w.ID, got.ID)
		s.Equal(models.TierAuthenticated, got.Tier)
	})

	s.Run("reports missing windows", func() {
		err := s.store.Save(ctx, s.newWindow(sessionKey("never-created"), models.TierAnonymous, s.base))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *contractSuite) TestDeleteExpired() {
	ctx := context.Background()

	old := s.newWindow(sessionKey("sess-old"), models.TierAnonymous, s.base)
	fresh := s.newWindow(subjectKey("user-fresh"), models.TierAuthenticated, s.base.Add(2*time.Hour))
	s.Require().NoError(s.store.Create(ctx, old))
	s.Require().NoError(s.store.Create(ctx, fresh))

	// old ends at base+1h; fresh ends at base+26h.
	deleted, err := s.store.DeleteExpired(ctx, s.base.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(1, deleted)

	got, err := s.store.FindActive(ctx, subjectKey("user-fresh"), s.base.Add(3*time.Hour))
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(fresh.ID, got.ID)

	s.Run("keeps windows ending exactly at the cutoff", func() {
		deleted, err := s.store.DeleteExpired(ctx, fresh.WindowEnd)
		s.Require().NoError(err)
		s.Zero(deleted)
	})
}
