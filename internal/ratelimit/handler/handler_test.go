package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"anyzine/internal/ratelimit/models"
	"anyzine/internal/ratelimit/service/counter"
	"anyzine/internal/ratelimit/service/migration"
	"anyzine/internal/ratelimit/store/window"
	"anyzine/pkg/platform/sentinel"
	"anyzine/pkg/requestcontext"
	"anyzine/pkg/testutil"
)

// HandlerSuite runs the endpoints against real services over the in-memory
// store; only HTTP concerns are asserted here.
type HandlerSuite struct {
	suite.Suite
	router  http.Handler
	store   *window.InMemoryWindowStore
	counter *counter.Service
	now     time.Time
}

func (s *HandlerSuite) SetupTest() {
	s.store = window.NewInMemory()
	s.now = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	var err error
	s.counter, err = counter.New(s.store)
	require.NoError(s.T(), err)
	migrations, err := migration.New(s.store)
	require.NoError(s.T(), err)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := New(s.counter, migrations, logger)

	r := chi.NewRouter()
	h.Register(r)
	h.RegisterAdmin(r)
	s.router = r
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) at(req *http.Request, offset time.Duration) *http.Request {
	return testutil.WithTime(req, s.now.Add(offset))
}

func (s *HandlerSuite) record(identity models.Identity, n int) {
	ctx := requestcontext.WithTime(context.Background(), s.now)
	for range n {
		s.Require().NoError(s.counter.RecordRateLimitHit(ctx, identity))
	}
}

func (s *HandlerSuite) TestStatus() {
	s.Run("fresh anonymous caller", func() {
		req := testutil.WithSession(testutil.NewRequest(s.T(), http.MethodGet, "/api/rate-limit"), "sess-status")
		rr := testutil.DoRequest(s.router, s.at(req, 0))

		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[models.StatusResponse](s.T(), rr)
		s.True(resp.Allowed)
		s.Equal(2, resp.Limit)
		s.Equal(2, resp.Remaining)
		s.Equal(models.TierAnonymous, resp.Tier)
		s.True(s.now.Add(time.Hour).Equal(resp.ResetAt))
	})

	s.Run("does not consume a request", func() {
		for range 3 {
			req := testutil.WithSession(testutil.NewRequest(s.T(), http.MethodGet, "/api/rate-limit"), "sess-status")
			testutil.AssertStatusOK(s.T(), testutil.DoRequest(s.router, s.at(req, 0)))
		}
		s.Zero(s.store.Len())
	})

	s.Run("exhausted subject", func() {
		s.record(models.Identity{SubjectID: "user-status"}, 10)
		req := testutil.WithSubject(testutil.NewRequest(s.T(), http.MethodGet, "/api/rate-limit"), "user-status")
		rr := testutil.DoRequest(s.router, s.at(req, time.Minute))

		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[models.StatusResponse](s.T(), rr)
		s.False(resp.Allowed)
		s.Equal(0, resp.Remaining)
		s.Equal(models.TierAuthenticated, resp.Tier)
	})
}

func (s *HandlerSuite) TestStatusStoreUnavailable() {
	svc, err := counter.New(unavailableStore{s.store})
	s.Require().NoError(err)
	h := New(svc, nil, slog.New(slog.DiscardHandler))

	req := testutil.WithClient(testutil.NewRequest(s.T(), http.MethodGet, "/api/rate-limit"), "203.0.113.4")
	rr := httptest.NewRecorder()
	h.HandleStatus(rr, req)

	testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, "service_unavailable")
}

func (s *HandlerSuite) TestMigrate() {
	s.Run("requires a subject", func() {
		req := testutil.WithSession(testutil.NewRequest(s.T(), http.MethodPost, "/api/rate-limit/migrate"), "sess-m")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("without a session is a no-op", func() {
		req := testutil.WithSubject(testutil.NewRequest(s.T(), http.MethodPost, "/api/rate-limit/migrate"), "user-m")
		rr := testutil.DoRequest(s.router, s.at(req, 0))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[models.MigrationResponse](s.T(), rr)
		s.False(resp.Migrated)
		s.Equal(models.MigrationNoop, resp.Outcome)
	})

	s.Run("converts the session window", func() {
		s.record(models.Identity{SessionID: "sess-m"}, 2)

		req := testutil.NewRequest(s.T(), http.MethodPost, "/api/rate-limit/migrate")
		req = testutil.WithSession(testutil.WithSubject(req, "user-m"), "sess-m")
		rr := testutil.DoRequest(s.router, s.at(req, 10*time.Minute))

		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[models.MigrationResponse](s.T(), rr)
		s.True(resp.Migrated)
		s.Equal(models.MigrationConverted, resp.Outcome)

		status := testutil.WithSubject(testutil.NewRequest(s.T(), http.MethodGet, "/api/rate-limit"), "user-m")
		rr = testutil.DoRequest(s.router, s.at(status, 10*time.Minute))
		got := testutil.UnmarshalResponse[models.StatusResponse](s.T(), rr)
		s.Equal(8, got.Remaining)
		s.True(s.now.Add(24*time.Hour).Equal(got.ResetAt))
	})
}

func (s *HandlerSuite) TestMigrateFailureReturnsOK() {
	migrations, err := migration.New(unavailableStore{s.store})
	s.Require().NoError(err)
	h := New(s.counter, migrations, slog.New(slog.DiscardHandler))

	req := testutil.NewRequest(s.T(), http.MethodPost, "/api/rate-limit/migrate")
	req = testutil.WithSession(testutil.WithSubject(req, "user-f"), "sess-f")
	rr := httptest.NewRecorder()
	h.HandleMigrate(rr, req)

	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "migrated", false)
}

func (s *HandlerSuite) TestCleanup() {
	s.record(models.Identity{ClientIP: "203.0.113.9"}, 1)

	req := testutil.NewRequest(s.T(), http.MethodPost, "/admin/rate-limit/cleanup")
	rr := testutil.DoRequest(s.router, s.at(req, 26*time.Hour))

	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[models.CleanupResponse](s.T(), rr)
	s.Equal(1, resp.Deleted)

	rr = testutil.DoRequest(s.router, s.at(testutil.NewRequest(s.T(), http.MethodPost, "/admin/rate-limit/cleanup"), 26*time.Hour))
	resp = testutil.UnmarshalResponse[models.CleanupResponse](s.T(), rr)
	s.Zero(resp.Deleted, "a second sweep finds nothing")
}

// unavailableStore fails every read.
type unavailableStore struct {
	*window.InMemoryWindowStore
}

func (unavailableStore) FindActive(context.Context, models.IdentityKey, time.Time) (*models.ConsumptionWindow, error) {
	return nil, sentinel.ErrUnavailable
}
