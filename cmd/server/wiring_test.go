package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"anyzine/internal/platform/config"
	"anyzine/pkg/platform/audit/publishers/ops"
	"anyzine/pkg/platform/audit/sinks"
)

type stubCleaner struct {
	calls atomic.Int32
}

func (c *stubCleaner) CleanupExpiredRecords(context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

type BackgroundTasksSuite struct {
	suite.Suite
	log       *slog.Logger
	publisher *ops.Publisher
}

func TestBackgroundTasksSuite(t *testing.T) {
	suite.Run(t, new(BackgroundTasksSuite))
}

func (s *BackgroundTasksSuite) SetupTest() {
	s.log = slog.New(slog.DiscardHandler)
	s.publisher = ops.New(sinks.NewLog(s.log))
}

func (s *BackgroundTasksSuite) TestBuildsTasks() {
	s.Run("audit publisher only when cleanup is off", func() {
		tasks, err := backgroundTasks(config.RateLimitConfig{}, &stubCleaner{}, s.publisher, s.log)
		s.Require().NoError(err)
		s.Len(tasks, 1)
	})

	s.Run("adds the cleanup worker when an interval is set", func() {
		cleaner := &stubCleaner{}
		tasks, err := backgroundTasks(config.RateLimitConfig{CleanupInterval: 10 * time.Millisecond}, cleaner, s.publisher, s.log)
		s.Require().NoError(err)
		s.Require().Len(tasks, 2)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		s.NoError(tasks[1](ctx))
		s.Positive(cleaner.calls.Load())
	})
}

func (s *BackgroundTasksSuite) TestConstructionErrorReturnsNoTasks() {
	tasks, err := backgroundTasks(config.RateLimitConfig{CleanupInterval: time.Minute}, nil, s.publisher, s.log)
	s.Require().Error(err)
	s.Contains(err.Error(), "create cleanup worker")
	s.Nil(tasks)
}
