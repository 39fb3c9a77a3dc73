// Package worker runs background maintenance for the ratelimit module.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Cleaner deletes expired consumption windows.
type Cleaner interface {
	CleanupExpiredRecords(ctx context.Context) (int, error)
}

// Cleanup periodically purges windows past their retention period.
type Cleanup struct {
	cleaner  Cleaner
	interval time.Duration
	logger   *slog.Logger
}

func NewCleanup(cleaner Cleaner, interval time.Duration, logger *slog.Logger) (*Cleanup, error) {
	if cleaner == nil {
		return nil, errors.New("cleaner is required")
	}
	if interval <= 0 {
		return nil, errors.New("cleanup interval must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cleanup{cleaner: cleaner, interval: interval, logger: logger}, nil
}

// Run sweeps once per interval until ctx is cancelled. Sweep errors are
// logged and the loop keeps going.
func (c *Cleanup) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.InfoContext(ctx, "rate limit cleanup worker started", "interval", c.interval.String())
	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "rate limit cleanup worker stopped")
			return nil
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Cleanup) sweep(ctx context.Context) {
	deleted, err := c.cleaner.CleanupExpiredRecords(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.WarnContext(ctx, "rate limit cleanup failed", "error", err)
		return
	}
	c.logger.InfoContext(ctx, "rate limit cleanup completed", "deleted", deleted)
}
