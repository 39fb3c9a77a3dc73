// Package ports defines shared interfaces for the ratelimit module.
// Interfaces live here when more than one service consumes them.
package ports

import (
	"context"
	"time"

	"anyzine/internal/ratelimit/models"
	"anyzine/pkg/platform/audit"
)

// AuditPublisher accepts audit events without blocking.
type AuditPublisher = audit.Publisher

// WindowStore persists ConsumptionWindow rows. Stores are pure I/O: window
// math and tier rules belong to the policy and service layers.
type WindowStore interface {
	// FindActive returns the window for key whose end is after now, or nil, nil.
	FindActive(ctx context.Context, key models.IdentityKey, now time.Time) (*models.ConsumptionWindow, error)

	// Create inserts a new window. It returns sentinel.ErrConflict when the
	// identity already has an active window at window.WindowStart.
	Create(ctx context.Context, window *models.ConsumptionWindow) error

	// Increment adds one request to the window identified by window.ID as long
	// as it is below its MaxRequests, and returns the stored state afterwards.
	// sentinel.ErrNotFound means the window no longer exists.
	Increment(ctx context.Context, window *models.ConsumptionWindow) (*models.ConsumptionWindow, error)

	// Save overwrites every field of an existing window, identity included.
	Save(ctx context.Context, window *models.ConsumptionWindow) error

	// DeleteExpired removes windows whose end is before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// HealthChecker is implemented by stores backed by a remote service.
type HealthChecker interface {
	Health(ctx context.Context) error
}
