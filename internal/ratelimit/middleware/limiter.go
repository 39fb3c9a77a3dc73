package middleware

import (
	"context"

	"anyzine/internal/ratelimit/models"
)

//go:generate mockgen -source=limiter.go -destination=mocks/mocks.go -package=mocks Limiter

// Limiter is the authoritative check/record path, implemented by the counter
// service over the configured window store.
type Limiter interface {
	CheckRateLimit(ctx context.Context, identity models.Identity) (*models.RateLimitResult, error)
	RecordRateLimitHit(ctx context.Context, identity models.Identity) error
}
