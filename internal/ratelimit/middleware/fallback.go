package middleware

import (
	"time"

	"anyzine/internal/ratelimit/models"
	"anyzine/internal/ratelimit/store/local"
)

// fallbackLimiter answers from the process-local counter while the primary
// store is unreachable. Decisions go through the same policy as the primary
// path so the response shape is identical.
type fallbackLimiter struct {
	counter *local.Counter
}

func newFallbackLimiter(counter *local.Counter) *fallbackLimiter {
	if counter == nil {
		counter = local.New()
	}
	return &fallbackLimiter{counter: counter}
}

// take checks and records in one step; Remaining already counts this request.
func (f *fallbackLimiter) take(identity models.Identity, now time.Time) (*models.RateLimitResult, bool) {
	key, err := identity.Key()
	if err != nil {
		return nil, false
	}
	result := f.counter.Take(key, identity.Tier(), now)
	return &result, true
}

// mirror records a hit the primary store failed to record.
func (f *fallbackLimiter) mirror(identity models.Identity, now time.Time) {
	key, err := identity.Key()
	if err != nil {
		return
	}
	f.counter.Record(key, identity.Tier(), now)
}
