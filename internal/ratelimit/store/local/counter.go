// Package local implements the in-process fallback counter used while the
// primary window store is unreachable. Counts are per process, lost on restart
// and never written back to the primary store.
package local

import (
	"sync"
	"time"

	"anyzine/internal/ratelimit/models"
	"anyzine/internal/ratelimit/policy"
)

// DefaultSweepInterval bounds how often expired entries are purged.
const DefaultSweepInterval = 5 * time.Minute

type entry struct {
	count     int
	start     time.Time
	resetTime time.Time
	tier      models.Tier
}

// Counter mirrors the check/record contract of the window store in memory.
type Counter struct {
	mu            sync.Mutex
	entries       map[models.IdentityKey]*entry
	sweepInterval time.Duration
	lastSweep     time.Time
}

// Option configures a Counter.
type Option func(*Counter)

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Counter) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// New creates an empty fallback counter.
func New(opts ...Option) *Counter {
	c := &Counter{
		entries:       make(map[models.IdentityKey]*entry),
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check reports the decision for key without recording anything.
func (c *Counter) Check(key models.IdentityKey, tier models.Tier, now time.Time) models.RateLimitResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeSweepLocked(now)
	return policy.Evaluate(c.windowLocked(key), tier, now)
}

// Record counts one hit against key.
func (c *Counter) Record(key models.IdentityKey, tier models.Tier, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeSweepLocked(now)
	c.recordLocked(key, tier, now)
}

// Take checks and, when allowed, records in one step. The returned Remaining
// reflects the recorded hit.
func (c *Counter) Take(key models.IdentityKey, tier models.Tier, now time.Time) models.RateLimitResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeSweepLocked(now)

	result := policy.Evaluate(c.windowLocked(key), tier, now)
	if !result.Allowed {
		return result
	}
	if recorded, ok := c.recordLocked(key, tier, now); ok {
		result.Remaining = policy.RemainingAfter(recorded, tier)
		result.ResetAt = recorded.WindowEnd
	}
	return result
}

// Len returns the number of tracked identities, expired ones included.
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// recordLocked reports false for an invalid key or tier, leaving the map untouched.
// Must be called while holding c.mu.
func (c *Counter) recordLocked(key models.IdentityKey, tier models.Tier, now time.Time) (*models.ConsumptionWindow, bool) {
	outcome, err := policy.Record(c.windowLocked(key), key, tier, now, func() string { return "local" })
	if err != nil {
		return nil, false
	}
	w := outcome.Window
	c.entries[key] = &entry{
		count:     w.RequestCount,
		start:     w.WindowStart,
		resetTime: w.WindowEnd,
		tier:      w.Tier,
	}
	return w, true
}

// windowLocked presents an entry as a window so policy can evaluate it.
// Must be called while holding c.mu.
func (c *Counter) windowLocked(key models.IdentityKey) *models.ConsumptionWindow {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	limits := models.PolicyFor(e.tier)
	return &models.ConsumptionWindow{
		ID:             "local",
		IdentityKind:   key.Kind,
		IdentityValue:  key.Value,
		RequestCount:   e.count,
		WindowStart:    e.start,
		WindowEnd:      e.resetTime,
		Tier:           e.tier,
		MaxRequests:    limits.MaxRequests,
		WindowDuration: limits.WindowDuration,
	}
}

// maybeSweepLocked drops expired entries at most once per sweep interval.
// Must be called while holding c.mu.
func (c *Counter) maybeSweepLocked(now time.Time) {
	if now.Sub(c.lastSweep) < c.sweepInterval {
		return
	}
	c.lastSweep = now
	for key, e := range c.entries {
		if !now.Before(e.resetTime) {
			delete(c.entries, key)
		}
	}
}
