// Package policy decides rate limit outcomes from stored window state.
//
// The functions here are pure: no I/O and no clock. The Counter Store service
// and the local fallback counter both run every decision through them so a
// caller sees the same numbers regardless of which path served the request.
package policy

import (
	"math"
	"time"

	"anyzine/internal/ratelimit/models"
)

// Evaluate turns the current window (or its absence) into a decision without
// assuming the request will be recorded. A missing or ended window reports the
// full allowance and a reset one window length from now.
func Evaluate(window *models.ConsumptionWindow, tier models.Tier, now time.Time) models.RateLimitResult {
	limits := models.PolicyFor(tier)
	if !window.IsActive(now) {
		return models.RateLimitResult{
			Allowed:   true,
			Limit:     limits.MaxRequests,
			Remaining: limits.MaxRequests,
			ResetAt:   now.Add(limits.WindowDuration),
			Tier:      tier,
		}
	}

	remaining := max(0, limits.MaxRequests-window.RequestCount)
	result := models.RateLimitResult{
		Allowed:   remaining > 0,
		Limit:     limits.MaxRequests,
		Remaining: remaining,
		ResetAt:   window.WindowEnd,
		Tier:      tier,
	}
	if !result.Allowed {
		result.RetryAfter = RetryAfterSeconds(window.WindowEnd, now)
	}
	return result
}

// RecordOutcome is the state Record wants persisted.
type RecordOutcome struct {
	Window *models.ConsumptionWindow
	// Created is true when Window is a new window rather than an increment.
	Created bool
	// Applied is false when the active window was already exhausted.
	Applied bool
}

// Record applies one hit. A missing or ended window yields a fresh window
// counting this request; an active window is incremented with its bounds
// untouched. The input window is never mutated.
func Record(window *models.ConsumptionWindow, key models.IdentityKey, tier models.Tier, now time.Time, newID func() string) (RecordOutcome, error) {
	if !window.IsActive(now) {
		created, err := models.NewConsumptionWindow(newID(), key, tier, now)
		if err != nil {
			return RecordOutcome{}, err
		}
		return RecordOutcome{Window: created, Created: true, Applied: true}, nil
	}

	next := window.Clone()
	if next.IsExhausted() {
		return RecordOutcome{Window: next}, nil
	}
	next.RequestCount++
	return RecordOutcome{Window: next, Applied: true}, nil
}

// RemainingAfter reports the allowance left once window has been recorded.
func RemainingAfter(window *models.ConsumptionWindow, tier models.Tier) int {
	return max(0, models.PolicyFor(tier).MaxRequests-window.RequestCount)
}

// RetryAfterSeconds is ceil((resetAt - now) / 1s), never negative.
func RetryAfterSeconds(resetAt, now time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(time.Second)))
}

// MergeCounts combines two partial histories generously: the larger count wins.
func MergeCounts(a, b int) int {
	return max(a, b)
}
