package models

import "time"

// ThrottledResponse is the body returned with 429 Too Many Requests.
type ThrottledResponse struct {
	Error            string `json:"error"`
	RetryAfter       int    `json:"retryAfter"` // seconds
	Tier             Tier   `json:"tier"`
	UpgradeAvailable bool   `json:"upgradeAvailable"`
}

// StatusResponse is returned by GET /api/rate-limit.
type StatusResponse struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
	Tier      Tier      `json:"tier"`
}

// FromResult converts a check result to its API shape.
func FromResult(r *RateLimitResult) *StatusResponse {
	return &StatusResponse{
		Allowed:   r.Allowed,
		Limit:     r.Limit,
		Remaining: r.Remaining,
		ResetAt:   r.ResetAt,
		Tier:      r.Tier,
	}
}

// MigrationResponse is returned by POST /api/rate-limit/migrate.
type MigrationResponse struct {
	Migrated bool             `json:"migrated"`
	Outcome  MigrationOutcome `json:"outcome,omitempty"`
}

// CleanupResponse is returned by POST /admin/rate-limit/cleanup.
type CleanupResponse struct {
	Deleted int `json:"deleted"`
}
