package models

import (
	"strings"
	"time"

	dErrors "anyzine/pkg/domain-errors"
)

// IdentityKind says which identifier a ConsumptionWindow is keyed by.
type IdentityKind string

const (
	// IdentitySubject keys authenticated callers by their auth provider subject id.
	IdentitySubject IdentityKind = "subject"
	// IdentityNetworkAddress keys anonymous callers without a session by client IP.
	IdentityNetworkAddress IdentityKind = "ip"
	// IdentitySession keys anonymous callers by their durable session cookie.
	IdentitySession IdentityKind = "session"
)

// IsValid checks if the identity kind is one of the supported enum values.
func (k IdentityKind) IsValid() bool {
	switch k {
	case IdentitySubject, IdentityNetworkAddress, IdentitySession:
		return true
	}
	return false
}

// String returns the string representation.
func (k IdentityKind) String() string {
	return string(k)
}

// Tier selects the limit applied to a caller.
type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
)

// IsValid checks if the tier is one of the supported enum values.
func (t Tier) IsValid() bool {
	return t == TierAnonymous || t == TierAuthenticated
}

// String returns the string representation.
func (t Tier) String() string {
	return string(t)
}

// UpgradeAvailable reports whether signing in would raise the limit.
func (t Tier) UpgradeAvailable() bool {
	return t == TierAnonymous
}

// TierPolicy is the static limit attached to a tier.
type TierPolicy struct {
	MaxRequests    int
	WindowDuration time.Duration
}

var tierPolicies = map[Tier]TierPolicy{
	TierAnonymous:     {MaxRequests: 2, WindowDuration: time.Hour},
	TierAuthenticated: {MaxRequests: 10, WindowDuration: 24 * time.Hour},
}

// PolicyFor returns the limits for tier. Unknown tiers get the anonymous policy.
func PolicyFor(tier Tier) TierPolicy {
	if p, ok := tierPolicies[tier]; ok {
		return p
	}
	return tierPolicies[TierAnonymous]
}

// RetentionAfterExpiry is how long an ended window is kept before cleanup deletes it.
const RetentionAfterExpiry = 24 * time.Hour

// Identity is what the gate knows about a caller. SubjectID wins over
// SessionID, which wins over ClientIP.
type Identity struct {
	SubjectID string
	SessionID string
	ClientIP  string
}

// Tier is derived only from the presence of an authenticated subject.
func (i Identity) Tier() Tier {
	if strings.TrimSpace(i.SubjectID) != "" {
		return TierAuthenticated
	}
	return TierAnonymous
}

// Key resolves the identifier used for counting.
func (i Identity) Key() (IdentityKey, error) {
	if v := strings.TrimSpace(i.SubjectID); v != "" {
		return IdentityKey{Kind: IdentitySubject, Value: v}, nil
	}
	if v := strings.TrimSpace(i.SessionID); v != "" {
		return IdentityKey{Kind: IdentitySession, Value: v}, nil
	}
	if v := strings.TrimSpace(i.ClientIP); v != "" {
		return IdentityKey{Kind: IdentityNetworkAddress, Value: v}, nil
	}
	return IdentityKey{}, dErrors.New(dErrors.CodeValidation, "identity has no subject, session or client address")
}

// ConsumptionWindow is one identity's usage within one rate limit window.
// WindowEnd is exclusive.
type ConsumptionWindow struct {
	ID                      string        `json:"id"`
	IdentityKind            IdentityKind  `json:"identity_kind"`
	IdentityValue           string        `json:"identity_value"`
	RequestCount            int           `json:"request_count"`
	WindowStart             time.Time     `json:"window_start"`
	WindowEnd               time.Time     `json:"window_end"`
	Tier                    Tier          `json:"tier"`
	MaxRequests             int           `json:"max_requests"`
	WindowDuration          time.Duration `json:"window_duration"`
	MigratedToIdentityValue string        `json:"migrated_to_identity_value,omitempty"`
	MigratedAt              *time.Time    `json:"migrated_at,omitempty"`
}

// NewConsumptionWindow opens a window at now holding its first request.
func NewConsumptionWindow(id string, key IdentityKey, tier Tier, now time.Time) (*ConsumptionWindow, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "window id is required")
	}
	if !key.Kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid identity kind")
	}
	if key.Value == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identity value is required")
	}
	if !tier.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid tier")
	}
	policy := PolicyFor(tier)
	return &ConsumptionWindow{
		ID:             id,
		IdentityKind:   key.Kind,
		IdentityValue:  key.Value,
		RequestCount:   1,
		WindowStart:    now,
		WindowEnd:      now.Add(policy.WindowDuration),
		Tier:           tier,
		MaxRequests:    policy.MaxRequests,
		WindowDuration: policy.WindowDuration,
	}, nil
}

// Key returns the identity the window counts against.
func (w *ConsumptionWindow) Key() IdentityKey {
	return IdentityKey{Kind: w.IdentityKind, Value: w.IdentityValue}
}

// IsActive reports whether now falls before WindowEnd. A request at exactly
// WindowEnd belongs to the next window.
func (w *ConsumptionWindow) IsActive(now time.Time) bool {
	return w != nil && now.Before(w.WindowEnd)
}

// IsExhausted reports whether the window has no requests left.
func (w *ConsumptionWindow) IsExhausted() bool {
	return w.RequestCount >= w.MaxRequests
}

// IsMigrated reports whether the window was folded into an authenticated one.
func (w *ConsumptionWindow) IsMigrated() bool {
	return w.MigratedAt != nil
}

// MarkMigrated records that this window's usage now lives under subject.
func (w *ConsumptionWindow) MarkMigrated(subject string, at time.Time) {
	w.MigratedToIdentityValue = subject
	migratedAt := at
	w.MigratedAt = &migratedAt
}

// ConvertToSubject rewrites an anonymous window in place as an authenticated
// one. The new end is anchored on the original WindowStart.
func (w *ConsumptionWindow) ConvertToSubject(subject string) {
	policy := PolicyFor(TierAuthenticated)
	w.IdentityKind = IdentitySubject
	w.IdentityValue = subject
	w.Tier = TierAuthenticated
	w.MaxRequests = policy.MaxRequests
	w.WindowDuration = policy.WindowDuration
	w.WindowEnd = w.WindowStart.Add(policy.WindowDuration)
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (w *ConsumptionWindow) Clone() *ConsumptionWindow {
	if w == nil {
		return nil
	}
	c := *w
	if w.MigratedAt != nil {
		at := *w.MigratedAt
		c.MigratedAt = &at
	}
	return &c
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	Tier       Tier      `json:"tier"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// MigrationOutcome describes what Session Migration did.
type MigrationOutcome string

const (
	MigrationNoop      MigrationOutcome = "noop"
	MigrationMerged    MigrationOutcome = "merged"
	MigrationConverted MigrationOutcome = "converted"
)

// MigrationResult is returned by Session Migration.
type MigrationResult struct {
	Outcome      MigrationOutcome `json:"outcome"`
	RequestCount int              `json:"request_count"`
	WindowEnd    time.Time        `json:"window_end,omitzero"`
}
