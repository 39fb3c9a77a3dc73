package audit

import (
	"context"
	"time"
)

// Action names a rate limiting event worth keeping outside the process.
type Action string

const (
	ActionRateLimitExceeded      Action = "rate_limit_exceeded"
	ActionRateLimitFallback      Action = "rate_limit_fallback"
	ActionRateLimitRecordFailed  Action = "rate_limit_record_failed"
	ActionSessionMigrated        Action = "session_migrated"
	ActionSessionMigrationFailed Action = "session_migration_failed"
	ActionCleanupCompleted       Action = "rate_limit_cleanup_completed"
)

// String returns the string representation.
func (a Action) String() string {
	return string(a)
}

// Event is emitted from domain logic. Identities are hashed before they get
// here; raw subjects, sessions and addresses never leave the process.
type Event struct {
	Action       Action    `json:"action"`
	Timestamp    time.Time `json:"timestamp"`
	Tier         string    `json:"tier,omitempty"`
	IdentityKind string    `json:"identity_kind,omitempty"`
	IdentityHash string    `json:"identity_hash,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Count        int       `json:"count,omitempty"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Sink persists or forwards a single event.
type Sink interface {
	Write(ctx context.Context, event Event) error
}
