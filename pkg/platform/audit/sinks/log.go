package sinks

import (
	"context"
	"log/slog"

	audit "anyzine/pkg/platform/audit"
)

// Log writes events to a structured logger. Used when no brokers are configured.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging sink.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Write(ctx context.Context, event audit.Event) error {
	l.logger.InfoContext(ctx, string(event.Action),
		"log_type", "audit",
		"tier", event.Tier,
		"identity_kind", event.IdentityKind,
		"identity_hash", event.IdentityHash,
		"request_id", event.RequestID,
		"reason", event.Reason,
		"count", event.Count,
		"timestamp", event.Timestamp,
	)
	return nil
}
