// Package observability provides audit logging helpers for the ratelimit module.
package observability

import (
	"context"
	"log/slog"

	"anyzine/pkg/platform/attrs"
	"anyzine/pkg/platform/audit"
	"anyzine/pkg/platform/privacy"
	"anyzine/pkg/requestcontext"
)

// Attribute keys understood by LogAudit.
const (
	KeyIdentity     = "identity"
	KeyIdentityKind = "identity_kind"
	KeyTier         = "tier"
	KeyReason       = "reason"
	KeyCount        = "count"
)

// LogAudit logs an audit event and hands it to publisher. The raw value under
// KeyIdentity is hashed before it reaches either.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher audit.Publisher, action audit.Action, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)

	hashed := attrs.Replace(attrList, KeyIdentity, func(v any) any {
		if s, ok := v.(string); ok {
			return privacy.HashIdentifier(s)
		}
		return v
	})
	if requestID != "" {
		hashed = append(hashed, "request_id", requestID)
	}

	if logger != nil {
		args := append(hashed, "event", action.String(), "log_type", "audit")
		logger.InfoContext(ctx, action.String(), args...)
	}

	if publisher == nil {
		return
	}

	publisher.Publish(ctx, audit.Event{
		Action:       action,
		Tier:         attrs.ExtractString(hashed, KeyTier),
		IdentityKind: attrs.ExtractString(hashed, KeyIdentityKind),
		IdentityHash: attrs.ExtractString(hashed, KeyIdentity),
		RequestID:    requestID,
		Reason:       attrs.ExtractString(hashed, KeyReason),
		Count:        attrs.ExtractInt(hashed, KeyCount),
	})
}
