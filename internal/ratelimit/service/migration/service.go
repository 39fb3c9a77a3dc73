// Package migration folds an anonymous session's usage into the subject that
// just signed in.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"anyzine/internal/ratelimit/models"
	"anyzine/internal/ratelimit/observability"
	"anyzine/internal/ratelimit/policy"
	"anyzine/internal/ratelimit/ports"
	dErrors "anyzine/pkg/domain-errors"
	"anyzine/pkg/platform/audit"
	"anyzine/pkg/requestcontext"
)

type Service struct {
	store          ports.WindowStore
	auditPublisher ports.AuditPublisher
	logger         *slog.Logger
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func New(store ports.WindowStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("window store is required")
	}
	svc := &Service{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("anyzine/ratelimit"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// MigrateSession reconciles the active window of sessionID into subjectID.
//
// With no active (or an already migrated) session window it is a no-op. When
// the subject already has an active window the larger of the two counts wins
// and the session window is kept, marked as migrated. Otherwise the session
// window is converted in place; its end is recomputed from the original
// start, so signing in never hands out a fresh window.
func (s *Service) MigrateSession(ctx context.Context, sessionID, subjectID string) (*models.MigrationResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	subjectID = strings.TrimSpace(subjectID)
	if sessionID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "session id is required")
	}
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "subject id is required")
	}

	ctx, span := s.tracer.Start(ctx, "ratelimit.migrate")
	defer span.End()

	result, err := s.migrate(ctx, sessionID, subjectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.ActionSessionMigrationFailed,
			observability.KeyIdentity, sessionID,
			observability.KeyIdentityKind, models.IdentitySession.String(),
			observability.KeyReason, err.Error(),
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("ratelimit.migration_outcome", string(result.Outcome)))
	if result.Outcome != models.MigrationNoop {
		observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.ActionSessionMigrated,
			observability.KeyIdentity, subjectID,
			observability.KeyIdentityKind, models.IdentitySubject.String(),
			observability.KeyTier, models.TierAuthenticated.String(),
			observability.KeyReason, string(result.Outcome),
			observability.KeyCount, result.RequestCount,
		)
	}
	return result, nil
}

func (s *Service) migrate(ctx context.Context, sessionID, subjectID string) (*models.MigrationResult, error) {
	now := requestcontext.Now(ctx)
	sessionKey := models.IdentityKey{Kind: models.IdentitySession, Value: sessionID}
	subjectKey := models.IdentityKey{Kind: models.IdentitySubject, Value: subjectID}

	session, err := s.store.FindActive(ctx, sessionKey, now)
	if err != nil {
		return nil, fmt.Errorf("find session window: %w", err)
	}
	if session == nil || session.IsMigrated() {
		return &models.MigrationResult{Outcome: models.MigrationNoop}, nil
	}

	subject, err := s.store.FindActive(ctx, subjectKey, now)
	if err != nil {
		return nil, fmt.Errorf("find subject window: %w", err)
	}

	if subject != nil {
		merged := subject.Clone()
		merged.RequestCount = min(policy.MergeCounts(subject.RequestCount, session.RequestCount), merged.MaxRequests)
		if err := s.store.Save(ctx, merged); err != nil {
			return nil, fmt.Errorf("save merged window: %w", err)
		}

		marked := session.Clone()
		marked.MarkMigrated(subjectID, now)
		if err := s.store.Save(ctx, marked); err != nil {
			// The subject already holds the merged count; a stale session
			// window only matters if this session is migrated again.
			s.logger.WarnContext(ctx, "failed to mark session window as migrated", "error", err)
		}
		return &models.MigrationResult{
			Outcome:      models.MigrationMerged,
			RequestCount: merged.RequestCount,
			WindowEnd:    merged.WindowEnd,
		}, nil
	}

	converted := session.Clone()
	converted.ConvertToSubject(subjectID)
	converted.RequestCount = min(converted.RequestCount, converted.MaxRequests)
	if err := s.store.Save(ctx, converted); err != nil {
		return nil, fmt.Errorf("save converted window: %w", err)
	}
	return &models.MigrationResult{
		Outcome:      models.MigrationConverted,
		RequestCount: converted.RequestCount,
		WindowEnd:    converted.WindowEnd,
	}, nil
}
