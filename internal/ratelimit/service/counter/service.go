// Package counter is the authoritative check/record path against the window store.
package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"anyzine/internal/ratelimit/metrics"
	"anyzine/internal/ratelimit/models"
	"anyzine/internal/ratelimit/observability"
	"anyzine/internal/ratelimit/policy"
	"anyzine/internal/ratelimit/ports"
	"anyzine/pkg/platform/audit"
	"anyzine/pkg/platform/sentinel"
	"anyzine/pkg/requestcontext"
)

const tracerName = "anyzine/ratelimit"

// maxRecordAttempts bounds retries after losing a create or increment race.
// Giving up undercounts the hit.
const maxRecordAttempts = 3

type Service struct {
	store          ports.WindowStore
	auditPublisher ports.AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	newID          func() string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithTracer overrides the global otel tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithIDGenerator replaces the uuid window id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

func New(store ports.WindowStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("window store is required")
	}
	svc := &Service{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer(tracerName),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CheckRateLimit is read-only: a fresh or expired window reports the full
// allowance and nothing is written.
func (s *Service) CheckRateLimit(ctx context.Context, identity models.Identity) (*models.RateLimitResult, error) {
	key, err := identity.Key()
	if err != nil {
		return nil, err
	}
	tier := identity.Tier()
	now := requestcontext.Now(ctx)

	ctx, span := s.tracer.Start(ctx, "ratelimit.check", trace.WithAttributes(
		attribute.String("ratelimit.tier", tier.String()),
		attribute.String("ratelimit.identity_kind", key.Kind.String()),
	))
	defer span.End()

	window, err := s.findActive(ctx, opCheck, key, now)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}

	result := policy.Evaluate(window, tier, now)
	s.metrics.IncrementChecks(tier.String(), result.Allowed)
	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", result.Allowed),
		attribute.Int("ratelimit.remaining", result.Remaining),
	)

	if !result.Allowed {
		observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.ActionRateLimitExceeded,
			observability.KeyIdentity, key.Value,
			observability.KeyIdentityKind, key.Kind.String(),
			observability.KeyTier, tier.String(),
			observability.KeyCount, window.RequestCount,
		)
	}
	return &result, nil
}

// RecordRateLimitHit counts one request. A new window is created when none is
// active; otherwise the active one is incremented with its bounds unchanged.
// Losing a create race re-reads and increments the winner's window.
func (s *Service) RecordRateLimitHit(ctx context.Context, identity models.Identity) error {
	key, err := identity.Key()
	if err != nil {
		return err
	}
	tier := identity.Tier()
	now := requestcontext.Now(ctx)

	ctx, span := s.tracer.Start(ctx, "ratelimit.record", trace.WithAttributes(
		attribute.String("ratelimit.tier", tier.String()),
		attribute.String("ratelimit.identity_kind", key.Kind.String()),
	))
	defer span.End()

	for attempt := 1; attempt <= maxRecordAttempts; attempt++ {
		window, err := s.findActive(ctx, opRecord, key, now)
		if err != nil {
			failSpan(span, err)
			return err
		}

		outcome, err := policy.Record(window, key, tier, now, s.newID)
		if err != nil {
			failSpan(span, err)
			return err
		}
		if !outcome.Applied {
			// Already at max; the check that let this request through raced another.
			span.SetAttributes(attribute.Bool("ratelimit.exhausted", true))
			return nil
		}

		if outcome.Created {
			err = s.timed(opCreate, func() error { return s.store.Create(ctx, outcome.Window) })
		} else {
			err = s.timed(opIncrement, func() error {
				_, incErr := s.store.Increment(ctx, window)
				return incErr
			})
		}

		switch {
		case err == nil:
			s.metrics.IncrementRecords(tier.String())
			span.SetAttributes(attribute.Bool("ratelimit.created", outcome.Created))
			return nil
		case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrNotFound):
			s.logger.DebugContext(ctx, "rate limit record lost a race, retrying",
				"attempt", attempt,
				"created", outcome.Created,
			)
			continue
		default:
			s.metrics.IncrementStoreErrors(opRecord)
			failSpan(span, err)
			return fmt.Errorf("record rate limit hit: %w", err)
		}
	}

	s.logger.WarnContext(ctx, "rate limit hit not recorded after retries",
		"tier", tier.String(),
		"identity_kind", key.Kind.String(),
	)
	return nil
}

// CleanupExpiredRecords deletes windows that ended more than the retention
// period ago.
func (s *Service) CleanupExpiredRecords(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	cutoff := now.Add(-models.RetentionAfterExpiry)

	ctx, span := s.tracer.Start(ctx, "ratelimit.cleanup")
	defer span.End()

	var deleted int
	err := s.timed(opCleanup, func() error {
		var delErr error
		deleted, delErr = s.store.DeleteExpired(ctx, cutoff)
		return delErr
	})
	if err != nil {
		s.metrics.IncrementStoreErrors(opCleanup)
		failSpan(span, err)
		return 0, fmt.Errorf("delete expired windows: %w", err)
	}

	s.metrics.AddCleanupDeleted(deleted)
	span.SetAttributes(attribute.Int("ratelimit.deleted", deleted))
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.ActionCleanupCompleted,
		observability.KeyCount, deleted,
	)
	return deleted, nil
}

const (
	opCheck     = "check"
	opRecord    = "record"
	opCreate    = "create"
	opIncrement = "increment"
	opCleanup   = "cleanup"
)

func (s *Service) findActive(ctx context.Context, op string, key models.IdentityKey, now time.Time) (*models.ConsumptionWindow, error) {
	var window *models.ConsumptionWindow
	err := s.timed(op, func() error {
		var findErr error
		window, findErr = s.store.FindActive(ctx, key, now)
		return findErr
	})
	if err != nil {
		s.metrics.IncrementStoreErrors(op)
		return nil, fmt.Errorf("find active window: %w", err)
	}
	return window, nil
}

func (s *Service) timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.ObserveStoreLatency(op, start)
	return err
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
