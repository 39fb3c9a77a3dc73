package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"anyzine/internal/ratelimit/middleware"
	"anyzine/internal/ratelimit/models"
	dErrors "anyzine/pkg/domain-errors"
	"anyzine/pkg/platform/httputil"
	"anyzine/pkg/requestcontext"
)

// CounterService is the subset of the counter service the endpoints need.
type CounterService interface {
	CheckRateLimit(ctx context.Context, identity models.Identity) (*models.RateLimitResult, error)
	CleanupExpiredRecords(ctx context.Context) (int, error)
}

// MigrationService folds an anonymous session into a subject.
type MigrationService interface {
	MigrateSession(ctx context.Context, sessionID, subjectID string) (*models.MigrationResult, error)
}

type Handler struct {
	counter   CounterService
	migration MigrationService
	logger    *slog.Logger
}

func New(counter CounterService, migration MigrationService, logger *slog.Logger) *Handler {
	return &Handler{
		counter:   counter,
		migration: migration,
		logger:    logger,
	}
}

// Register mounts the caller-facing endpoints. The router is expected to
// attach the session middleware, and RequireSubject on the migrate route.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/rate-limit", h.HandleStatus)
	r.Post("/api/rate-limit/migrate", h.HandleMigrate)
}

// RegisterAdmin mounts operator endpoints behind the caller's admin auth.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/rate-limit/cleanup", h.HandleCleanup)
}

// HandleStatus reports the caller's standing without consuming a request.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.counter.CheckRateLimit(ctx, middleware.ResolveIdentity(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "rate limit status unavailable", "error", err)
		if _, ok := dErrors.As(err); !ok {
			err = dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limit status is temporarily unavailable")
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.FromResult(result))
}

// HandleMigrate never fails the caller: a migration error is logged and
// reported as migrated=false.
func (h *Handler) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := requestcontext.SubjectID(ctx)
	if subject == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	session := requestcontext.SessionID(ctx)
	if session == "" {
		httputil.WriteJSON(w, http.StatusOK, &models.MigrationResponse{Outcome: models.MigrationNoop})
		return
	}

	result, err := h.migration.MigrateSession(ctx, session, subject)
	if err != nil {
		h.logger.WarnContext(ctx, "session migration failed", "error", err)
		httputil.WriteJSON(w, http.StatusOK, &models.MigrationResponse{Migrated: false})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &models.MigrationResponse{
		Migrated: result.Outcome != models.MigrationNoop,
		Outcome:  result.Outcome,
	})
}

func (h *Handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deleted, err := h.counter.CleanupExpiredRecords(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "rate limit cleanup failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "rate limit cleanup completed", "deleted", deleted)
	httputil.WriteJSON(w, http.StatusOK, &models.CleanupResponse{Deleted: deleted})
}
