package zine

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"anyzine/pkg/platform/httputil"
	"anyzine/pkg/requestcontext"
)

// Handler serves zine generation. Rate limiting is applied by the router.
type Handler struct {
	sanitizer *Sanitizer
	generator Generator
	logger    *slog.Logger
}

func NewHandler(sanitizer *Sanitizer, generator Generator, logger *slog.Logger) *Handler {
	if sanitizer == nil {
		sanitizer = NewSanitizer()
	}
	return &Handler{
		sanitizer: sanitizer,
		generator: generator,
		logger:    logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/api/generate-zine", h.HandleGenerate)
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[GenerateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	subject, err := h.sanitizer.Sanitize(req.Subject)
	if err != nil {
		h.logger.InfoContext(ctx, "zine subject rejected",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	zine, err := h.generator.Generate(ctx, subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, zine)
}
