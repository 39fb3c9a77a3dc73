package identity

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "anyzine/pkg/domain-errors"
	"anyzine/pkg/platform/httputil"
	"anyzine/pkg/requestcontext"
)

const bearerPrefix = "Bearer "

// SubjectVerifier is implemented by Verifier.
type SubjectVerifier interface {
	Subject(tokenString string) (string, error)
}

// Optional puts the verified subject in the request context. A missing or
// invalid token is never rejected; the request continues anonymous.
func Optional(verifier SubjectVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || strings.TrimSpace(token) == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			subject, err := verifier.Subject(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "identity token rejected, continuing anonymous",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithSubjectID(ctx, subject)))
		})
	}
}

// RequireSubject rejects requests that Optional left anonymous.
func RequireSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestcontext.SubjectID(r.Context()) == "" {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
