// Package request assigns correlation IDs to incoming requests.
package request

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"anyzine/pkg/requestcontext"
)

// HeaderRequestID is read from and echoed on every request.
const HeaderRequestID = "X-Request-ID"

const maxInboundIDLen = 128

// RequestID reuses a caller supplied X-Request-ID when it is short enough,
// otherwise it generates one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" || len(id) > maxInboundIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
