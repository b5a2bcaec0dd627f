package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// CorrelationIDHeader is echoed on every response.
const CorrelationIDHeader = "X-Correlation-Id"

type correlationKey struct{}

// CorrelationID reuses the caller's X-Correlation-Id or generates one, stores
// it in the request context and sets it on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(CorrelationIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), id)))
	})
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFrom returns the id stored by CorrelationID, or "".
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
