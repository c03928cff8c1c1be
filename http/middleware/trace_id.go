package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/leeforge/workforce/logging"
)

// CorrelationIDHeader carries the correlation id in requests and responses.
const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationIDMiddleware adopts the caller's correlation id or mints one and
// stores it in the logging context. Events published while serving the
// request inherit it.
func CorrelationIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(CorrelationIDHeader)
			if id == "" {
				id = newCorrelationID()
			}
			w.Header().Set(CorrelationIDHeader, id)

			ctx := logging.SetCorrelationID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCorrelationIDFromRequest retrieves the correlation id from request context
func GetCorrelationIDFromRequest(r *http.Request) string {
	return logging.GetCorrelationID(r.Context())
}

func newCorrelationID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
