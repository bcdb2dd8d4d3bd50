package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// requestIDHeader is honored when the caller supplies it and echoed back
// on every response so replies can be correlated with the caller's traces.
const requestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// RequestID tags each request with an id, minting one when the caller did
// not send its own.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// GetRequestID returns the id tagged by the middleware, or "unknown"
// outside a request scope.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	if id == "" {
		return "unknown"
	}
	return id
}
