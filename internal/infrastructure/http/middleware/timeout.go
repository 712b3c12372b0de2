package middleware

import (
	"context"
	"net/http"
	"time"
)

// ExtendedTimeout bounds the request context of bulk lookups, which may wait
// across several rate limit windows, and pushes the connection write deadline
// out to the same horizon.
func ExtendedTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if timeout <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			// Recorders and some wrappers do not support deadlines.
			_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(timeout))

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
