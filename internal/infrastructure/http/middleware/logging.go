package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	ctxutil "3tcapital/ms_facturacion_pe/internal/infrastructure/context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// CorrelationHeader carries the correlation ID in and out of the service.
const CorrelationHeader = "X-Correlation-ID"

// CallerHeader names the internal system issuing a request. It takes
// precedence over the caller derived from the access token.
const CallerHeader = "X-Caller"

const maxCorrelationIDLength = 100

// responseWriter wraps http.ResponseWriter to capture status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Correlation stores the inbound X-Correlation-ID in the request context,
// falling back to chi's request ID, and echoes it on the response.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(CorrelationHeader))
		if id == "" || len(id) > maxCorrelationIDLength {
			id = chimw.GetReqID(r.Context())
		}
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(ctxutil.WithCorrelationID(r.Context(), id)))
	})
}

// Caller stores the X-Caller header in the request context.
func Caller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := strings.TrimSpace(r.Header.Get(CallerHeader))
		if caller == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(caller) > 100 {
			caller = caller[:100]
		}
		next.ServeHTTP(w, r.WithContext(ctxutil.WithCaller(r.Context(), caller)))
	})
}

// RequestLogger returns a middleware that logs HTTP requests and responses.
// Log levels are determined by status code:
//   - Info: 2xx, 3xx
//   - Warn: 4xx
//   - Error: 5xx
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / 1e6

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", rw.statusCode,
				"duration_ms", durationMs,
				"bytes", rw.bytesWritten,
			}

			if correlationID := ctxutil.GetCorrelationID(r.Context()); correlationID != "" {
				attrs = append(attrs, "correlation_id", correlationID)
			}
			if requestID := chimw.GetReqID(r.Context()); requestID != "" {
				attrs = append(attrs, "request_id", requestID)
			}
			if caller := r.Header.Get(CallerHeader); caller != "" {
				attrs = append(attrs, "caller", caller)
			}
			if userAgent := r.Header.Get("User-Agent"); userAgent != "" {
				attrs = append(attrs, "user_agent", userAgent)
			}

			switch {
			case rw.statusCode >= 500:
				log.Error("HTTP request", attrs...)
			case rw.statusCode >= 400:
				log.Warn("HTTP request", attrs...)
			default:
				log.Info("HTTP request", attrs...)
			}
		})
	}
}
