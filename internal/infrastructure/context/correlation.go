package context

import "context"

type contextKey string

const (
	// CorrelationIDKey carries the id propagated as X-Correlation-ID.
	CorrelationIDKey contextKey = "correlation_id"
	// CallerKey carries the module:function label recorded as called_from.
	CallerKey contextKey = "caller"
)

// WithCorrelationID adds a correlation ID to the context.
// It follows a request from the inbound route through every outbound gateway call.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// GetCorrelationID returns the correlation ID, or "" if absent.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithCaller labels the context with the invoking module:function.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

// GetCaller returns the caller label, or "" if absent.
func GetCaller(ctx context.Context) string {
	if caller, ok := ctx.Value(CallerKey).(string); ok {
		return caller
	}
	return ""
}
