package types

import "context"

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID stores a run-scoped trace ID in the context. The scheduler
// sets one per tick so that every outbound call and log line from a run can
// be correlated.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the trace ID from the context, or "" if unset.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
