package types

import "context"

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID returns a child context carrying the request ID assigned by
// the HTTP middleware.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request ID carried by ctx, or "" when none was
// set (background jobs, tests).
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
