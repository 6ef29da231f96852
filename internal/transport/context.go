package transport

import "context"

type contextKey string

const retriedContextKey contextKey = "session_retried"

// markRetried tags a request context as the single permitted retry after a refresh.
func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedContextKey, true)
}

// IsRetried reports whether ctx belongs to a request already re-dispatched after a refresh.
func IsRetried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedContextKey).(bool)
	return retried
}
