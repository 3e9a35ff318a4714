package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// SessionIDKey is the context key for the showcase session (X-Session-ID header)
	SessionIDKey contextKey = "session-id"
)

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetSessionID retrieves the session ID from context
func GetSessionID(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(SessionIDKey).(string)
	return sessionID, ok && sessionID != ""
}
