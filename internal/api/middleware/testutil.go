package middleware

import "context"

// WithTestUserID injects a user ID into the context as if a session cookie
// had been validated, so scope checks behave like dashboard auth. This is
// intended for handler-level unit tests that call handler methods directly
// (bypassing the auth middleware). Production code should rely on the Auth
// or OptionalAuth middleware to populate these values.
func WithTestUserID(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, authMethodKey, "session")
}
