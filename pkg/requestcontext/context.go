// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// The acting user is the ambient identity consumed by shadow sources: the user
// on whose behalf the current logical operation runs. It lives only in the
// context.Context of that operation, so two requests served by the same
// goroutine pool can never observe each other's identity.
//
// Usage in handlers (scope the identity to one call):
//
//	ctx := requestcontext.WithActingUser(r.Context(), userID)
//	blob, err := buildPaymentBlob(ctx, req)
//
// Usage in services (read values):
//
//	user, ok := requestcontext.ActingUser(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
package requestcontext

import (
	"context"
	"time"

	id "shadowrt/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	actingUserKey  struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyActingUser  = actingUserKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Ambient identity
// -----------------------------------------------------------------------------

// ActingUser returns the user the current operation runs on behalf of.
// The boolean is false when no identity is set or it was masked.
func ActingUser(ctx context.Context) (id.UserID, bool) {
	userID, ok := ctx.Value(ContextKeyActingUser).(id.UserID)
	if !ok || userID.IsZero() {
		return "", false
	}
	return userID, true
}

// WithActingUser derives a context in which userID is the acting user.
// The parent context keeps its previous value, so the identity is released
// as soon as the derived context is no longer used.
func WithActingUser(ctx context.Context, userID id.UserID) context.Context {
	return context.WithValue(ctx, ContextKeyActingUser, userID)
}

// WithoutActingUser masks any identity inherited from ctx.
func WithoutActingUser(ctx context.Context) context.Context {
	return context.WithValue(ctx, ContextKeyActingUser, id.UserID(""))
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
