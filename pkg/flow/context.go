package flow

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/piewared/authcore/pkg/identity"
)

// contextKey is an unexported type used for context keys in this package.
// Using a distinct type prevents collisions with keys from other packages.
type contextKey int

const (
	// userKey stores the authenticated user in the context.
	userKey contextKey = iota

	// sessionIDKey stores the resolved user session ID in the context.
	sessionIDKey
)

// ContextWithUser returns a new context with the given user attached. The
// user can later be retrieved with [UserFromContext].
//
// This is typically called by HTTP middleware after resolving the session
// cookie through [Controller.CurrentState].
func ContextWithUser(ctx context.Context, user *identity.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext retrieves the authenticated user from the context.
// Returns the user and true if present, or nil and false if no user has
// been set. This function never returns a non-nil user with false.
func UserFromContext(ctx context.Context) (*identity.User, bool) {
	user, ok := ctx.Value(userKey).(*identity.User)
	return user, ok
}

// MustUserFromContext retrieves the user from the context, panicking if
// none is present. Use only behind authentication middleware.
func MustUserFromContext(ctx context.Context) *identity.User {
	user, ok := UserFromContext(ctx)
	if !ok {
		panic("flow: no user in context; ensure authentication middleware is configured")
	}
	return user
}

// ContextWithSessionID returns a new context with the resolved session ID
// attached.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext retrieves the session ID from the context.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID as a hex string and true if a valid trace is
// active. This lets operators link login events to request traces.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
