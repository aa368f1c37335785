package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
// Using a distinct type prevents collisions with keys from other packages.
type contextKey int

const (
	// sessionKey stores the verified SessionClaims in the context.
	sessionKey contextKey = iota
)

// ContextWithSession returns a new context with the given session claims
// attached. The claims can later be retrieved with [SessionFromContext].
//
// This is typically called by [SessionMiddleware] and the gRPC server
// interceptors after successfully verifying a session token.
func ContextWithSession(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, sessionKey, claims)
}

// SessionFromContext retrieves the session claims from the context.
// Returns the claims and true if present, or nil and false if no session
// has been set. This function never returns non-nil claims with false.
//
// Example:
//
//	claims, ok := auth.SessionFromContext(ctx)
//	if !ok {
//	    return errors.New(errors.CodeAuthentication, "no session in context")
//	}
//	log.Info("request from", "user", claims.Subject)
func SessionFromContext(ctx context.Context) (*SessionClaims, bool) {
	claims, ok := ctx.Value(sessionKey).(*SessionClaims)
	return claims, ok
}

// MustSessionFromContext retrieves the session claims from the context,
// panicking if none are present. This should only be used in code paths
// where a session is guaranteed to exist (e.g., behind [SessionMiddleware]).
func MustSessionFromContext(ctx context.Context) *SessionClaims {
	claims, ok := SessionFromContext(ctx)
	if !ok {
		panic("auth: no session in context; ensure session middleware is configured")
	}
	return claims
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID as a hex string and true if a valid trace is active,
// or an empty string and false if no trace is present.
//
// This allows correlating authentication events with distributed traces.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
