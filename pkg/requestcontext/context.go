// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services read them. Keeping this package free of
// net/http lets the validator and audit services stay transport agnostic.
//
// Usage in services (read values):
//
//	actorID := requestcontext.ActorID(ctx)
//	origin := requestcontext.Origin(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithActorID(ctx, actorID)
package requestcontext

import (
	"context"
	"time"

	id "tourops/pkg/domain"
)

type (
	actorIDKey     struct{}
	requestIDKey   struct{}
	originKey      struct{}
	requestTimeKey struct{}
)

// ActorID retrieves the authenticated actor from the context.
// Returns the nil UserID if not set.
func ActorID(ctx context.Context) id.UserID {
	if actorID, ok := ctx.Value(actorIDKey{}).(id.UserID); ok {
		return actorID
	}
	return id.UserID{}
}

// WithActorID injects the acting user into the context.
func WithActorID(ctx context.Context, actorID id.UserID) context.Context {
	return context.WithValue(ctx, actorIDKey{}, actorID)
}

// RequestID retrieves the correlation id from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation id into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestOrigin describes where a governed mutation came from.
type RequestOrigin struct {
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Path      string `json:"path,omitempty"`
}

// IsZero reports whether no origin information was captured.
func (o RequestOrigin) IsZero() bool {
	return o == RequestOrigin{}
}

// Origin retrieves the request origin from the context.
func Origin(ctx context.Context) RequestOrigin {
	if o, ok := ctx.Value(originKey{}).(RequestOrigin); ok {
		return o
	}
	return RequestOrigin{}
}

// WithOrigin injects the request origin into the context.
func WithOrigin(ctx context.Context, origin RequestOrigin) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
