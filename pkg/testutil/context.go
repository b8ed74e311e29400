package testutil

import (
	"net/http"
	"time"

	id "tourops/pkg/domain"
	"tourops/pkg/requestcontext"
)

// WithActor simulates what the auth middleware does for authenticated
// requests. A nil actor leaves the request anonymous.
func WithActor(req *http.Request, actorID id.UserID) *http.Request {
	if actorID.IsNil() {
		return req
	}
	return req.WithContext(requestcontext.WithActorID(req.Context(), actorID))
}

// WithTime pins the request time the way the requesttime middleware does.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
