package testutil

import (
	"net/http"
	"time"

	"anyzine/pkg/requestcontext"
)

// WithSubject adds an authenticated subject to the request context.
// This simulates what the identity middleware does for a valid bearer token.
// An empty subject leaves the request unchanged.
func WithSubject(req *http.Request, subject string) *http.Request {
	if subject == "" {
		return req
	}
	return req.WithContext(requestcontext.WithSubjectID(req.Context(), subject))
}

// WithSession adds an anonymous session id to the request context.
func WithSession(req *http.Request, sessionID string) *http.Request {
	if sessionID == "" {
		return req
	}
	return req.WithContext(requestcontext.WithSessionID(req.Context(), sessionID))
}

// WithClient sets the client address seen by handlers, as the metadata
// middleware would.
func WithClient(req *http.Request, clientIP string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), clientIP, req.UserAgent()))
}

// WithTime pins the request-scoped clock.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
