package testutil

import (
	"net/http"
	"time"

	"vcr/pkg/requestcontext"
)

// WithHookUser marks the request as authenticated for username, as the hooks
// Basic-auth middleware would.
func WithHookUser(req *http.Request, username string) *http.Request {
	return req.WithContext(requestcontext.WithHookUser(req.Context(), username))
}

// WithRequestTime pins the request clock so stored timestamps are predictable.
func WithRequestTime(req *http.Request, at time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), at))
}
