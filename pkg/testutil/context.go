package testutil

import (
	"net/http"

	"relief/pkg/requestcontext"
)

// WithOperator marks the request as authenticated, as the auth middleware would.
func WithOperator(req *http.Request, userID, role string) *http.Request {
	ctx := requestcontext.WithUserID(req.Context(), userID)
	ctx = requestcontext.WithRole(ctx, role)
	return req.WithContext(ctx)
}

// WithAdmin is WithOperator with the admin role.
func WithAdmin(req *http.Request) *http.Request {
	return WithOperator(req, "admin-1", "admin")
}
