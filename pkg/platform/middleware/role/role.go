// Package role guards routes that only some operators may call.
package role

import (
	"log/slog"
	"net/http"

	"relief/pkg/requestcontext"
)

// Admin is the role allowed to run deduplication and exports.
const Admin = "admin"

// Require answers 403 unless the authenticated operator has the given role.
// It must run after auth.RequireAuth.
func Require(role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if requestcontext.Role(ctx) != role {
				logger.WarnContext(ctx, "forbidden - role mismatch",
					"required_role", role,
					"user_id", requestcontext.UserID(ctx),
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden","error_description":"insufficient role"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
