// Package requesttime pins one "now" per request so created_at values and audit
// timestamps written during the request agree.
package requesttime

import (
	"net/http"
	"time"

	"relief/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
