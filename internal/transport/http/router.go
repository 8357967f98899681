// Package httptransport assembles the registry server's router. Handlers live with
// their services; this package only decides which middleware guards which routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"relief/internal/platform/metrics"
	"relief/pkg/platform/httputil"
	authmw "relief/pkg/platform/middleware/auth"
	"relief/pkg/platform/middleware/request"
	"relief/pkg/platform/middleware/requesttime"
	"relief/pkg/platform/middleware/role"
)

// Registrar is implemented by every feature handler.
type Registrar interface {
	Register(r chi.Router)
}

// Deps is everything the router needs. Health may be nil.
type Deps struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Validator authmw.JWTValidator
	Health    func(ctx context.Context) error
	// Operators may call these.
	Operator []Registrar
	// Only admins may call these.
	Admin []Registrar
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
		r.Handle("/metrics", d.Metrics.Handler())
	}

	// the field client's connectivity probe
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				d.Logger.WarnContext(r.Context(), "health check failed", "error", err)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(d.Validator, d.Logger))
		for _, h := range d.Operator {
			h.Register(r)
		}
		r.Group(func(r chi.Router) {
			r.Use(role.Require(role.Admin, d.Logger))
			for _, h := range d.Admin {
				h.Register(r)
			}
		})
	})
	return r
}
