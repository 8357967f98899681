// Package handler exposes the device queue to the local browser UI. Routes live
// under /_relief/ so they never collide with proxied registry paths.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"relief/internal/offlinequeue"
	"relief/internal/offlinequeue/models"
	dErrors "relief/pkg/domain-errors"
	"relief/pkg/platform/httputil"
)

const maxPayloadBytes = 1 << 20

type Queue interface {
	Enqueue(ctx context.Context, payload json.RawMessage) (models.Entry, error)
	Sync(ctx context.Context) (offlinequeue.Report, error)
	RetryFailed(ctx context.Context) (offlinequeue.Report, error)
	Entries(ctx context.Context) ([]models.Entry, error)
	Syncing() bool
}

// Status is the body of GET /_relief/queue.
type Status struct {
	Entries []models.Entry `json:"entries"`
	Pending int            `json:"pending"`
	Failed  int            `json:"failed"`
	Syncing bool           `json:"syncing"`
}

type Handler struct {
	queue  Queue
	logger *slog.Logger
}

func New(queue Queue, logger *slog.Logger) *Handler {
	return &Handler{queue: queue, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/_relief/queue", h.HandleStatus)
	r.Post("/_relief/queue", h.HandleEnqueue)
	r.Post("/_relief/queue/sync", h.HandleSync)
	r.Post("/_relief/queue/retry", h.HandleRetry)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.Entries(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read queue", "error", err)
		httputil.WriteError(w, err)
		return
	}
	st := Status{Entries: entries, Syncing: h.queue.Syncing()}
	if st.Entries == nil {
		st.Entries = []models.Entry{}
	}
	for _, e := range entries {
		if e.Status == models.StatusFailed {
			st.Failed++
		} else {
			st.Pending++
		}
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

// HandleEnqueue stores the raw create-request body for later sync.
func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "payload too large or unreadable"))
		return
	}
	entry, err := h.queue.Enqueue(r.Context(), body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, entry)
}

func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	h.writeReport(w, r, h.queue.Sync)
}

func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	h.writeReport(w, r, h.queue.RetryFailed)
}

func (h *Handler) writeReport(w http.ResponseWriter, r *http.Request, run func(context.Context) (offlinequeue.Report, error)) {
	report, err := run(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sync failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
