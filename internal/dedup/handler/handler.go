package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	beneficiaryhandler "relief/internal/beneficiary/handler"
	"relief/internal/dedup/merge"
	"relief/internal/dedup/service"
	"relief/pkg/platform/httputil"
	"relief/pkg/requestcontext"
)

type Grouper interface {
	ExactDuplicates(ctx context.Context, search string, page int) (*service.Result, error)
	FuzzyDuplicates(ctx context.Context, municipality string, page int) (*service.Result, error)
}

type Merger interface {
	Merge(ctx context.Context, keepID int64, removeIDs []int64) (*merge.Result, error)
	MergeAll(ctx context.Context) (*merge.AllResult, error)
}

// Records is the slice of the beneficiary service the cleansing screens act on.
type Records interface {
	SetMarked(ctx context.Context, id int64, marked bool) error
	Delete(ctx context.Context, id int64) error
}

// MergeRequest is the body of POST /data-cleansing/merge.
type MergeRequest struct {
	KeepID    int64   `json:"keep_id"`
	RemoveIDs []int64 `json:"remove_ids"`
}

func (r *MergeRequest) Validate() error {
	return merge.Validate(r.KeepID, r.RemoveIDs)
}

type exactResponse struct {
	*service.Result
	Filters map[string]string `json:"filters"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// Handler serves the admin cleansing and deduplication screens.
type Handler struct {
	grouper Grouper
	merger  Merger
	records Records
	logger  *slog.Logger
}

func New(grouper Grouper, merger Merger, records Records, logger *slog.Logger) *Handler {
	return &Handler{grouper: grouper, merger: merger, records: records, logger: logger}
}

// Register mounts the routes. The caller applies the admin guard.
func (h *Handler) Register(r chi.Router) {
	r.Get("/data-cleansing", h.HandleExact)
	r.Post("/data-cleansing/merge", h.HandleMerge)
	r.Post("/data-cleansing/merge-all", h.HandleMergeAll)
	r.Delete("/data-cleansing/{id}", h.HandleDelete)

	r.Get("/deduplication", h.HandleFuzzy)
	r.Post("/deduplication/{id}/mark", h.handleMark(true))
	r.Delete("/deduplication/{id}/mark", h.handleMark(false))
}

// HandleExact handles GET /data-cleansing?search=&page=.
func (h *Handler) HandleExact(w http.ResponseWriter, r *http.Request) {
	search := strings.TrimSpace(r.URL.Query().Get("search"))
	res, err := h.grouper.ExactDuplicates(r.Context(), search, beneficiaryhandler.PageParam(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exactResponse{Result: res, Filters: map[string]string{"search": search}})
}

// HandleFuzzy handles GET /deduplication?municipality=&page=.
func (h *Handler) HandleFuzzy(w http.ResponseWriter, r *http.Request) {
	municipality := strings.TrimSpace(r.URL.Query().Get("municipality"))
	res, err := h.grouper.FuzzyDuplicates(r.Context(), municipality, beneficiaryhandler.PageParam(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exactResponse{Result: res, Filters: map[string]string{"municipality": municipality}})
}

// HandleMerge handles POST /data-cleansing/merge.
func (h *Handler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[MergeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.merger.Merge(ctx, req.KeepID, req.RemoveIDs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "records merged",
		"request_id", requestID,
		"keep_id", res.KeepID,
		"removed", res.Removed,
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleMergeAll handles POST /data-cleansing/merge-all.
func (h *Handler) HandleMergeAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.merger.MergeAll(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "bulk merge completed",
		"request_id", requestcontext.RequestID(ctx),
		"groups", res.Groups,
		"failures", len(res.Failures),
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleDelete handles DELETE /data-cleansing/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := beneficiaryhandler.IDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.records.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMark(marked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := beneficiaryhandler.IDParam(r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := h.records.SetMarked(r.Context(), id, marked); err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true})
	}
}
