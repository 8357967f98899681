package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"relief/internal/beneficiary/models"
	"relief/internal/beneficiary/service"
	dErrors "relief/pkg/domain-errors"
	"relief/pkg/platform/httputil"
	"relief/pkg/requestcontext"
)

// HeaderOfflineID carries the client-generated id of a queued submission.
const HeaderOfflineID = "X-Offline-ID"

type Service interface {
	Create(ctx context.Context, req *models.CreateRequest) (*models.Beneficiary, error)
	OfflineSync(ctx context.Context, offlineID string, req *models.CreateRequest) (service.SyncResult, error)
	Get(ctx context.Context, id int64) (*models.Beneficiary, error)
	List(ctx context.Context, search string, page int) (*models.Page[models.Summary], error)
}

// Handler serves the intake and listing endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Register mounts the beneficiary routes. Authentication is applied by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Post("/beneficiaries", h.HandleCreate)
	r.Post("/beneficiaries/offline-sync", h.HandleOfflineSync)
	r.Get("/beneficiaries", h.HandleList)
	r.Get("/beneficiaries/{id}", h.HandleGet)
}

// HandleCreate handles POST /beneficiaries.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	b, err := h.service.Create(ctx, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "beneficiary created",
		"request_id", requestID,
		"beneficiary_id", b.ID,
	)
	httputil.WriteJSON(w, http.StatusCreated, b)
}

// HandleOfflineSync handles POST /beneficiaries/offline-sync. Replays and identity
// duplicates are answered 201 with duplicate set.
func (h *Handler) HandleOfflineSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	offlineID := strings.TrimSpace(r.Header.Get(HeaderOfflineID))

	req, ok := httputil.DecodeAndPrepare[models.CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.OfflineSync(ctx, offlineID, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "offline submission synced",
		"request_id", requestID,
		"offline_id", offlineID,
		"duplicate", res.Duplicate,
	)
	httputil.WriteJSON(w, http.StatusCreated, res)
}

// HandleList handles GET /beneficiaries?search=&page=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	page, err := h.service.List(ctx, strings.TrimSpace(q.Get("search")), PageParam(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// HandleGet handles GET /beneficiaries/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := IDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

// IDParam parses the {id} route parameter.
func IDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid id")
	}
	return id, nil
}

// PageParam reads ?page=, defaulting to 1 and capped at models.MaxPage.
func PageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil {
		return 1
	}
	return models.ClampPage(page)
}
