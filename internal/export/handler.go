package export

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"relief/internal/beneficiary/models"
	dErrors "relief/pkg/domain-errors"
	"relief/pkg/platform/httputil"
	"relief/pkg/requestcontext"
)

type Exporter interface {
	Masterlist(ctx context.Context, search string) ([]*models.Beneficiary, error)
	CleanList(ctx context.Context, municipality string) ([]*models.Beneficiary, error)
}

// Handler streams export files.
type Handler struct {
	exporter Exporter
	logger   *slog.Logger
}

func NewHandler(exporter Exporter, logger *slog.Logger) *Handler {
	return &Handler{exporter: exporter, logger: logger}
}

// Register mounts the download routes. The caller applies the admin guard.
func (h *Handler) Register(r chi.Router) {
	r.Get("/masterlist/export", h.HandleMasterlist)
	r.Get("/deduplication/export-clean-list", h.HandleCleanList)
}

// HandleMasterlist handles GET /masterlist/export?search=&format=.
func (h *Handler) HandleMasterlist(w http.ResponseWriter, r *http.Request) {
	search := strings.TrimSpace(r.URL.Query().Get("search"))
	h.serve(w, r, KindMasterlist, func(ctx context.Context) ([]*models.Beneficiary, error) {
		return h.exporter.Masterlist(ctx, search)
	})
}

// HandleCleanList handles GET /deduplication/export-clean-list?municipality=&format=.
func (h *Handler) HandleCleanList(w http.ResponseWriter, r *http.Request) {
	municipality := strings.TrimSpace(r.URL.Query().Get("municipality"))
	h.serve(w, r, KindCleanList, func(ctx context.Context) ([]*models.Beneficiary, error) {
		return h.exporter.CleanList(ctx, municipality)
	})
}

// Filename is "<kind>-YYYY-MM-DD.<ext>" for the request day.
func Filename(ctx context.Context, kind string, f Format) string {
	return kind + "-" + requestcontext.Now(ctx).Format("2006-01-02") + "." + string(f)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, kind string, load func(context.Context) ([]*models.Beneficiary, error)) {
	ctx := r.Context()
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, err.Error()))
		return
	}
	records, err := load(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// headers go out only once rendering succeeded
	var buf bytes.Buffer
	if format == FormatXLSX {
		err = WriteXLSX(&buf, kind, records)
	} else {
		err = WriteCSV(&buf, records)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to render export",
			"request_id", requestcontext.RequestID(ctx),
			"kind", kind,
			"format", format,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export"))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+Filename(ctx, kind, format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
