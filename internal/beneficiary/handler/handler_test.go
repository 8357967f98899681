package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief/internal/beneficiary/models"
	"relief/internal/beneficiary/service"
	"relief/internal/beneficiary/store"
	"relief/pkg/requestcontext"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	st := store.NewInMemory()
	svc := service.New(st, st)
	h := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	h.Register(r)
	return r
}

func payload(overrides map[string]any) []byte {
	body := map[string]any{
		"province":                         "Surigao del Norte",
		"municipality":                     "Dapa",
		"barangay":                         "Osmeña",
		"purok":                            "Purok 3",
		"last_name":                        "Santos",
		"first_name":                       "Arvin",
		"sex":                              "Male",
		"birth_date":                       "1990-01-01",
		"classify_extent_of_damaged_house": "Totally Damaged (Severely)",
		"civil_status":                     "Single",
		"applicable_sector":                []string{"Senior Citizen", " Senior Citizen "},
	}
	for k, v := range overrides {
		body[k] = v
	}
	b, _ := json.Marshal(body)
	return b
}

func do(router http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreate(t *testing.T) {
	router := newRouter(t)

	rec := do(router, http.MethodPost, "/beneficiaries", payload(nil), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created models.Beneficiary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, []string{"Senior Citizen"}, created.Sectors)

	rec = do(router, http.MethodPost, "/beneficiaries", payload(nil), nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{
		"message": "A beneficiary with this name and birth date already exists.",
		"errors": {"first_name": ["A beneficiary with this name and birth date already exists."]}
	}`, rec.Body.String())

	rec = do(router, http.MethodGet, "/beneficiaries/"+jsonInt(created.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateValidationFailure(t *testing.T) {
	router := newRouter(t)

	rec := do(router, http.MethodPost, "/beneficiaries", payload(map[string]any{"province": "", "living_with_father": true}), nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "The province field is required.", body.Message)
	assert.Contains(t, body.Errors, "father_last_name")
}

func TestOfflineSync(t *testing.T) {
	router := newRouter(t)
	headers := map[string]string{HeaderOfflineID: "0b6f6f5e-1f7e-4c4e-9a55-3c2b1d1e0f00"}

	rec := do(router, http.MethodPost, "/beneficiaries/offline-sync", payload(nil), headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"synced": true}`, rec.Body.String())

	rec = do(router, http.MethodPost, "/beneficiaries/offline-sync", payload(nil), headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"synced": true, "duplicate": true}`, rec.Body.String())

	rec = do(router, http.MethodPost, "/beneficiaries/offline-sync", payload(map[string]any{"sex": "Other"}), nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListAndGet(t *testing.T) {
	router := newRouter(t)
	require.Equal(t, http.StatusCreated, do(router, http.MethodPost, "/beneficiaries", payload(nil), nil).Code)
	require.Equal(t, http.StatusCreated, do(router, http.MethodPost, "/beneficiaries",
		payload(map[string]any{"first_name": "Maria", "last_name": "Reyes"}), nil).Code)

	rec := do(router, http.MethodGet, "/beneficiaries?search=rey", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.Page[models.Summary]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Maria", page.Data[0].FirstName)

	rec = do(router, http.MethodGet, "/beneficiaries?page=1000000000000000000", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = models.Page[models.Summary]{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Empty(t, page.Data)
	assert.Equal(t, models.MaxPage, page.CurrentPage)

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/beneficiaries/99", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/beneficiaries/abc", nil, nil).Code)
}

func TestServiceErrorsAreNotLeaked(t *testing.T) {
	h := New(failingService{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)

	rec := do(r, http.MethodGet, "/beneficiaries", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "internal_error"}`, rec.Body.String())
}

type failingService struct{ Service }

func (failingService) List(context.Context, string, int) (*models.Page[models.Summary], error) {
	return nil, io.ErrUnexpectedEOF
}

func jsonInt(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
