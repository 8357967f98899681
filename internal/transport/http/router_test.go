package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	beneficiaryhandler "relief/internal/beneficiary/handler"
	beneficiaryservice "relief/internal/beneficiary/service"
	beneficiarystore "relief/internal/beneficiary/store"
	deduphandler "relief/internal/dedup/handler"
	"relief/internal/dedup/merge"
	dedupservice "relief/internal/dedup/service"
	"relief/internal/export"
	jwttoken "relief/internal/jwt_token"
	"relief/internal/platform/metrics"
	"relief/pkg/platform/middleware/role"
)

type routerFixture struct {
	handler http.Handler
	jwt     *jwttoken.JWTService
}

func newRouterFixture(t *testing.T, health func(context.Context) error) routerFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	st := beneficiarystore.NewInMemory()
	svc := beneficiaryservice.New(st, st, beneficiaryservice.WithLogger(logger))
	jwt := jwttoken.NewJWTService("test-key", "relief", "relief-api")

	handler := NewRouter(Deps{
		Logger:    logger,
		Metrics:   metrics.New(),
		Validator: jwttoken.NewJWTServiceAdapter(jwt),
		Health:    health,
		Operator:  []Registrar{beneficiaryhandler.New(svc, logger)},
		Admin: []Registrar{
			deduphandler.New(dedupservice.New(st), merge.New(st, st), svc, logger),
			export.NewHandler(export.NewService(st), logger),
		},
	})
	return routerFixture{handler: handler, jwt: jwt}
}

func (f routerFixture) do(t *testing.T, method, path, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if role != "" {
		token, err := f.jwt.GenerateAccessToken("operator-1", role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	ok := newRouterFixture(t, nil)
	rec := ok.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	down := newRouterFixture(t, func(context.Context) error { return errors.New("db down") })
	rec = down.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_Guards(t *testing.T) {
	f := newRouterFixture(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{"list needs a token", http.MethodGet, "/beneficiaries", "", http.StatusUnauthorized},
		{"operator may list", http.MethodGet, "/beneficiaries", "encoder", http.StatusOK},
		{"operator may not cleanse", http.MethodGet, "/data-cleansing", "encoder", http.StatusForbidden},
		{"admin may cleanse", http.MethodGet, "/data-cleansing", role.Admin, http.StatusOK},
		{"admin may export", http.MethodGet, "/masterlist/export", role.Admin, http.StatusOK},
		{"operator may not export", http.MethodGet, "/deduplication/export-clean-list", "encoder", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.role)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.do(t, http.MethodGet, "/healthz", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `relief_http_requests_total{method="GET",route="/healthz",status="200"} 1`))
}
