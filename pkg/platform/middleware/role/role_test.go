package role

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"relief/pkg/testutil"
)

func TestRequire(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Require(Admin, logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		role   string
		status int
	}{
		{"admin passes", Admin, http.StatusOK},
		{"encoder forbidden", "encoder", http.StatusForbidden},
		{"anonymous forbidden", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.WithOperator(httptest.NewRequest(http.MethodGet, "/data-cleansing", nil), "op-1", tt.role)
			rr := testutil.DoRequest(h, req)
			assert.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusForbidden {
				assert.Equal(t, "forbidden", testutil.ErrorCode(t, rr))
			}
		})
	}
}
