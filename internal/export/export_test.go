package export

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"relief/internal/beneficiary/models"
	"relief/internal/beneficiary/store"
	"relief/pkg/requestcontext"
)

func fixtures() []*models.Beneficiary {
	return []*models.Beneficiary{
		{
			ID:                    1,
			LastName:              "Dela Cruz",
			FirstName:             "Juan",
			MiddleName:            "Santos",
			ExtensionName:         "Jr.",
			Sex:                   models.SexMale,
			BirthDate:             models.NewDate(1980, time.March, 4),
			CivilStatus:           "Married",
			Province:              "Leyte",
			Municipality:          "Palo",
			Barangay:              "San Joaquin",
			Purok:                 "Purok 1",
			DamageClassification:  models.DamageTotally,
			PovertyClassification: models.PovertyPoor,
			Sectors:               []string{"Senior Citizen", "PWD"},
			LivingWithSpouse:      true,
			Spouse: models.Counterpart{
				LastName: "Dela Cruz", FirstName: "Maria", MiddleName: "Reyes",
				BirthDate: models.NewDate(1982, time.May, 6),
			},
			Siblings:  []models.Person{{FirstName: "Pedro"}},
			Children:  []models.Person{{FirstName: "Lito"}, {FirstName: "Rosa"}},
			CreatedAt: time.Date(2025, 11, 9, 14, 30, 0, 0, time.UTC),
		},
		{
			ID:                   2,
			LastName:             "Peña",
			FirstName:            `Ana "Annie"`,
			Sex:                  models.SexFemale,
			CivilStatus:          "Single",
			Province:             "Leyte",
			Municipality:         "Tanauan",
			Barangay:             "Bislig",
			DamageClassification: models.DamagePartially,
			Sectors:              []string{},
			LivingWithFather:     true,
			Father:               models.Counterpart{LastName: "Peña", FirstName: "Jose"},
			// mother details without the flag are not exported
			Mother:    models.Counterpart{LastName: "Reyes", FirstName: "Luz"},
			Relatives: []models.Relative{{Person: models.Person{FirstName: "Ramon"}, Relationship: "Uncle"}},
			CreatedAt: time.Date(2025, 11, 8, 9, 0, 0, 0, time.UTC),
		},
	}
}

func TestWriteCSVGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, fixtures()))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "masterlist", buf.Bytes())
}

func TestRowHasHeaderWidth(t *testing.T) {
	assert.Len(t, Header, 27)
	for _, b := range fixtures() {
		assert.Len(t, Row(b), len(Header))
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, KindCleanList, fixtures()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(KindCleanList)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "Dela Cruz", rows[1][0])
	assert.Equal(t, "2", rows[1][24])

	cellType, err := f.GetCellType(KindCleanList, "Y2")
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeSharedString, cellType)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}

func TestHandlers(t *testing.T) {
	st := store.NewInMemory()
	ctx := context.Background()
	for _, b := range fixtures() {
		b.ID = 0
		require.NoError(t, st.Create(ctx, b))
	}
	require.NoError(t, st.SetMarkedAsDuplicate(ctx, 1, true))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC))))
		})
	})
	NewHandler(NewService(st), slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/masterlist/export?search=cruz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="masterlist-2025-11-10.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "Dela Cruz")
	assert.NotContains(t, rec.Body.String(), "Tanauan")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/deduplication/export-clean-list?format=xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="clean-list-2025-11-10.xlsx"`, rec.Header().Get("Content-Disposition"))

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	rows, err := f.GetRows(KindCleanList)
	require.NoError(t, err)
	require.Len(t, rows, 2, "marked duplicate is excluded")
	assert.Equal(t, "Peña", rows[1][0])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/masterlist/export?format=pdf", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
