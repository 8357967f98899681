package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief/internal/beneficiary/models"
	"relief/internal/beneficiary/store"
	"relief/internal/dedup/grouping"
	"relief/internal/dedup/metrics"
	dErrors "relief/pkg/domain-errors"
)

// countingStore records which lookups the engine performed.
type countingStore struct {
	Store
	municipalityCalls int
	err               error
}

func (c *countingStore) FindByMunicipality(ctx context.Context, m string) ([]*models.Beneficiary, error) {
	c.municipalityCalls++
	if c.err != nil {
		return nil, c.err
	}
	return c.Store.FindByMunicipality(ctx, m)
}

func seed(t *testing.T, st *store.InMemoryStore, first, last, middle, municipality string, birth models.Date, offset time.Duration) *models.Beneficiary {
	t.Helper()
	b := &models.Beneficiary{
		FirstName: first, LastName: last, MiddleName: middle, Municipality: municipality, BirthDate: birth,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset),
	}
	require.NoError(t, st.Create(context.Background(), b))
	return b
}

func TestExactDuplicatesPagesOverKeys(t *testing.T) {
	st := store.NewInMemory()
	born := models.NewDate(1990, time.January, 1)
	for i := 0; i < 12; i++ {
		last := fmt.Sprintf("Last%02d", i)
		seed(t, st, "Juan", last, "", "Dapa", born, 0)
		seed(t, st, "Juan", last, "", "Dapa", born, time.Minute)
	}
	seed(t, st, "Solo", "Person", "", "Dapa", born, 0)

	m := metrics.New(prometheus.NewRegistry())
	engine := New(st, WithMetrics(m))

	res, err := engine.ExactDuplicates(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Equal(t, grouping.Pagination{CurrentPage: 2, LastPage: 2, PerPage: 10, Total: 12}, res.Pagination)
	require.Len(t, res.Groups, 2)
	assert.Equal(t, "Last10, Juan - 1990-01-01", res.Groups[0].Key)
	assert.Len(t, res.Groups[0].Records, 2)
	assert.Equal(t, 12.0, testutil.ToFloat64(m.GroupsFound.WithLabelValues(metrics.StrategyExact)))

	res, err = engine.ExactDuplicates(context.Background(), "last03", 1)
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, 1, res.Pagination.Total)
}

func TestFuzzyDuplicatesWithoutMunicipalityDoesNoWork(t *testing.T) {
	st := &countingStore{Store: store.NewInMemory()}
	engine := New(st)

	res, err := engine.FuzzyDuplicates(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Empty(t, res.Groups)
	assert.Equal(t, 1, res.Pagination.LastPage)
	assert.Zero(t, st.municipalityCalls)
}

func TestFuzzyDuplicatesScopesToMunicipality(t *testing.T) {
	mem := store.NewInMemory()
	seed(t, mem, "Arvin", "Santos", "Cruz", "Dapa", models.Date{}, 0)
	seed(t, mem, "Arven", "Santos", "Cruz", "Dapa", models.Date{}, 0)
	seed(t, mem, "Arvyn", "Santos", "Cruz", "Claver", models.Date{}, 0)
	st := &countingStore{Store: mem}
	engine := New(st)

	res, err := engine.FuzzyDuplicates(context.Background(), "Dapa", 1)
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "Santos, Cruz - Dapa", res.Groups[0].Key)
	assert.Len(t, res.Groups[0].Records, 2)

	res, err = engine.FuzzyDuplicates(context.Background(), "Claver", 1)
	require.NoError(t, err)
	assert.Empty(t, res.Groups)
	assert.Equal(t, 2, st.municipalityCalls)
}

func TestStoreFailuresAreInternal(t *testing.T) {
	st := &countingStore{Store: store.NewInMemory(), err: errors.New("connection reset")}
	_, err := New(st).FuzzyDuplicates(context.Background(), "Dapa", 1)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}
