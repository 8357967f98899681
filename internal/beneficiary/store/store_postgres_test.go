package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief/internal/beneficiary/models"
)

func setupMockStore(t *testing.T) (sqlmock.Sqlmock, *PostgresStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, NewPostgres(db)
}

func TestCreate_OfflineIDTaken(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectQuery(`INSERT INTO beneficiaries`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.Create(context.Background(), &models.Beneficiary{OfflineID: "abc", LastName: "Cruz"})
	assert.ErrorIs(t, err, ErrOfflineIDTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_InsertsMembers(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectQuery(`INSERT INTO beneficiaries`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectQuery(`INSERT INTO beneficiary_siblings`).
		WithArgs(int64(12), "Cruz", "Ana", "", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(40))
	mock.ExpectQuery(`INSERT INTO beneficiary_relatives`).
		WithArgs(int64(12), "Reyes", "Lito", "", nil, "Uncle").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(41))

	b := &models.Beneficiary{
		LastName:  "Cruz",
		Siblings:  []models.Person{{LastName: "Cruz", FirstName: "Ana"}},
		Relatives: []models.Relative{{Person: models.Person{LastName: "Reyes", FirstName: "Lito"}, Relationship: "Uncle"}},
	}
	require.NoError(t, s.Create(context.Background(), b))
	assert.Equal(t, int64(12), b.ID)
	assert.Equal(t, int64(40), b.Siblings[0].ID)
	assert.Equal(t, int64(41), b.Relatives[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_NotFound(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectQuery(`SELECT id, offline_id`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(append([]string{"id"}, insertColumns...)))

	_, err := s.FindByID(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetMarkedAsDuplicate_Missing(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectExec(`UPDATE beneficiaries SET marked_as_duplicate`).
		WithArgs(int64(3), true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetMarkedAsDuplicate(context.Background(), 3, true)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_EscapesSearch(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM beneficiaries WHERE`).
		WithArgs(`%50\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`ORDER BY created_at DESC, id DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(`%50\%%`, 20, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "last_name", "middle_name", "municipality", "barangay", "civil_status", "created_at"}))

	out, total, err := s.List(context.Background(), "50%", 2, 20)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReassignMembers(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectExec(`UPDATE beneficiary_siblings SET beneficiary_id`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE beneficiary_children SET beneficiary_id`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE beneficiary_relatives SET beneficiary_id`).WillReturnResult(sqlmock.NewResult(0, 0))

	counts, err := s.ReassignMembers(context.Background(), []int64{2, 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, models.MemberCounts{Siblings: 2, Children: 1}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByIDs_SortsReturnedIDs(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectQuery(`DELETE FROM beneficiaries WHERE id = ANY`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9).AddRow(4))

	deleted, err := s.DeleteByIDs(context.Background(), []int64{4, 9, 11})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, `%dela%`, likePattern("dela"))
	assert.Equal(t, `%a\_b\\c%`, likePattern(`a_b\c`))
}
