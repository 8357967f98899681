package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"relief/internal/beneficiary/models"
	"relief/pkg/platform/tx"
)

const uniqueViolation = "23505"

// insertColumns lists every persisted beneficiary column except id, in scan order.
var insertColumns = []string{
	"offline_id", `"timestamp"`,
	"province", "municipality", "barangay", "purok",
	"last_name", "first_name", "middle_name", "extension_name", "sex", "birth_date",
	"classify_extent_of_damaged_house", "nhts_pr_classification", "applicable_sector", "civil_status",
	"living_with_father", "father_last_name", "father_first_name", "father_middle_name", "father_extension_name", "father_birth_date",
	"living_with_mother", "mother_last_name", "mother_first_name", "mother_middle_name", "mother_birth_date",
	"living_with_spouse", "spouse_last_name", "spouse_first_name", "spouse_middle_name", "spouse_extension_name", "spouse_birth_date",
	"living_with_siblings", "living_with_children", "living_with_relatives",
	"marked_as_duplicate", "created_at", "updated_at",
}

var selectColumns = "id, " + strings.Join(insertColumns, ", ")

// PostgresStore persists beneficiaries and their member rows in PostgreSQL.
// Every method joins the transaction bound to ctx, if any.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBeneficiary(row rowScanner) (*models.Beneficiary, error) {
	var (
		b         models.Beneficiary
		offlineID sql.NullString
	)
	err := row.Scan(
		&b.ID, &offlineID, &b.Timestamp,
		&b.Province, &b.Municipality, &b.Barangay, &b.Purok,
		&b.LastName, &b.FirstName, &b.MiddleName, &b.ExtensionName, &b.Sex, &b.BirthDate,
		&b.DamageClassification, &b.PovertyClassification, pq.Array(&b.Sectors), &b.CivilStatus,
		&b.LivingWithFather, &b.Father.LastName, &b.Father.FirstName, &b.Father.MiddleName, &b.Father.ExtensionName, &b.Father.BirthDate,
		&b.LivingWithMother, &b.Mother.LastName, &b.Mother.FirstName, &b.Mother.MiddleName, &b.Mother.BirthDate,
		&b.LivingWithSpouse, &b.Spouse.LastName, &b.Spouse.FirstName, &b.Spouse.MiddleName, &b.Spouse.ExtensionName, &b.Spouse.BirthDate,
		&b.LivingWithSiblings, &b.LivingWithChildren, &b.LivingWithRelatives,
		&b.MarkedAsDuplicate, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.OfflineID = offlineID.String
	if b.Sectors == nil {
		b.Sectors = []string{}
	}
	return &b, nil
}

func insertArgs(b *models.Beneficiary) []any {
	return []any{
		sql.NullString{String: b.OfflineID, Valid: b.OfflineID != ""}, b.Timestamp,
		b.Province, b.Municipality, b.Barangay, b.Purok,
		b.LastName, b.FirstName, b.MiddleName, b.ExtensionName, b.Sex, b.BirthDate,
		b.DamageClassification, b.PovertyClassification, pq.Array(b.Sectors), b.CivilStatus,
		b.LivingWithFather, b.Father.LastName, b.Father.FirstName, b.Father.MiddleName, b.Father.ExtensionName, b.Father.BirthDate,
		b.LivingWithMother, b.Mother.LastName, b.Mother.FirstName, b.Mother.MiddleName, b.Mother.BirthDate,
		b.LivingWithSpouse, b.Spouse.LastName, b.Spouse.FirstName, b.Spouse.MiddleName, b.Spouse.ExtensionName, b.Spouse.BirthDate,
		b.LivingWithSiblings, b.LivingWithChildren, b.LivingWithRelatives,
		b.MarkedAsDuplicate, b.CreatedAt, b.UpdatedAt,
	}
}

func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(from+i)
	}
	return strings.Join(parts, ", ")
}

var insertBeneficiarySQL = fmt.Sprintf(
	"INSERT INTO beneficiaries (%s) VALUES (%s) RETURNING id",
	strings.Join(insertColumns, ", "), placeholders(1, len(insertColumns)),
)

// Create inserts b and its member rows and sets the generated ids. Callers that need
// atomicity run it inside a transaction.
func (s *PostgresStore) Create(ctx context.Context, b *models.Beneficiary) error {
	q := tx.Exec(ctx, s.db)
	if err := q.QueryRowContext(ctx, insertBeneficiarySQL, insertArgs(b)...).Scan(&b.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrOfflineIDTaken
		}
		return fmt.Errorf("insert beneficiary: %w", err)
	}

	for i := range b.Siblings {
		if err := s.insertPerson(ctx, q, "beneficiary_siblings", b.ID, &b.Siblings[i]); err != nil {
			return err
		}
	}
	for i := range b.Children {
		if err := s.insertPerson(ctx, q, "beneficiary_children", b.ID, &b.Children[i]); err != nil {
			return err
		}
	}
	for i := range b.Relatives {
		r := &b.Relatives[i]
		err := q.QueryRowContext(ctx,
			`INSERT INTO beneficiary_relatives (beneficiary_id, last_name, first_name, middle_name, birth_date, relationship)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			b.ID, r.LastName, r.FirstName, r.MiddleName, r.BirthDate, r.Relationship,
		).Scan(&r.ID)
		if err != nil {
			return fmt.Errorf("insert relative: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) insertPerson(ctx context.Context, q tx.Executor, table string, ownerID int64, p *models.Person) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO `+table+` (beneficiary_id, last_name, first_name, middle_name, birth_date)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		ownerID, p.LastName, p.FirstName, p.MiddleName, p.BirthDate,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// ExistsByIdentity reports whether a record with the same first name, last name and
// birth date exists. Comparison is exact.
func (s *PostgresStore) ExistsByIdentity(ctx context.Context, id models.Identity) (bool, error) {
	var exists bool
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM beneficiaries
		 WHERE first_name = $1 AND last_name = $2 AND birth_date IS NOT DISTINCT FROM $3::date)`,
		id.FirstName, id.LastName, id.BirthDate,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check identity: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ExistsByOfflineID(ctx context.Context, offlineID string) (bool, error) {
	var exists bool
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM beneficiaries WHERE offline_id = $1)`, offlineID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check offline id: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*models.Beneficiary, error) {
	q := tx.Exec(ctx, s.db)
	b, err := scanBeneficiary(q.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM beneficiaries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find beneficiary: %w", err)
	}
	if err := s.attachMembers(ctx, q, []*models.Beneficiary{b}); err != nil {
		return nil, err
	}
	return b, nil
}

// Exists reports whether id is present, locking the row when inside a transaction.
func (s *PostgresStore) Exists(ctx context.Context, id int64) (bool, error) {
	query := `SELECT id FROM beneficiaries WHERE id = $1`
	if _, inTx := tx.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	var found int64
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx, query, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check beneficiary: %w", err)
	}
	return true, nil
}

func searchClause(argPos int, columns ...string) string {
	conds := make([]string, len(columns))
	for i, c := range columns {
		conds[i] = fmt.Sprintf("%s ILIKE $%d", c, argPos)
	}
	return "(" + strings.Join(conds, " OR ") + ")"
}

// List returns one page of summaries, newest first.
func (s *PostgresStore) List(ctx context.Context, search string, page, perPage int) ([]models.Summary, int, error) {
	q := tx.Exec(ctx, s.db)
	where, args := "", []any{}
	if search != "" {
		where = " WHERE " + searchClause(1, "last_name", "first_name", "middle_name")
		args = append(args, likePattern(search))
	}

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM beneficiaries`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count beneficiaries: %w", err)
	}

	n := len(args)
	args = append(args, perPage, (models.ClampPage(page)-1)*perPage)
	rows, err := q.QueryContext(ctx,
		`SELECT id, first_name, last_name, middle_name, municipality, barangay, civil_status, created_at
		 FROM beneficiaries`+where+fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list beneficiaries: %w", err)
	}
	defer rows.Close()

	out := []models.Summary{}
	for rows.Next() {
		var sm models.Summary
		if err := rows.Scan(&sm.ID, &sm.FirstName, &sm.LastName, &sm.MiddleName, &sm.Municipality, &sm.Barangay, &sm.CivilStatus, &sm.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, sm)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) SetMarkedAsDuplicate(ctx context.Context, id int64, marked bool) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx,
		`UPDATE beneficiaries SET marked_as_duplicate = $2, updated_at = NOW() WHERE id = $1`, id, marked)
	if err != nil {
		return fmt.Errorf("mark beneficiary: %w", err)
	}
	return requireAffected(res)
}

// Delete removes the record; member rows go with it.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `DELETE FROM beneficiaries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete beneficiary: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DuplicateIdentities lists every (first, last, birth date) key shared by at least
// two records, ordered by last name, first name, birth date.
func (s *PostgresStore) DuplicateIdentities(ctx context.Context, search string) ([]models.Identity, error) {
	where, args := "", []any{}
	if search != "" {
		where = " WHERE " + searchClause(1, "last_name", "first_name", "middle_name")
		args = append(args, likePattern(search))
	}
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT first_name, last_name, birth_date FROM beneficiaries`+where+`
		 GROUP BY first_name, last_name, birth_date
		 HAVING COUNT(*) > 1
		 ORDER BY last_name, first_name, birth_date`, args...)
	if err != nil {
		return nil, fmt.Errorf("list duplicate identities: %w", err)
	}
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		var id models.Identity
		if err := rows.Scan(&id.FirstName, &id.LastName, &id.BirthDate); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// FindByIdentities loads every record matching any of ids, with members, ordered by
// creation time then id.
func (s *PostgresStore) FindByIdentities(ctx context.Context, ids []models.Identity) ([]*models.Beneficiary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	conds := make([]string, len(ids))
	args := make([]any, 0, len(ids)*3)
	for i, id := range ids {
		p := i*3 + 1
		conds[i] = fmt.Sprintf("(first_name = $%d AND last_name = $%d AND birth_date IS NOT DISTINCT FROM $%d::date)", p, p+1, p+2)
		args = append(args, id.FirstName, id.LastName, id.BirthDate)
	}
	return s.query(ctx, true,
		`SELECT `+selectColumns+` FROM beneficiaries WHERE `+strings.Join(conds, " OR ")+` ORDER BY created_at, id`,
		args...)
}

// FindByMunicipality loads the municipality's records in id order, without members.
func (s *PostgresStore) FindByMunicipality(ctx context.Context, municipality string) ([]*models.Beneficiary, error) {
	return s.query(ctx, false,
		`SELECT `+selectColumns+` FROM beneficiaries WHERE municipality = $1 ORDER BY id`, municipality)
}

// Export loads the filtered records with members, newest first.
func (s *PostgresStore) Export(ctx context.Context, f models.ExportFilter) ([]*models.Beneficiary, error) {
	var (
		conds []string
		args  []any
	)
	if f.Search != "" {
		args = append(args, likePattern(f.Search))
		conds = append(conds, searchClause(len(args), "last_name", "first_name", "middle_name"))
	}
	if f.Municipality != "" {
		args = append(args, f.Municipality)
		conds = append(conds, fmt.Sprintf("municipality = $%d", len(args)))
	}
	if f.ExcludeMarked {
		conds = append(conds, "marked_as_duplicate = FALSE")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return s.query(ctx, true,
		`SELECT `+selectColumns+` FROM beneficiaries`+where+` ORDER BY created_at DESC, id DESC`, args...)
}

// ReassignMembers moves sibling, child and relative rows owned by any of from to to.
func (s *PostgresStore) ReassignMembers(ctx context.Context, from []int64, to int64) (models.MemberCounts, error) {
	q := tx.Exec(ctx, s.db)
	var counts models.MemberCounts
	for _, target := range []struct {
		table string
		n     *int
	}{
		{"beneficiary_siblings", &counts.Siblings},
		{"beneficiary_children", &counts.Children},
		{"beneficiary_relatives", &counts.Relatives},
	} {
		res, err := q.ExecContext(ctx,
			`UPDATE `+target.table+` SET beneficiary_id = $1 WHERE beneficiary_id = ANY($2)`,
			to, pq.Array(from))
		if err != nil {
			return models.MemberCounts{}, fmt.Errorf("reassign %s: %w", target.table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return models.MemberCounts{}, fmt.Errorf("reassign %s: %w", target.table, err)
		}
		*target.n = int(n)
	}
	return counts, nil
}

// DeleteByIDs removes the records that still exist and returns their ids in
// ascending order. Missing ids are skipped.
func (s *PostgresStore) DeleteByIDs(ctx context.Context, ids []int64) ([]int64, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx,
		`DELETE FROM beneficiaries WHERE id = ANY($1) RETURNING id`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("delete beneficiaries: %w", err)
	}
	defer rows.Close()

	deleted := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted id: %w", err)
		}
		deleted = append(deleted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Sort(deleted)
	return deleted, nil
}

func (s *PostgresStore) query(ctx context.Context, withMembers bool, query string, args ...any) ([]*models.Beneficiary, error) {
	q := tx.Exec(ctx, s.db)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query beneficiaries: %w", err)
	}
	var out []*models.Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan beneficiary: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if withMembers {
		if err := s.attachMembers(ctx, q, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// attachMembers loads member rows for records in three queries.
func (s *PostgresStore) attachMembers(ctx context.Context, q tx.Executor, records []*models.Beneficiary) error {
	if len(records) == 0 {
		return nil
	}
	byID := make(map[int64]*models.Beneficiary, len(records))
	ids := make([]int64, 0, len(records))
	for _, b := range records {
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}

	for _, table := range []string{"beneficiary_siblings", "beneficiary_children"} {
		rows, err := q.QueryContext(ctx,
			`SELECT id, beneficiary_id, last_name, first_name, middle_name, birth_date FROM `+table+`
			 WHERE beneficiary_id = ANY($1) ORDER BY id`, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("load %s: %w", table, err)
		}
		for rows.Next() {
			var (
				p     models.Person
				owner int64
			)
			if err := rows.Scan(&p.ID, &owner, &p.LastName, &p.FirstName, &p.MiddleName, &p.BirthDate); err != nil {
				rows.Close()
				return fmt.Errorf("scan %s: %w", table, err)
			}
			if b := byID[owner]; b != nil {
				if table == "beneficiary_siblings" {
					b.Siblings = append(b.Siblings, p)
				} else {
					b.Children = append(b.Children, p)
				}
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, beneficiary_id, last_name, first_name, middle_name, birth_date, relationship FROM beneficiary_relatives
		 WHERE beneficiary_id = ANY($1) ORDER BY id`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load beneficiary_relatives: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r     models.Relative
			owner int64
		)
		if err := rows.Scan(&r.ID, &owner, &r.LastName, &r.FirstName, &r.MiddleName, &r.BirthDate, &r.Relationship); err != nil {
			return fmt.Errorf("scan beneficiary_relatives: %w", err)
		}
		if b := byID[owner]; b != nil {
			b.Relatives = append(b.Relatives, r)
		}
	}
	return rows.Err()
}
