// Package models holds the beneficiary record and its intake request.
package models

import (
	"strconv"
	"strings"
	"time"
)

const (
	SexMale   = "Male"
	SexFemale = "Female"

	DamageTotally   = "Totally Damaged (Severely)"
	DamagePartially = "Partially Damaged (Slightly)"

	PovertyPoor     = "Poor"
	PovertyNearPoor = "Near Poor"
	PovertyNotPoor  = "Not Poor"
)

var (
	Sexes                 = []string{SexMale, SexFemale}
	DamageClassifications = []string{DamageTotally, DamagePartially}
	PovertyClassification = []string{PovertyPoor, PovertyNearPoor, PovertyNotPoor}
	CivilStatuses         = []string{"Single", "Married", "Common Law", "Widowed", "Separated", "Annulled"}
)

// Beneficiary is one household head registered after a disaster.
type Beneficiary struct {
	ID        int64  `json:"id"`
	OfflineID string `json:"offline_id,omitempty"`
	Timestamp Date   `json:"timestamp"`

	Province     string `json:"province"`
	Municipality string `json:"municipality"`
	Barangay     string `json:"barangay"`
	Purok        string `json:"purok"`

	LastName      string `json:"last_name"`
	FirstName     string `json:"first_name"`
	MiddleName    string `json:"middle_name"`
	ExtensionName string `json:"extension_name"`
	Sex           string `json:"sex"`
	BirthDate     Date   `json:"birth_date"`

	DamageClassification  string   `json:"classify_extent_of_damaged_house"`
	PovertyClassification string   `json:"nhts_pr_classification"`
	Sectors               []string `json:"applicable_sector"`
	CivilStatus           string   `json:"civil_status"`

	LivingWithFather bool        `json:"living_with_father"`
	Father           Counterpart `json:"father"`
	LivingWithMother bool        `json:"living_with_mother"`
	Mother           Counterpart `json:"mother"`
	LivingWithSpouse bool        `json:"living_with_spouse"`
	Spouse           Counterpart `json:"spouse"`

	LivingWithSiblings  bool       `json:"living_with_siblings"`
	Siblings            []Person   `json:"siblings"`
	LivingWithChildren  bool       `json:"living_with_children"`
	Children            []Person   `json:"children"`
	LivingWithRelatives bool       `json:"living_with_relatives"`
	Relatives           []Relative `json:"relatives"`

	MarkedAsDuplicate bool      `json:"marked_as_duplicate"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Counterpart is a parent or spouse named on the record.
type Counterpart struct {
	LastName      string `json:"last_name"`
	FirstName     string `json:"first_name"`
	MiddleName    string `json:"middle_name"`
	ExtensionName string `json:"extension_name,omitempty"`
	BirthDate     Date   `json:"birth_date"`
}

// FullName renders "last, first middle" trimmed of outer whitespace.
func (c Counterpart) FullName() string {
	return strings.TrimSpace(c.LastName + ", " + c.FirstName + " " + c.MiddleName)
}

// Person is a sibling or child row owned by a beneficiary.
type Person struct {
	ID         int64  `json:"id,omitempty"`
	LastName   string `json:"last_name"`
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name"`
	BirthDate  Date   `json:"birth_date"`
}

// Relative is a Person with the stated relationship.
type Relative struct {
	Person
	Relationship string `json:"relationship"`
}

// Identity is the exact-duplicate key: same first name, last name and birth date.
type Identity struct {
	FirstName string
	LastName  string
	BirthDate Date
}

// CompareIdentity orders identities by last name, first name, then birth date.
// Absent birth dates sort last, as NULLs do in Postgres.
func CompareIdentity(a, b Identity) int {
	if c := strings.Compare(a.LastName, b.LastName); c != 0 {
		return c
	}
	if c := strings.Compare(a.FirstName, b.FirstName); c != 0 {
		return c
	}
	switch {
	case a.BirthDate == b.BirthDate:
		return 0
	case a.BirthDate.IsZero():
		return 1
	case b.BirthDate.IsZero():
		return -1
	}
	return a.BirthDate.Time().Compare(b.BirthDate.Time())
}

func (b *Beneficiary) Identity() Identity {
	return Identity{FirstName: b.FirstName, LastName: b.LastName, BirthDate: b.BirthDate}
}

// Subject names the record in audit events.
func (b *Beneficiary) Subject() string {
	return Subject(b.ID)
}

func Subject(id int64) string {
	return "beneficiary:" + strconv.FormatInt(id, 10)
}

// Summary is the projection used by the listing view.
type Summary struct {
	ID           int64     `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	MiddleName   string    `json:"middle_name"`
	Municipality string    `json:"municipality"`
	Barangay     string    `json:"barangay"`
	CivilStatus  string    `json:"civil_status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Page is one page of a listing.
type Page[T any] struct {
	Data        []T `json:"data"`
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

// MaxPage bounds a requested page number so that offsets cannot overflow.
const MaxPage = 1_000_000

// ClampPage maps page into [1, MaxPage].
func ClampPage(page int) int {
	return min(max(page, 1), MaxPage)
}

// LastPageFor returns ceil(total/perPage), at least 1.
func LastPageFor(total, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}

// MemberCounts counts sibling, child and relative rows.
type MemberCounts struct {
	Siblings  int `json:"siblings"`
	Children  int `json:"children"`
	Relatives int `json:"relatives"`
}

func (c MemberCounts) Add(o MemberCounts) MemberCounts {
	return MemberCounts{Siblings: c.Siblings + o.Siblings, Children: c.Children + o.Children, Relatives: c.Relatives + o.Relatives}
}

// Counts reports how many member rows the record owns.
func (b *Beneficiary) Counts() MemberCounts {
	return MemberCounts{Siblings: len(b.Siblings), Children: len(b.Children), Relatives: len(b.Relatives)}
}

// ExportFilter selects records for the masterlist and clean-list exports.
type ExportFilter struct {
	// Search matches first, last or middle name, case-insensitively.
	Search       string
	Municipality string
	// ExcludeMarked drops records flagged as duplicates.
	ExcludeMarked bool
}
