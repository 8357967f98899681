// Package matcher decides whether two near-identical names denote the same person.
//
// Only first names are compared. Callers bucket candidates by last and middle name
// first, and exact matches (distance 0) belong to exact grouping, so they never
// count as fuzzy matches here.
package matcher

import (
	"github.com/agnivade/levenshtein"

	"relief/internal/beneficiary/models"
	pstrings "relief/pkg/platform/strings"
)

const (
	// StrictThreshold is the largest accepted distance without a birth-date match.
	StrictThreshold = 2
	// RelaxedThreshold applies when both birth dates are present and equal.
	RelaxedThreshold = 3
)

// Candidate is the part of a record the matcher looks at.
type Candidate struct {
	FirstName  string
	LastName   string
	MiddleName string
	BirthDate  models.Date
}

// FromRecord projects b onto a Candidate.
func FromRecord(b *models.Beneficiary) Candidate {
	return Candidate{FirstName: b.FirstName, LastName: b.LastName, MiddleName: b.MiddleName, BirthDate: b.BirthDate}
}

// Normalize folds a name for comparison.
func Normalize(name string) string {
	return pstrings.Fold(name)
}

// Threshold returns the distance limit for the pair.
func Threshold(a, b Candidate) int {
	if !a.BirthDate.IsZero() && a.BirthDate == b.BirthDate {
		return RelaxedThreshold
	}
	return StrictThreshold
}

// Match reports whether a and b are fuzzy duplicates.
func Match(a, b Candidate) bool {
	d := Distance(Normalize(a.FirstName), Normalize(b.FirstName))
	return d > 0 && d <= Threshold(a, b)
}

// Distance is the Levenshtein distance between a and b counted in runes.
func Distance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}
