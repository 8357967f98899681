// Package grouping partitions beneficiaries into duplicate groups. Groups are
// derived views: they are rebuilt on every request and never stored.
package grouping

import (
	"slices"

	"relief/internal/beneficiary/models"
	"relief/internal/dedup/matcher"
	pstrings "relief/pkg/platform/strings"
)

// PerPage is the page size of both duplicate views.
const PerPage = 10

// Group is one duplicate cluster with a human-readable key.
type Group struct {
	Key     string                `json:"key"`
	Records []*models.Beneficiary `json:"records"`
}

// IDs returns the member ids in group order.
func (g Group) IDs() []int64 {
	ids := make([]int64, len(g.Records))
	for i, r := range g.Records {
		ids[i] = r.ID
	}
	return ids
}

// ExactLabel renders "<last>, <first> - <birth date>".
func ExactLabel(id models.Identity) string {
	return id.LastName + ", " + id.FirstName + " - " + id.BirthDate.String()
}

// FuzzyLabel renders "<Last>, <Middle> - <municipality>" from the bucket key; the
// middle part is left out when empty.
func FuzzyLabel(lastKey, middleKey, municipality string) string {
	label := pstrings.UpperFirst(lastKey)
	if middleKey != "" {
		label += ", " + pstrings.UpperFirst(middleKey)
	}
	return label + " - " + municipality
}

func byCreation(a, b *models.Beneficiary) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Exact groups records sharing first name, last name and birth date. Groups are
// ordered by identity; members by creation time, then id.
func Exact(records []*models.Beneficiary) []Group {
	buckets := make(map[models.Identity][]*models.Beneficiary)
	for _, r := range records {
		id := r.Identity()
		buckets[id] = append(buckets[id], r)
	}

	keys := make([]models.Identity, 0, len(buckets))
	for id, members := range buckets {
		if len(members) >= 2 {
			keys = append(keys, id)
		}
	}
	slices.SortFunc(keys, models.CompareIdentity)

	groups := make([]Group, 0, len(keys))
	for _, id := range keys {
		members := slices.Clone(buckets[id])
		slices.SortStableFunc(members, byCreation)
		groups = append(groups, Group{Key: ExactLabel(id), Records: members})
	}
	return groups
}

type bucketKey struct {
	last, middle string
}

// Fuzzy groups one municipality's records whose first names nearly match. Records
// are bucketed by normalised last and middle name in input order; inside a bucket
// every pair is compared and each record appearing in a matching pair joins the
// group in first-match order. The union is not a transitive closure. An empty
// municipality yields nil without comparing anything.
func Fuzzy(records []*models.Beneficiary, municipality string) []Group {
	if municipality == "" {
		return nil
	}

	var order []bucketKey
	buckets := make(map[bucketKey][]*models.Beneficiary)
	for _, r := range records {
		k := bucketKey{last: matcher.Normalize(r.LastName), middle: matcher.Normalize(r.MiddleName)}
		if _, ok := buckets[k]; !ok {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], r)
	}

	var groups []Group
	for _, k := range order {
		members := buckets[k]
		if len(members) < 2 {
			continue
		}
		if matched := matchPairs(members); len(matched) > 0 {
			groups = append(groups, Group{Key: FuzzyLabel(k.last, k.middle, municipality), Records: matched})
		}
	}
	return groups
}

func matchPairs(members []*models.Beneficiary) []*models.Beneficiary {
	candidates := make([]matcher.Candidate, len(members))
	for i, m := range members {
		candidates[i] = matcher.FromRecord(m)
	}

	seen := make(map[int]bool)
	var matched []*models.Beneficiary
	add := func(i int) {
		if !seen[i] {
			seen[i] = true
			matched = append(matched, members[i])
		}
	}
	for i := range members {
		for j := i + 1; j < len(members); j++ {
			if matcher.Match(candidates[i], candidates[j]) {
				add(i)
				add(j)
			}
		}
	}
	return matched
}

// Pagination describes one page of groups.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

// Paginate returns the requested page of items. A page below 1 is treated as 1,
// a page past the end is empty and LastPage is at least 1.
func Paginate[T any](items []T, page, perPage int) ([]T, Pagination) {
	page = models.ClampPage(page)
	if perPage < 1 {
		perPage = PerPage
	}
	p := Pagination{
		CurrentPage: page,
		LastPage:    models.LastPageFor(len(items), perPage),
		PerPage:     perPage,
		Total:       len(items),
	}
	if page > p.LastPage {
		return []T{}, p
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return []T{}, p
	}
	end := min(start+perPage, len(items))
	return items[start:end], p
}
