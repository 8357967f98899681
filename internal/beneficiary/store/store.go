// Package store persists beneficiaries. PostgresStore is the authoritative store;
// InMemoryStore backs unit tests and local development.
package store

import (
	"strings"

	"relief/pkg/platform/sentinel"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = sentinel.ErrNotFound
	// ErrOfflineIDTaken is returned when an offline id was already stored.
	ErrOfflineIDTaken = sentinel.ErrAlreadyUsed
)

// likePattern escapes LIKE metacharacters and wraps s for substring matching.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
