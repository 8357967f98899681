package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally wrapped)
// and services translate them into domain errors:
//   - ErrNotFound: row or cache entry does not exist
//   - ErrConflict: a uniqueness constraint rejected the write
//   - ErrAlreadyUsed: an idempotency key (offline id) was already accepted
//   - ErrUnavailable: backing store or upstream temporarily unreachable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrAlreadyUsed = errors.New("already used")
	ErrUnavailable = errors.New("unavailable")
)
