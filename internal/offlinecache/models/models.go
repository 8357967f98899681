package models

import "time"

// Versioned cache names. Bumping a version makes Activate purge the old cache.
const (
	PagesCache  = "relief-pages-v1"
	StaticCache = "relief-static-v1"
	FontsCache  = "relief-fonts-v1"
)

// KnownCaches is the set Activate keeps.
var KnownCaches = []string{PagesCache, StaticCache, FontsCache}

// ShellKey is the reserved pages-cache key holding the app shell snapshot.
const ShellKey = "relief:app-shell"

// Kind tells a full HTML page from a data-only payload stored under the same URL.
type Kind string

const (
	KindPage  Kind = "page"
	KindData  Kind = "data"
	KindAsset Kind = "asset"
)

// CachedResponse is one stored response. Keyed by (Cache, URL); headers other than
// the content type are not kept.
type CachedResponse struct {
	Cache       string    `json:"cache"`
	URL         string    `json:"url"`
	Status      int       `json:"status"`
	ContentType string    `json:"content_type"`
	Kind        Kind      `json:"kind"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"stored_at"`
}
