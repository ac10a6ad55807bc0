// Package cache stores ArcGIS service and layer metadata responses in Redis.
//
// Only metadata documents (`?f=json` on a service or layer URL) are cached.
// Query responses are never cached: a run must observe the live layer.
//
// Freshness comes from Cache-Control max-age, then Expires, then the
// manager's default TTL. Entries that carry an ETag or Last-Modified are
// kept past expiry so the client can revalidate them with a conditional
// request and serve the stored body on 304 Not Modified.
package cache

import (
	"net/http"
	"time"
)

// Entry is a cached metadata response.
type Entry struct {
	// Data is the response body.
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match).
	ETag string `json:"etag,omitempty"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// LastModified from the Last-Modified header.
	LastModified time.Time `json:"last_modified,omitempty"`

	// StatusCode of the cached response.
	StatusCode int `json:"status_code"`

	// Headers of the cached response.
	Headers http.Header `json:"headers"`

	// CachedAt is when the entry was written.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry is stale.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// CanRevalidate reports whether a conditional request can be made for the entry.
func (e *Entry) CanRevalidate() bool {
	return e != nil && (e.ETag != "" || !e.LastModified.IsZero())
}
