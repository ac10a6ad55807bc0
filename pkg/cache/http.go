package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the fallback freshness when a response carries no caching headers.
const DefaultTTL = 5 * time.Minute

// NewEntry builds an entry from a response that has already been read.
// fallback is used when neither Cache-Control nor Expires is usable.
func NewEntry(statusCode int, header http.Header, body []byte, fallback time.Duration) *Entry {
	now := time.Now()

	entry := &Entry{
		Data:       body,
		ETag:       header.Get("ETag"),
		StatusCode: statusCode,
		Headers:    header.Clone(),
		CachedAt:   now,
		Expires:    parseExpires(header, now, fallback),
	}

	if lastModStr := header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry
}

// parseExpires resolves freshness from Cache-Control, then Expires, then fallback.
// no-store and no-cache make the entry immediately stale.
func parseExpires(header http.Header, now time.Time, fallback time.Duration) time.Time {
	if cc := header.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.ToLower(strings.TrimSpace(directive))
			switch {
			case directive == "no-store", directive == "no-cache":
				return now
			case strings.HasPrefix(directive, "max-age="):
				secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
				if err == nil && secs >= 0 {
					return now.Add(time.Duration(secs) * time.Second)
				}
			}
		}
	}

	if expiresStr := header.Get("Expires"); expiresStr != "" {
		expires, err := http.ParseTime(expiresStr)
		if err != nil {
			return now.Add(fallback)
		}
		if expires.Before(now) {
			return now
		}
		return expires
	}

	return now.Add(fallback)
}

// AddConditionalHeaders adds If-None-Match or If-Modified-Since to req.
// ETag wins when both validators are present.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil {
		return
	}

	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.Format(http.TimeFormat))
	}
}

// Refresh extends a revalidated entry using the headers of a 304 response.
func Refresh(entry *Entry, header http.Header, fallback time.Duration) {
	entry.Expires = parseExpires(header, time.Now(), fallback)
	if etag := header.Get("ETag"); etag != "" {
		entry.ETag = etag
	}
}
