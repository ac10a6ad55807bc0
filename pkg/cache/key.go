package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix prefixes all metadata cache keys in Redis.
const KeyPrefix = "arcgis:meta"

// Key identifies a cached metadata response.
type Key struct {
	// URL is the service or layer URL without query string.
	URL string

	// Params are the request parameters (e.g. f=json).
	Params url.Values
}

// String generates a deterministic key.
// Format: arcgis:meta:host/path:param1=val1:param2=val2
//
// Example:
//
//	arcgis:meta:services.example.com/arcgis/rest/services/Roads/FeatureServer/0:f=json
func (k Key) String() string {
	parts := []string{KeyPrefix}

	target := k.URL
	if u, err := url.Parse(k.URL); err == nil && u.Host != "" {
		target = strings.ToLower(u.Host) + u.Path
	}
	target = strings.Trim(target, "/")
	if target != "" {
		parts = append(parts, target)
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, name+"="+strings.Join(k.Params[name], ","))
		}
	}

	return strings.Join(parts, ":")
}
