package cache

import (
	"net/http"
	"testing"
	"time"
)

func TestParseExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		header http.Header
		want   time.Time
	}{
		{
			name:   "no caching headers uses fallback",
			header: http.Header{},
			want:   now.Add(10 * time.Minute),
		},
		{
			name:   "max-age wins over expires",
			header: http.Header{"Cache-Control": {"public, max-age=60"}, "Expires": {now.Add(time.Hour).Format(http.TimeFormat)}},
			want:   now.Add(60 * time.Second),
		},
		{
			name:   "no-cache is immediately stale",
			header: http.Header{"Cache-Control": {"no-cache"}},
			want:   now,
		},
		{
			name:   "expires header",
			header: http.Header{"Expires": {now.Add(2 * time.Hour).Format(http.TimeFormat)}},
			want:   now.Add(2 * time.Hour),
		},
		{
			name:   "expires in the past",
			header: http.Header{"Expires": {now.Add(-time.Hour).Format(http.TimeFormat)}},
			want:   now,
		},
		{
			name:   "malformed expires uses fallback",
			header: http.Header{"Expires": {"not a date"}},
			want:   now.Add(10 * time.Minute),
		},
		{
			name:   "malformed max-age falls through",
			header: http.Header{"Cache-Control": {"max-age=abc"}},
			want:   now.Add(10 * time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseExpires(tt.header, now, 10*time.Minute)
			if !got.Equal(tt.want) {
				t.Errorf("parseExpires() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEntry(t *testing.T) {
	lastMod := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	header := http.Header{
		"Etag":          {`"layer-v3"`},
		"Last-Modified": {lastMod.Format(http.TimeFormat)},
		"Cache-Control": {"max-age=120"},
	}

	entry := NewEntry(http.StatusOK, header, []byte(`{"name":"Roads"}`), DefaultTTL)

	if entry.ETag != `"layer-v3"` {
		t.Errorf("ETag = %q", entry.ETag)
	}
	if !entry.LastModified.Equal(lastMod) {
		t.Errorf("LastModified = %v, want %v", entry.LastModified, lastMod)
	}
	if ttl := entry.TTL(); ttl < 110*time.Second || ttl > 120*time.Second {
		t.Errorf("TTL() = %v, want about 120s", ttl)
	}
	if string(entry.Data) != `{"name":"Roads"}` {
		t.Errorf("Data = %s", entry.Data)
	}
}

func TestAddConditionalHeaders(t *testing.T) {
	lastMod := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		entry        *Entry
		wantINM      string
		wantModSince string
	}{
		{name: "etag preferred", entry: &Entry{ETag: `"v1"`, LastModified: lastMod}, wantINM: `"v1"`},
		{name: "last modified only", entry: &Entry{LastModified: lastMod}, wantModSince: lastMod.Format(http.TimeFormat)},
		{name: "no validators", entry: &Entry{}},
		{name: "nil entry", entry: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "https://example.com/arcgis/rest/services/Roads/FeatureServer/0?f=json", nil)
			AddConditionalHeaders(req, tt.entry)

			if got := req.Header.Get("If-None-Match"); got != tt.wantINM {
				t.Errorf("If-None-Match = %q, want %q", got, tt.wantINM)
			}
			if got := req.Header.Get("If-Modified-Since"); got != tt.wantModSince {
				t.Errorf("If-Modified-Since = %q, want %q", got, tt.wantModSince)
			}
		})
	}

	// Must not panic.
	AddConditionalHeaders(nil, &Entry{ETag: "x"})
}

func TestRefresh(t *testing.T) {
	entry := &Entry{ETag: `"v1"`, Expires: time.Now().Add(-time.Minute)}
	Refresh(entry, http.Header{"Cache-Control": {"max-age=300"}, "Etag": {`"v2"`}}, DefaultTTL)

	if entry.IsExpired() {
		t.Error("entry should be fresh after Refresh")
	}
	if entry.ETag != `"v2"` {
		t.Errorf("ETag = %q, want updated validator", entry.ETag)
	}
}
