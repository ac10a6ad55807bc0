// Package testutil provides a scriptable ArcGIS REST server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ServicePath is where the mock FeatureServer lives.
const ServicePath = "/arcgis/rest/services/Test/FeatureServer"

// RequestKind classifies requests received by the mock.
type RequestKind string

const (
	KindServiceInfo RequestKind = "service_info"
	KindLayerInfo   RequestKind = "layer_info"
	KindIDs         RequestKind = "ids"
	KindCount       RequestKind = "count"
	KindBatch       RequestKind = "batch"
	KindPage        RequestKind = "page"
	KindQuery       RequestKind = "query"
	KindUnknown     RequestKind = "unknown"
)

// MockResponse is a canned reply returned by an Interceptor.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Interceptor may replace the mock's reply. Returning nil lets the request through.
type Interceptor func(r *http.Request, kind RequestKind) *MockResponse

// PageScript fixes the size and flag of one offset page.
type PageScript struct {
	Count    int
	Exceeded bool
}

// LayerConfig describes one simulated layer.
type LayerConfig struct {
	Name                    string
	ObjectIDs               []int64
	ObjectIDField           string
	MaxRecordCount          int
	SupportsAdvancedQueries bool
	DisableIDOnlyQuery      bool
	NullObjectIDs           bool
	Capabilities            string
	WKID                    int
	// Pages, when set, replaces computed offset pages in request order.
	Pages []PageScript
}

// SequentialIDs returns 1..n.
func SequentialIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

// MockArcGIS is a configurable ArcGIS FeatureServer.
type MockArcGIS struct {
	server *httptest.Server

	mu          sync.Mutex
	layers      map[int]*LayerConfig
	pageCursor  map[int]int
	intercept   Interceptor
	counts      map[RequestKind]int
	posts       int
	conditional int
	lastHeader  http.Header
}

// NewMockArcGIS starts a mock with no layers.
func NewMockArcGIS() *MockArcGIS {
	m := &MockArcGIS{
		layers:     make(map[int]*LayerConfig),
		pageCursor: make(map[int]int),
		counts:     make(map[RequestKind]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the server root.
func (m *MockArcGIS) URL() string {
	return m.server.URL
}

// ServiceURL returns the FeatureServer URL.
func (m *MockArcGIS) ServiceURL() string {
	return m.server.URL + ServicePath
}

// LayerURL returns the URL of layer id.
func (m *MockArcGIS) LayerURL(id int) string {
	return fmt.Sprintf("%s/%d", m.ServiceURL(), id)
}

// Close shuts the server down.
func (m *MockArcGIS) Close() {
	m.server.Close()
}

// AddLayer registers a layer. Zero values get realistic defaults.
func (m *MockArcGIS) AddLayer(id int, cfg LayerConfig) {
	if cfg.Name == "" {
		cfg.Name = "layer_" + strconv.Itoa(id)
	}
	if cfg.ObjectIDField == "" {
		cfg.ObjectIDField = "OBJECTID"
	}
	if cfg.MaxRecordCount == 0 {
		cfg.MaxRecordCount = 2000
	}
	if cfg.Capabilities == "" {
		cfg.Capabilities = "Query"
	}
	cfg.ObjectIDs = slices.Clone(cfg.ObjectIDs)
	slices.Sort(cfg.ObjectIDs)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers[id] = &cfg
}

// SetInterceptor installs fn for all subsequent requests.
func (m *MockArcGIS) SetInterceptor(fn Interceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intercept = fn
}

// Count returns how many requests of kind were served.
func (m *MockArcGIS) Count(kind RequestKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[kind]
}

// RequestCount returns the total number of requests.
func (m *MockArcGIS) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.counts {
		total += n
	}
	return total
}

// PostCount returns the number of POST requests.
func (m *MockArcGIS) PostCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posts
}

// ConditionalCount returns the number of requests carrying If-None-Match.
func (m *MockArcGIS) ConditionalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditional
}

// LastHeader returns the headers of the most recent request.
func (m *MockArcGIS) LastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// Reset clears counters and page cursors.
func (m *MockArcGIS) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[RequestKind]int)
	m.pageCursor = make(map[int]int)
	m.posts = 0
	m.conditional = 0
	m.lastHeader = nil
}

func (m *MockArcGIS) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	layerID, isQuery, ok := m.route(r.URL.Path)
	kind := KindUnknown
	switch {
	case ok && layerID < 0:
		kind = KindServiceInfo
	case ok && !isQuery:
		kind = KindLayerInfo
	case ok:
		kind = queryKind(r)
	}

	m.mu.Lock()
	m.counts[kind]++
	if r.Method == http.MethodPost {
		m.posts++
	}
	if r.Header.Get("If-None-Match") != "" {
		m.conditional++
	}
	m.lastHeader = r.Header.Clone()
	intercept := m.intercept
	m.mu.Unlock()

	if intercept != nil {
		if resp := intercept(r, kind); resp != nil {
			writeMock(w, resp)
			return
		}
	}

	switch kind {
	case KindServiceInfo:
		m.serviceInfo(w)
	case KindLayerInfo:
		m.layerInfo(w, r, layerID)
	case KindUnknown:
		http.NotFound(w, r)
	default:
		m.query(w, r, layerID, kind)
	}
}

// route splits path into a layer id (-1 for the service) and whether it is /query.
func (m *MockArcGIS) route(path string) (int, bool, bool) {
	path = strings.TrimRight(path, "/")
	if path == ServicePath {
		return -1, false, true
	}
	rest, found := strings.CutPrefix(path, ServicePath+"/")
	if !found {
		return 0, false, false
	}
	rest, isQuery := strings.CutSuffix(rest, "/query")
	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false, false
	}
	m.mu.Lock()
	_, exists := m.layers[id]
	m.mu.Unlock()
	return id, isQuery, exists
}

var inClause = regexp.MustCompile(`(?i)\bIN\s*\(([^)]*)\)`)

func queryKind(r *http.Request) RequestKind {
	switch {
	case r.Form.Get("returnIdsOnly") == "true":
		return KindIDs
	case r.Form.Get("returnCountOnly") == "true":
		return KindCount
	case inClause.MatchString(r.Form.Get("where")):
		return KindBatch
	case r.Form.Has("resultOffset"):
		return KindPage
	default:
		return KindQuery
	}
}

func (m *MockArcGIS) serviceInfo(w http.ResponseWriter) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.layers))
	for id := range m.layers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	layers := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		layers = append(layers, map[string]any{"id": id, "name": m.layers[id].Name})
	}
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"currentVersion": 11.1,
		"layers":         layers,
	})
}

func (m *MockArcGIS) layerInfo(w http.ResponseWriter, r *http.Request, id int) {
	m.mu.Lock()
	cfg := *m.layers[id]
	m.mu.Unlock()

	etag := fmt.Sprintf(`"layer-%d"`, id)
	if r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "max-age=300")
		w.WriteHeader(http.StatusNotModified)
		return
	}

	info := map[string]any{
		"id":                      id,
		"name":                    cfg.Name,
		"type":                    "Feature Layer",
		"capabilities":            cfg.Capabilities,
		"supportsAdvancedQueries": cfg.SupportsAdvancedQueries,
		"objectIdField":           cfg.ObjectIDField,
		"maxRecordCount":          cfg.MaxRecordCount,
		"fields": []map[string]any{
			{"name": cfg.ObjectIDField, "type": "esriFieldTypeOID"},
			{"name": "NAME", "type": "esriFieldTypeString"},
		},
	}
	if cfg.WKID != 0 {
		info["extent"] = map[string]any{
			"spatialReference": map[string]int{"wkid": cfg.WKID},
		}
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "max-age=300")
	writeJSON(w, http.StatusOK, info)
}

func (m *MockArcGIS) query(w http.ResponseWriter, r *http.Request, id int, kind RequestKind) {
	m.mu.Lock()
	cfg := *m.layers[id]
	m.mu.Unlock()

	where := r.Form.Get("where")
	matching := cfg.ObjectIDs
	if strings.TrimSpace(where) == "1=0" {
		matching = nil
	}

	switch kind {
	case KindIDs:
		if cfg.DisableIDOnlyQuery {
			writeJSON(w, http.StatusOK, esriError(400, "returnIdsOnly is not supported"))
			return
		}
		body := map[string]any{"objectIdFieldName": cfg.ObjectIDField}
		if cfg.NullObjectIDs {
			body["objectIds"] = nil
		} else {
			body["objectIds"] = nonNil(matching)
		}
		writeJSON(w, http.StatusOK, body)

	case KindCount:
		writeJSON(w, http.StatusOK, map[string]int{"count": len(matching)})

	case KindBatch:
		wanted := parseIDs(inClause.FindStringSubmatch(where)[1])
		var out []int64
		for _, oid := range wanted {
			if _, found := slices.BinarySearch(cfg.ObjectIDs, oid); found {
				out = append(out, oid)
			}
		}
		writeFeatures(w, r, cfg, out, false)

	case KindPage:
		m.page(w, r, id, cfg, matching)

	default:
		limit := min(cfg.MaxRecordCount, len(matching))
		writeFeatures(w, r, cfg, matching[:limit], limit < len(matching))
	}
}

func (m *MockArcGIS) page(w http.ResponseWriter, r *http.Request, id int, cfg LayerConfig, matching []int64) {
	offset, _ := strconv.Atoi(r.Form.Get("resultOffset"))
	count, _ := strconv.Atoi(r.Form.Get("resultRecordCount"))

	if len(cfg.Pages) > 0 {
		m.mu.Lock()
		n := m.pageCursor[id]
		m.pageCursor[id]++
		m.mu.Unlock()

		script := PageScript{}
		if n < len(cfg.Pages) {
			script = cfg.Pages[n]
		}
		ids := make([]int64, script.Count)
		for i := range ids {
			ids[i] = int64(offset + i + 1)
		}
		writeFeatures(w, r, cfg, ids, script.Exceeded)
		return
	}

	if count <= 0 || count > cfg.MaxRecordCount {
		count = cfg.MaxRecordCount
	}
	start := min(offset, len(matching))
	end := min(start+count, len(matching))
	writeFeatures(w, r, cfg, matching[start:end], end < len(matching))
}

func writeFeatures(w http.ResponseWriter, r *http.Request, cfg LayerConfig, ids []int64, exceeded bool) {
	if r.Form.Get("f") == "json" {
		features := make([]map[string]any, 0, len(ids))
		for _, oid := range ids {
			features = append(features, map[string]any{
				"attributes": map[string]any{cfg.ObjectIDField: oid, "NAME": fmt.Sprintf("feature %d", oid)},
				"geometry":   map[string]float64{"x": float64(oid), "y": float64(oid)},
			})
		}
		body := map[string]any{
			"objectIdFieldName": cfg.ObjectIDField,
			"features":          features,
		}
		if exceeded {
			body["exceededTransferLimit"] = true
		}
		writeJSON(w, http.StatusOK, body)
		return
	}

	features := make([]map[string]any, 0, len(ids))
	for _, oid := range ids {
		features = append(features, map[string]any{
			"type":       "Feature",
			"id":         oid,
			"geometry":   map[string]any{"type": "Point", "coordinates": []float64{float64(oid), float64(oid)}},
			"properties": map[string]any{cfg.ObjectIDField: oid, "NAME": fmt.Sprintf("feature %d", oid)},
		})
	}
	body := map[string]any{
		"type":     "FeatureCollection",
		"features": features,
	}
	if exceeded {
		body["properties"] = map[string]bool{"exceededTransferLimit": true}
	}
	writeJSON(w, http.StatusOK, body)
}

func parseIDs(list string) []int64 {
	var ids []int64
	for _, part := range strings.Split(list, ",") {
		if n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func esriError(code int, message string) map[string]any {
	return map[string]any{
		"error": map[string]any{"code": code, "message": message, "details": []string{}},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMock(w http.ResponseWriter, resp *MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// NewRateLimitResponse is a 429 carrying Retry-After.
func NewRateLimitResponse(retryAfter string) *MockResponse {
	return &MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":{"code":429,"message":"Too many requests","details":[]}}`,
		Headers:    map[string]string{"Retry-After": retryAfter},
	}
}

// NewServerErrorResponse is a plain 500.
func NewServerErrorResponse() *MockResponse {
	return &MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":{"code":500,"message":"Internal server error","details":[]}}`,
	}
}

// NewServiceErrorResponse is an Esri error object inside an HTTP 200.
func NewServiceErrorResponse(code int, message string) *MockResponse {
	body, _ := json.Marshal(esriError(code, message))
	return &MockResponse{StatusCode: http.StatusOK, Body: string(body)}
}

// WhereContains matches batch or page requests whose where clause contains s.
func WhereContains(r *http.Request, s string) bool {
	return strings.Contains(r.Form.Get("where"), s)
}
