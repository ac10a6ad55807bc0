package arcgis

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// LayerRef names one layer of a service.
type LayerRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// URL joins the layer id onto serviceURL.
func (r LayerRef) URL(serviceURL string) string {
	return strings.TrimRight(serviceURL, "/") + "/" + strconv.Itoa(r.ID)
}

type serviceMetadata struct {
	Type   string     `json:"type"`
	ID     *int       `json:"id"`
	Name   string     `json:"name"`
	Layers []LayerRef `json:"layers"`
}

// ListLayers returns the layers of a MapServer or FeatureServer whose names
// match one of include (shell patterns, case-insensitive). An empty include
// matches everything. When serviceURL is itself a feature layer it is
// returned as the only entry.
func ListLayers(ctx context.Context, q Querier, serviceURL string, include []string) ([]LayerRef, error) {
	serviceURL = strings.TrimRight(serviceURL, "/")

	var meta serviceMetadata
	if _, err := q.Get(ctx, serviceURL, url.Values{"f": {"json"}}, &meta); err != nil {
		return nil, fmt.Errorf("fetch service metadata: %w", err)
	}

	layers := meta.Layers
	if len(layers) == 0 && strings.EqualFold(meta.Type, "Feature Layer") {
		ref := LayerRef{Name: meta.Name}
		if meta.ID != nil {
			ref.ID = *meta.ID
		}
		layers = []LayerRef{ref}
	}

	var out []LayerRef
	for _, l := range layers {
		if matchesAny(l.Name, include) {
			out = append(out, l)
		}
	}
	return out, nil
}

// SelectLayers resolves explicit layer ids against a discovered list. Ids
// missing from the list get a synthetic `layer_<id>` name.
func SelectLayers(discovered []LayerRef, ids []int) []LayerRef {
	byID := make(map[int]LayerRef, len(discovered))
	for _, l := range discovered {
		byID[l.ID] = l
	}
	out := make([]LayerRef, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, l)
			continue
		}
		out = append(out, LayerRef{ID: id, Name: "layer_" + strconv.Itoa(id)})
	}
	return out
}

func matchesAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	name = strings.ToLower(name)
	for _, p := range patterns {
		if ok, err := path.Match(strings.ToLower(p), name); err == nil && ok {
			return true
		}
	}
	return false
}

type countResponse struct {
	Count *int `json:"count"`
}

// Count returns how many features match params.
func Count(ctx context.Context, q Querier, layerURL string, params QueryParams) (int, error) {
	v := params.Without("outFields", "returnGeometry", "outSR", "resultOffset", "resultRecordCount").Values()
	v.Set("returnCountOnly", "true")
	v.Set("f", FormatJSON)

	var body countResponse
	if _, err := q.Query(ctx, layerURL, v, &body); err != nil {
		return 0, fmt.Errorf("count %s: %w", layerURL, err)
	}
	if body.Count == nil {
		return 0, fmt.Errorf("count %s: response has no count", layerURL)
	}
	return *body.Count, nil
}
