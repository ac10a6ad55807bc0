// Package arcgis models ArcGIS REST feature layers: capability probing,
// query parameter templates, object identifier discovery, service layer
// listing and count queries. All HTTP goes through a Querier.
package arcgis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/arcgis-rest-client/pkg/client"
)

// DefaultPageLimit is used when a layer declares no usable maxRecordCount.
const DefaultPageLimit = 2000

// ErrQueryNotSupported is returned for layers that refuse queries.
var ErrQueryNotSupported = errors.New("layer does not support query")

// Querier is the HTTP capability the package needs. *client.Client implements it.
type Querier interface {
	Get(ctx context.Context, rawURL string, params url.Values, out any) (*client.Response, error)
	Query(ctx context.Context, layerURL string, params url.Values, out any) (*client.Response, error)
}

// LayerDescriptor is the immutable capability summary of one layer.
type LayerDescriptor struct {
	URL                     string
	ID                      int
	Name                    string
	Type                    string
	SupportsQuery           bool
	SupportsAdvancedQueries bool
	SupportsIDOnlyQuery     bool
	ObjectIDField           string
	MaxRecordCount          int
	Capabilities            []string
	SpatialReference        int
}

// OIDSweepEligible reports whether identifier batching can be used.
func (d LayerDescriptor) OIDSweepEligible() bool {
	return d.SupportsQuery && d.SupportsAdvancedQueries && d.ObjectIDField != "" && d.SupportsIDOnlyQuery
}

// EffectivePageLimit is the page size for offset pagination.
func (d LayerDescriptor) EffectivePageLimit() int {
	if d.MaxRecordCount > 0 {
		return d.MaxRecordCount
	}
	return DefaultPageLimit
}

// HasCapability reports whether the layer lists name in its capabilities.
func (d LayerDescriptor) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// CapabilityError explains why a layer cannot be swept by identifier.
// It never aborts a run.
type CapabilityError struct {
	URL    string
	Reason string
	Err    error
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capability probe %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("capability probe %s: %s", e.URL, e.Reason)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// layerMetadata is the subset of `{layer}?f=json` the prober reads.
type layerMetadata struct {
	ID                      *int    `json:"id"`
	Name                    string  `json:"name"`
	Type                    string  `json:"type"`
	Capabilities            string  `json:"capabilities"`
	SupportsQuery           *bool   `json:"supportsQuery"`
	SupportsAdvancedQueries bool    `json:"supportsAdvancedQueries"`
	ObjectIDField           string  `json:"objectIdField"`
	ObjectIDFieldName       string  `json:"objectIdFieldName"`
	MaxRecordCount          int     `json:"maxRecordCount"`
	StandardMaxRecordCount  int     `json:"standardMaxRecordCount"`
	Fields                  []field `json:"fields"`
	Extent                  *struct {
		SpatialReference spatialReference `json:"spatialReference"`
	} `json:"extent"`
	SpatialReference *spatialReference `json:"spatialReference"`
}

type field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type spatialReference struct {
	WKID       int `json:"wkid"`
	LatestWKID int `json:"latestWkid"`
}

// idOnlyResponse is the `returnIdsOnly=true` body.
type idOnlyResponse struct {
	ObjectIDFieldName string   `json:"objectIdFieldName"`
	ObjectIDs         *[]int64 `json:"objectIds"`
}

// Prober inspects layers.
type Prober struct {
	q Querier
}

// NewProber creates a prober over q.
func NewProber(q Querier) *Prober {
	return &Prober{q: q}
}

// Probe fetches layer metadata and, when probeIDs is set and the layer
// looks eligible, confirms identifier-only queries with a `where=1=0` probe.
// It returns the descriptor and the number of HTTP requests consumed.
//
// A metadata failure is a plain error and the layer is unusable. Sweep
// ineligibility is returned as a *CapabilityError alongside a usable
// descriptor.
func (p *Prober) Probe(ctx context.Context, layerURL string, probeIDs bool) (LayerDescriptor, int, error) {
	layerURL = strings.TrimRight(layerURL, "/")
	desc := LayerDescriptor{URL: layerURL}

	var meta layerMetadata
	resp, err := p.q.Get(ctx, layerURL, url.Values{"f": {"json"}}, &meta)
	requests := attempts(resp, err)
	if err != nil {
		return desc, requests, fmt.Errorf("fetch layer metadata: %w", err)
	}

	desc = describe(layerURL, meta)
	if !desc.SupportsQuery {
		return desc, requests, ErrQueryNotSupported
	}

	if !probeIDs {
		return desc, requests, nil
	}

	if reason := ineligibility(desc); reason != "" {
		return desc, requests, &CapabilityError{URL: layerURL, Reason: reason}
	}

	var ids idOnlyResponse
	resp, err = p.q.Query(ctx, layerURL, url.Values{
		"where":         {"1=0"},
		"returnIdsOnly": {"true"},
		"f":             {"json"},
	}, &ids)
	requests += attempts(resp, err)
	if err != nil {
		return desc, requests, &CapabilityError{URL: layerURL, Reason: "id-only probe failed", Err: err}
	}
	if ids.ObjectIDFieldName == "" {
		return desc, requests, &CapabilityError{URL: layerURL, Reason: "id-only probe returned no objectIdFieldName"}
	}

	desc.SupportsIDOnlyQuery = true
	return desc, requests, nil
}

// ineligibility returns why metadata alone rules out the sweep.
func ineligibility(d LayerDescriptor) string {
	switch {
	case !d.SupportsAdvancedQueries:
		return "supportsAdvancedQueries is false"
	case d.ObjectIDField == "":
		return "no object id field"
	default:
		return ""
	}
}

// describe builds a descriptor from metadata.
func describe(layerURL string, meta layerMetadata) LayerDescriptor {
	desc := LayerDescriptor{
		URL:                     layerURL,
		Name:                    meta.Name,
		Type:                    meta.Type,
		SupportsAdvancedQueries: meta.SupportsAdvancedQueries,
		MaxRecordCount:          meta.MaxRecordCount,
	}
	if meta.ID != nil {
		desc.ID = *meta.ID
	}

	for _, c := range strings.Split(meta.Capabilities, ",") {
		if c = strings.TrimSpace(c); c != "" {
			desc.Capabilities = append(desc.Capabilities, c)
		}
	}

	// supportsQuery is absent on many servers; fall back to the capability list.
	switch {
	case meta.SupportsQuery != nil:
		desc.SupportsQuery = *meta.SupportsQuery
	case len(desc.Capabilities) > 0:
		desc.SupportsQuery = desc.HasCapability("Query")
	default:
		desc.SupportsQuery = true
	}

	desc.ObjectIDField = meta.ObjectIDField
	if desc.ObjectIDField == "" {
		desc.ObjectIDField = meta.ObjectIDFieldName
	}
	if desc.ObjectIDField == "" {
		for _, f := range meta.Fields {
			if f.Type == "esriFieldTypeOID" {
				desc.ObjectIDField = f.Name
				break
			}
		}
	}

	if desc.MaxRecordCount <= 0 {
		desc.MaxRecordCount = meta.StandardMaxRecordCount
	}

	switch {
	case meta.SpatialReference != nil:
		desc.SpatialReference = meta.SpatialReference.wkid()
	case meta.Extent != nil:
		desc.SpatialReference = meta.Extent.SpatialReference.wkid()
	}

	return desc
}

func (s spatialReference) wkid() int {
	if s.LatestWKID != 0 {
		return s.LatestWKID
	}
	return s.WKID
}

// attempts returns the HTTP exchanges consumed by a Querier call.
func attempts(resp *client.Response, err error) int {
	if resp != nil {
		return resp.Attempts
	}
	return client.AttemptsOf(err)
}
