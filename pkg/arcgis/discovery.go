package arcgis

import (
	"context"
	"fmt"
	"slices"
)

// IdentifierSet is a sorted, duplicate-free list of object identifiers.
type IdentifierSet []int64

// NewIdentifierSet sorts and deduplicates ids. The input is not modified.
func NewIdentifierSet(ids []int64) IdentifierSet {
	out := slices.Clone(ids)
	slices.Sort(out)
	return IdentifierSet(slices.Compact(out))
}

// Len returns the number of identifiers.
func (s IdentifierSet) Len() int { return len(s) }

// DiscoveryError means identifiers could not be listed. The caller falls back
// to offset pagination.
type DiscoveryError struct {
	URL    string
	Reason string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oid discovery %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("oid discovery %s: %s", e.URL, e.Reason)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// DiscoverIDs lists every identifier matching params' where clause and
// spatial filter. It returns the set, the identifier field name reported by
// the server and the HTTP requests consumed.
func DiscoverIDs(ctx context.Context, q Querier, desc LayerDescriptor, params QueryParams) (IdentifierSet, string, int, error) {
	v := params.Without("outFields", "returnGeometry", "outSR", "resultOffset", "resultRecordCount").Values()
	v.Set("returnIdsOnly", "true")
	v.Set("f", FormatJSON)

	var body idOnlyResponse
	resp, err := q.Query(ctx, desc.URL, v, &body)
	requests := attempts(resp, err)
	if err != nil {
		return nil, "", requests, &DiscoveryError{URL: desc.URL, Reason: "request failed", Err: err}
	}
	if body.ObjectIDs == nil {
		return nil, "", requests, &DiscoveryError{URL: desc.URL, Reason: "response has no objectIds"}
	}

	field := body.ObjectIDFieldName
	if field == "" {
		field = desc.ObjectIDField
	}
	if field == "" {
		return nil, "", requests, &DiscoveryError{URL: desc.URL, Reason: "response has no objectIdFieldName"}
	}

	return NewIdentifierSet(*body.ObjectIDs), field, requests, nil
}
