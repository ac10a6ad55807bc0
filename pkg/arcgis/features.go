package arcgis

import (
	"encoding/json"
	"strconv"
)

// Feature is one raw feature object, passed through unchanged.
type Feature = json.RawMessage

// FeaturePage is one query response. It accepts both GeoJSON and Esri JSON
// bodies.
type FeaturePage struct {
	Features              []Feature `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit"`
	Properties            *struct {
		ExceededTransferLimit bool `json:"exceededTransferLimit"`
	} `json:"properties,omitempty"`
}

// Exceeded reports the transfer limit flag from either location.
func (p FeaturePage) Exceeded() bool {
	if p.ExceededTransferLimit {
		return true
	}
	return p.Properties != nil && p.Properties.ExceededTransferLimit
}

// FeatureCollection is the merged output of a run.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
	CRS      *CRS      `json:"crs,omitempty"`
}

// CRS is the legacy GeoJSON named crs member.
type CRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// NewFeatureCollection wraps features. A wkid other than 0 or 4326 adds a
// named crs member.
func NewFeatureCollection(features []Feature, wkid int) FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	fc := FeatureCollection{Type: "FeatureCollection", Features: features}
	if wkid != 0 && wkid != 4326 {
		crs := &CRS{Type: "name"}
		crs.Properties.Name = "urn:ogc:def:crs:EPSG::" + strconv.Itoa(wkid)
		fc.CRS = crs
	}
	return fc
}
