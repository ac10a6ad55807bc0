package arcgis

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Output formats understood by the query endpoint.
const (
	FormatGeoJSON = "geojson"
	FormatJSON    = "json"
)

// BBox is an envelope in some spatial reference: xmin, ymin, xmax, ymax.
type BBox [4]float64

// Valid reports whether min <= max on both axes.
func (b BBox) Valid() bool {
	return b[0] <= b[2] && b[1] <= b[3]
}

// ParseBBox converts at least four numbers into a BBox.
func ParseBBox(values []float64) (BBox, error) {
	if len(values) < 4 {
		return BBox{}, fmt.Errorf("bbox needs 4 numbers, got %d", len(values))
	}
	b := BBox{values[0], values[1], values[2], values[3]}
	if !b.Valid() {
		return BBox{}, fmt.Errorf("bbox %v has min greater than max", values[:4])
	}
	return b, nil
}

// QueryOptions shape the base query of a run.
type QueryOptions struct {
	Where          string
	OutFields      string
	ReturnGeometry bool
	Format         string
	OutSR          int
	BBox           *BBox
	BBoxSR         int
}

// QueryParams is an immutable query template. Every method returns a copy.
type QueryParams struct {
	values url.Values
}

// NewQueryParams builds the base template from opts.
func NewQueryParams(opts QueryOptions) QueryParams {
	where := strings.TrimSpace(opts.Where)
	if where == "" {
		where = "1=1"
	}
	outFields := opts.OutFields
	if outFields == "" {
		outFields = "*"
	}
	format := strings.ToLower(opts.Format)
	if format != FormatJSON {
		format = FormatGeoJSON
	}

	v := url.Values{
		"where":          {where},
		"outFields":      {outFields},
		"returnGeometry": {strconv.FormatBool(opts.ReturnGeometry)},
		"f":              {format},
	}
	if opts.OutSR != 0 {
		v.Set("outSR", strconv.Itoa(opts.OutSR))
	}

	if opts.BBox != nil {
		b := *opts.BBox
		envelope := map[string]any{
			"xmin": b[0], "ymin": b[1], "xmax": b[2], "ymax": b[3],
		}
		inSR := opts.BBoxSR
		if inSR == 0 {
			inSR = opts.OutSR
		}
		if inSR != 0 {
			envelope["spatialReference"] = map[string]int{"wkid": inSR}
			v.Set("inSR", strconv.Itoa(inSR))
		}
		geom, _ := json.Marshal(envelope)
		v.Set("geometry", string(geom))
		v.Set("geometryType", "esriGeometryEnvelope")
		v.Set("spatialRel", "esriSpatialRelIntersects")
	}

	return QueryParams{values: v}
}

// With returns a copy with key set to value.
func (p QueryParams) With(key, value string) QueryParams {
	v := p.Values()
	v.Set(key, value)
	return QueryParams{values: v}
}

// WithWhere returns a copy with a different where clause.
func (p QueryParams) WithWhere(where string) QueryParams {
	return p.With("where", where)
}

// Without returns a copy with the given keys removed.
func (p QueryParams) Without(keys ...string) QueryParams {
	v := p.Values()
	for _, k := range keys {
		v.Del(k)
	}
	return QueryParams{values: v}
}

// Where returns the template's where clause.
func (p QueryParams) Where() string {
	return p.values.Get("where")
}

// Get returns the value of key.
func (p QueryParams) Get(key string) string {
	return p.values.Get(key)
}

// Format returns the `f` parameter.
func (p QueryParams) Format() string {
	return p.values.Get("f")
}

// Values returns a deep copy suitable for one request.
func (p QueryParams) Values() url.Values {
	out := make(url.Values, len(p.values))
	for k, vs := range p.values {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
