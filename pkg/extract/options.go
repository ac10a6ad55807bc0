package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
)

// SweepMode controls whether identifier batching is used.
type SweepMode string

const (
	// SweepOff always uses offset pagination.
	SweepOff SweepMode = "off"

	// SweepOn uses identifier batching when the layer supports it.
	SweepOn SweepMode = "on"

	// SweepAuto behaves like SweepOn. It marks configurations that did not
	// opt in explicitly.
	SweepAuto SweepMode = "auto"
)

// ParseSweepMode accepts the `use_oid_sweep` config value: a bool, "auto",
// or a boolean-ish string. nil means off.
func ParseSweepMode(v any) (SweepMode, error) {
	switch t := v.(type) {
	case nil:
		return SweepOff, nil
	case bool:
		if t {
			return SweepOn, nil
		}
		return SweepOff, nil
	case SweepMode:
		return ParseSweepMode(string(t))
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "false", "off", "no", "0":
			return SweepOff, nil
		case "true", "on", "yes", "1":
			return SweepOn, nil
		case "auto":
			return SweepAuto, nil
		}
	}
	return "", fmt.Errorf("use_oid_sweep: unsupported value %v", v)
}

// Options configure one run.
type Options struct {
	Sweep SweepMode

	// PageSize is the number of identifiers per batch. It is lowered to the
	// layer's page limit when that is smaller.
	PageSize     int
	MaxWorkers   int
	FailFast     bool
	BatchTimeout time.Duration

	Where          string
	OutFields      string
	ReturnGeometry bool
	Format         string
	OutSR          int
	BBox           *arcgis.BBox
	BBoxSR         int

	// MaxRecordCount overrides the server's page limit for offset paging. 0 = server.
	MaxRecordCount int

	// DiagnoseEmpty logs feature counts when a run returns nothing.
	DiagnoseEmpty bool
}

// DefaultOptions returns the default run options.
func DefaultOptions() Options {
	return Options{
		Sweep:          SweepOff,
		PageSize:       1000,
		MaxWorkers:     4,
		BatchTimeout:   5 * time.Minute,
		Where:          "1=1",
		OutFields:      "*",
		ReturnGeometry: true,
		Format:         arcgis.FormatGeoJSON,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	switch o.Sweep {
	case SweepOff, SweepOn, SweepAuto:
	default:
		return fmt.Errorf("invalid sweep mode %q", o.Sweep)
	}
	if o.PageSize < 1 {
		return fmt.Errorf("page_size must be >= 1 (got %d)", o.PageSize)
	}
	if o.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be >= 1 (got %d)", o.MaxWorkers)
	}
	if o.MaxRecordCount < 0 {
		return fmt.Errorf("max_record_count must be >= 0 (got %d)", o.MaxRecordCount)
	}
	switch strings.ToLower(o.Format) {
	case "", arcgis.FormatGeoJSON, arcgis.FormatJSON:
	default:
		return fmt.Errorf("format must be geojson or json (got %q)", o.Format)
	}
	if o.BBox != nil && !o.BBox.Valid() {
		return fmt.Errorf("bbox %v has min greater than max", *o.BBox)
	}
	return nil
}

func (o Options) queryOptions() arcgis.QueryOptions {
	return arcgis.QueryOptions{
		Where:          o.Where,
		OutFields:      o.OutFields,
		ReturnGeometry: o.ReturnGeometry,
		Format:         o.Format,
		OutSR:          o.OutSR,
		BBox:           o.BBox,
		BBoxSR:         o.BBoxSR,
	}
}
