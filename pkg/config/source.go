package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
	"github.com/Sternrassler/arcgis-rest-client/pkg/extract"
	"github.com/spf13/cast"
)

// SourceConfig is one entry of the sources list.
type SourceConfig struct {
	Name      string `mapstructure:"name"`
	Type      string `mapstructure:"type"`
	Authority string `mapstructure:"authority"`
	URL       string `mapstructure:"url"`

	// Enabled defaults to true when omitted.
	Enabled *bool `mapstructure:"enabled"`

	// Raw holds the per-source query settings (use_oid_sweep, page_size,
	// where, bbox, layer_ids, include, ...).
	Raw map[string]any `mapstructure:"raw"`
}

// IsREST reports whether the source is an ArcGIS REST source.
func (s SourceConfig) IsREST() bool {
	return strings.EqualFold(s.Type, "rest")
}

// IsEnabled reports whether the source should run.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// AuthorityOrDefault returns the authority, "unknown" when unset.
func (s SourceConfig) AuthorityOrDefault() string {
	if s.Authority == "" {
		return "unknown"
	}
	return s.Authority
}

// Options builds the run options and layer selection for the source. Raw
// settings override cfg.Extract; the global bbox applies when
// cfg.UseBBoxFilter is set and the source has no bbox of its own.
func (s SourceConfig) Options(cfg *Config) (extract.Options, extract.Selection, error) {
	opts := extract.DefaultOptions()
	var sel extract.Selection
	d := cfg.Extract

	sweep, err := extract.ParseSweepMode(pick(s.Raw, d.UseOIDSweep, "use_oid_sweep"))
	if err != nil {
		return opts, sel, s.wrap(err)
	}
	opts.Sweep = sweep

	if opts.PageSize, err = intSetting(s.Raw, d.PageSize, opts.PageSize, "page_size"); err != nil {
		return opts, sel, s.wrap(err)
	}
	if opts.MaxWorkers, err = intSetting(s.Raw, d.MaxWorkers, opts.MaxWorkers, "max_workers"); err != nil {
		return opts, sel, s.wrap(err)
	}
	if opts.OutSR, err = intSetting(s.Raw, d.OutSR, 0, "out_sr", "stage_sr"); err != nil {
		return opts, sel, s.wrap(err)
	}
	if opts.MaxRecordCount, err = intSetting(s.Raw, 0, 0, "max_record_count"); err != nil {
		return opts, sel, s.wrap(err)
	}
	if d.BatchTimeout > 0 {
		opts.BatchTimeout = d.BatchTimeout
	}
	if v, ok := lookup(s.Raw, "batch_timeout"); ok {
		if opts.BatchTimeout, err = cast.ToDurationE(v); err != nil {
			return opts, sel, s.wrap(fmt.Errorf("batch_timeout: %w", err))
		}
	}

	opts.FailFast = d.FailFast
	if v, ok := lookup(s.Raw, "fail_fast"); ok {
		if opts.FailFast, err = cast.ToBoolE(v); err != nil {
			return opts, sel, s.wrap(fmt.Errorf("fail_fast: %w", err))
		}
	}
	opts.DiagnoseEmpty = d.DiagnoseEmpty

	if v, ok := lookup(s.Raw, "where", "where_clause"); ok {
		opts.Where = cast.ToString(v)
	}
	if v, ok := lookup(s.Raw, "out_fields"); ok {
		opts.OutFields = outFields(v)
	}
	if d.Format != "" {
		opts.Format = strings.ToLower(d.Format)
	}
	if v, ok := lookup(s.Raw, "format", "response_format"); ok {
		opts.Format = strings.ToLower(cast.ToString(v))
	}

	if err := s.applyBBox(cfg, &opts); err != nil {
		return opts, sel, s.wrap(err)
	}

	if v, ok := lookup(s.Raw, "layer_ids"); ok {
		if sel.LayerIDs, err = cast.ToIntSliceE(v); err != nil {
			return opts, sel, s.wrap(fmt.Errorf("layer_ids: %w", err))
		}
	}
	if v, ok := lookup(s.Raw, "include"); ok {
		if sel.Include, err = cast.ToStringSliceE(v); err != nil {
			return opts, sel, s.wrap(fmt.Errorf("include: %w", err))
		}
	}

	if err := opts.Validate(); err != nil {
		return opts, sel, s.wrap(err)
	}
	return opts, sel, nil
}

func (s SourceConfig) applyBBox(cfg *Config, opts *extract.Options) error {
	var err error
	if v, ok := lookup(s.Raw, "bbox"); ok {
		coords, err := floats(v)
		if err != nil {
			return fmt.Errorf("bbox: %w", err)
		}
		bbox, err := arcgis.ParseBBox(coords)
		if err != nil {
			return fmt.Errorf("bbox: %w", err)
		}
		opts.BBox = &bbox
	} else if cfg.UseBBoxFilter {
		bbox, err := cfg.GlobalBBox.BBox()
		if err != nil {
			return fmt.Errorf("global_bbox: %w", err)
		}
		opts.BBox = &bbox
		if opts.BBoxSR, err = ParseCRS(cfg.GlobalBBox.CRS); err != nil {
			return fmt.Errorf("global_bbox: %w", err)
		}
	}

	if v, ok := lookup(s.Raw, "bbox_sr"); ok {
		if opts.BBoxSR, err = ParseCRS(v); err != nil {
			return fmt.Errorf("bbox_sr: %w", err)
		}
	}
	return nil
}

func (s SourceConfig) wrap(err error) error {
	return fmt.Errorf("source %s: %w", s.Name, err)
}

// BBox returns the global bbox coordinates.
func (g GlobalBBox) BBox() (arcgis.BBox, error) {
	return arcgis.ParseBBox(g.Coords)
}

// ParseCRS converts a CRS setting to an EPSG code. It accepts integers,
// numeric strings, "EPSG:n", "WGS84" and "CRS84". nil yields 0.
func ParseCRS(v any) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		s := strings.ToUpper(strings.TrimSpace(t))
		switch {
		case s == "":
			return 0, nil
		case s == "WGS84" || s == "CRS84":
			return 4326, nil
		case strings.HasPrefix(s, "EPSG:"):
			s = strings.TrimPrefix(s, "EPSG:")
		}
		code, err := strconv.Atoi(s)
		if err != nil || code < 0 {
			return 0, fmt.Errorf("unsupported crs %q", t)
		}
		return code, nil
	default:
		code, err := cast.ToIntE(v)
		if err != nil || code < 0 {
			return 0, fmt.Errorf("unsupported crs %v", v)
		}
		return code, nil
	}
}

// lookup returns the first key present in raw.
func lookup(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func pick(raw map[string]any, fallback any, keys ...string) any {
	if v, ok := lookup(raw, keys...); ok {
		return v
	}
	return fallback
}

// intSetting resolves keys from raw, then the global default, then def.
func intSetting(raw map[string]any, global, def int, keys ...string) (int, error) {
	if v, ok := lookup(raw, keys...); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", keys[0], err)
		}
		return n, nil
	}
	if global != 0 {
		return global, nil
	}
	return def, nil
}

// outFields accepts "a,b" or a list of field names.
func outFields(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	fields := cast.ToStringSlice(v)
	if len(fields) == 0 {
		return "*"
	}
	return strings.Join(fields, ",")
}

// floats accepts a list of numbers or "xmin,ymin,xmax,ymax".
func floats(v any) ([]float64, error) {
	var items []any
	switch t := v.(type) {
	case string:
		for _, p := range strings.Split(t, ",") {
			items = append(items, strings.TrimSpace(p))
		}
	case []any:
		items = t
	case []float64:
		return t, nil
	case []int:
		for _, n := range t {
			items = append(items, n)
		}
	default:
		return nil, fmt.Errorf("unsupported value %v", v)
	}

	out := make([]float64, 0, len(items))
	for _, it := range items {
		f, err := cast.ToFloat64E(it)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
