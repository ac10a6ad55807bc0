// Package sink persists extracted feature collections.
//
// Collections are written as compact GeoJSON under
// {authority}/{source}/{layer}.geojson, either below a local directory
// (FileSink) or in an S3-compatible bucket (MinioSink).
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
	"github.com/Sternrassler/arcgis-rest-client/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Extension of written collections.
const Extension = ".geojson"

const (
	maxNameLength = 200
	unknownName   = "unknown_layer"
)

var (
	writesTotal = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcgis_sink_writes_total",
			Help: "Collections written by sink and result",
		},
		[]string{"sink", "result"},
	)

	bytesWritten = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcgis_sink_bytes_total",
			Help: "Bytes of GeoJSON written",
		},
		[]string{"sink"},
	)
)

// Target names the output of one layer.
type Target struct {
	Authority string
	Source    string
	Layer     string
}

// Path returns the slash separated relative path of the collection with
// every component sanitized.
func (t Target) Path() string {
	return path.Join(SanitizeName(t.Authority), SanitizeName(t.Source), SanitizeName(t.Layer)+Extension)
}

// Sink stores a collection and returns where it was written.
type Sink interface {
	Write(ctx context.Context, target Target, fc arcgis.FeatureCollection) (string, error)
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f-\x{9f}]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// SanitizeName makes name safe as a single path component. Reserved and
// control characters become "_", whitespace runs become "_", leading and
// trailing dots and underscores are trimmed and the result is cut to 200
// characters. An empty result yields "unknown_layer".
func SanitizeName(name string) string {
	s := unsafeChars.ReplaceAllString(name, "_")
	s = whitespace.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")

	if r := []rune(s); len(r) > maxNameLength {
		s = string(r[:maxNameLength])
	}
	if s == "" {
		return unknownName
	}
	return s
}

func encode(fc arcgis.FeatureCollection) ([]byte, error) {
	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encode collection: %w", err)
	}
	return data, nil
}

func record(sink string, n int, err error) {
	if err != nil {
		writesTotal.WithLabelValues(sink, "error").Inc()
		return
	}
	writesTotal.WithLabelValues(sink, "ok").Inc()
	bytesWritten.WithLabelValues(sink).Add(float64(n))
}
