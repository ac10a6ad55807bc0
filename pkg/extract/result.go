package extract

import (
	"time"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
	"github.com/Sternrassler/arcgis-rest-client/pkg/metrics"
)

// Strategy is the pagination path a run took.
type Strategy string

const (
	StrategyOIDSweep Strategy = "oid_sweep"
	StrategyOffset   Strategy = "offset"
)

// Result is the output of one run. It is returned alongside errors so the
// caller always sees what was fetched and what it cost.
type Result struct {
	RunID      string
	Layer      arcgis.LayerDescriptor
	Strategy   Strategy
	Collection arcgis.FeatureCollection
	Summary    metrics.Summary

	// Fallback explains why the identifier sweep was not used. Empty when it
	// was used or not requested.
	Fallback string

	// Failures holds one error per failed batch.
	Failures []error
	Duration time.Duration
}

// Features returns the fetched features.
func (r *Result) Features() []arcgis.Feature {
	if r == nil {
		return nil
	}
	return r.Collection.Features
}

// Complete reports whether every planned batch succeeded.
func (r *Result) Complete() bool {
	return r != nil && r.Summary.Complete()
}
