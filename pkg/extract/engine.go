// Package extract runs feature extractions against ArcGIS REST layers.
//
// An Engine chooses between identifier batching and offset pagination per
// layer, collects every feature in memory and returns it with the run's
// counts. Persisting the result is left to the caller.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
	"github.com/Sternrassler/arcgis-rest-client/pkg/client"
	"github.com/Sternrassler/arcgis-rest-client/pkg/logging"
	"github.com/Sternrassler/arcgis-rest-client/pkg/metrics"
	"github.com/Sternrassler/arcgis-rest-client/pkg/pagination"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	runsTotal = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcgis_runs_total",
			Help: "Extraction runs by strategy and result",
		},
		[]string{"strategy", "result"}, // result: complete, partial, failed
	)

	runFeatures = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcgis_run_features_total",
			Help: "Features returned by extraction runs",
		},
		[]string{"strategy"},
	)

	runDuration = promauto.With(metrics.Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arcgis_run_duration_seconds",
			Help:    "Extraction run duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		},
		[]string{"strategy"},
	)
)

// Engine runs extractions. It is safe for concurrent use; every run owns its
// own counters.
type Engine struct {
	q      arcgis.Querier
	prober *arcgis.Prober
	logger zerolog.Logger
}

// NewEngine creates an engine over q, usually a *client.Client.
func NewEngine(q arcgis.Querier, logger zerolog.Logger) *Engine {
	return &Engine{
		q:      q,
		prober: arcgis.NewProber(q),
		logger: logger,
	}
}

// Run extracts every feature of layerURL matching opts.
//
// The identifier sweep is used only when opts.Sweep requests it, the layer is
// eligible and discovery succeeds; any of those failing falls back to offset
// pagination. A non-nil *Result is returned whenever opts are valid, even
// together with an error.
func (e *Engine) Run(ctx context.Context, layerURL string, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	start := time.Now()
	res := &Result{RunID: uuid.NewString(), Strategy: StrategyOffset}
	logger := logging.ForLayer(e.logger, res.RunID, layerURL)
	run := metrics.NewRun()
	params := arcgis.NewQueryParams(opts.queryOptions())

	features, err := e.run(ctx, layerURL, opts, params, res, run, logger)

	if err == nil && len(features) == 0 && opts.DiagnoseEmpty {
		e.diagnose(ctx, res.Layer.URL, opts, params, run, logger)
	}

	res.Collection = arcgis.NewFeatureCollection(features, opts.OutSR)
	res.Summary = run.Summary()
	res.Duration = time.Since(start)

	result := "complete"
	switch {
	case err != nil:
		result = "failed"
	case !res.Summary.Complete():
		result = "partial"
	}
	runsTotal.WithLabelValues(string(res.Strategy), result).Inc()
	runFeatures.WithLabelValues(string(res.Strategy)).Add(float64(res.Summary.FeaturesTotal))
	runDuration.WithLabelValues(string(res.Strategy)).Observe(res.Duration.Seconds())

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	} else if !res.Summary.Complete() {
		event = logger.Warn()
	}
	event.
		Str("strategy", string(res.Strategy)).
		Int("oids_total", res.Summary.OIDsTotal).
		Int("batches_total", res.Summary.BatchesTotal).
		Int("batches_ok", res.Summary.BatchesOK).
		Int("features_total", res.Summary.FeaturesTotal).
		Int("request_count", res.Summary.RequestCount).
		Dur("duration", res.Duration).
		Msg("Run finished")

	return res, err
}

func (e *Engine) run(ctx context.Context, layerURL string, opts Options, params arcgis.QueryParams, res *Result, run *metrics.Run, logger zerolog.Logger) ([]arcgis.Feature, error) {
	wantSweep := opts.Sweep != SweepOff

	desc, probeRequests, err := e.prober.Probe(ctx, layerURL, wantSweep)
	run.AddProbeRequests(probeRequests)
	res.Layer = desc

	var capErr *arcgis.CapabilityError
	switch {
	case err == nil:
	case errors.Is(err, arcgis.ErrQueryNotSupported):
		return nil, fmt.Errorf("%s: %w", layerURL, err)
	case cancelled(ctx, err):
		return nil, err
	case errors.As(err, &capErr):
		res.Fallback = capErr.Reason
	default:
		// Metadata is unavailable; offset paging with defaults may still work.
		res.Fallback = "layer metadata unavailable"
		logger.Warn().Err(err).Msg("Capability probe failed")
	}

	logger.Info().
		Str("name", desc.Name).
		Bool("advanced_queries", desc.SupportsAdvancedQueries).
		Bool("id_only_query", desc.SupportsIDOnlyQuery).
		Str("oid_field", desc.ObjectIDField).
		Int("max_record_count", desc.MaxRecordCount).
		Str("sweep", string(opts.Sweep)).
		Msg("Layer probed")

	pageLimit := desc.EffectivePageLimit()
	if opts.MaxRecordCount > 0 {
		pageLimit = opts.MaxRecordCount
	}

	if wantSweep && desc.OIDSweepEligible() {
		features, ok, err := e.sweep(ctx, desc, opts, params, pageLimit, res, run, logger)
		if ok {
			return features, err
		}
	}
	if wantSweep && res.Fallback != "" {
		logger.Info().Str("reason", res.Fallback).Msg("Falling back to offset pagination")
	}

	return e.offset(ctx, desc, params, pageLimit, run, logger)
}

// sweep runs the identifier path. ok is false when discovery failed and the
// caller should fall back.
func (e *Engine) sweep(ctx context.Context, desc arcgis.LayerDescriptor, opts Options, params arcgis.QueryParams, pageLimit int, res *Result, run *metrics.Run, logger zerolog.Logger) ([]arcgis.Feature, bool, error) {
	ids, field, requests, err := arcgis.DiscoverIDs(ctx, e.q, desc, params)
	run.AddRequests(requests)
	if err != nil {
		if cancelled(ctx, err) {
			return nil, true, err
		}
		var discErr *arcgis.DiscoveryError
		if errors.As(err, &discErr) {
			res.Fallback = discErr.Reason
		} else {
			res.Fallback = err.Error()
		}
		logger.Warn().Err(err).Msg("Identifier discovery failed")
		return nil, false, nil
	}

	res.Strategy = StrategyOIDSweep
	run.AddOIDs(ids.Len())

	pageSize := min(opts.PageSize, pageLimit)
	batches, err := pagination.PlanBatches(ids, pageSize)
	if err != nil {
		return nil, true, err
	}

	logger.Info().
		Int("oids", ids.Len()).
		Int("batches", len(batches)).
		Int("page_size", pageSize).
		Int("workers", opts.MaxWorkers).
		Msg("Starting identifier sweep")

	exec := pagination.NewExecutor(pagination.Config{
		MaxWorkers: opts.MaxWorkers,
		Timeout:    opts.BatchTimeout,
		FailFast:   opts.FailFast,
	}, logger)
	fetcher := pagination.NewOIDFetcher(e.q, desc.URL, field, params)

	out, err := exec.Execute(ctx, batches, fetcher.Fetch, run)
	res.Failures = out.Failures()
	return out.Features, true, err
}

func (e *Engine) offset(ctx context.Context, desc arcgis.LayerDescriptor, params arcgis.QueryParams, pageLimit int, run *metrics.Run, logger zerolog.Logger) ([]arcgis.Feature, error) {
	logger.Info().Int("page_limit", pageLimit).Msg("Starting offset pagination")

	f := pagination.NewOffsetFetcher(e.q, logger)
	// orderByFields is an advanced query parameter
	if desc.SupportsAdvancedQueries {
		f.SetOrderBy(desc.ObjectIDField)
	}

	out, err := f.FetchAll(ctx, desc.URL, params, pageLimit)
	run.AddRequests(out.Requests)
	run.AddFeatures(len(out.Features))
	return out.Features, err
}

// diagnose logs the unfiltered and filtered counts of an empty run.
func (e *Engine) diagnose(ctx context.Context, layerURL string, opts Options, params arcgis.QueryParams, run *metrics.Run, logger zerolog.Logger) {
	total, err := arcgis.Count(ctx, e.q, layerURL, arcgis.NewQueryParams(arcgis.QueryOptions{}))
	run.AddProbeRequests(1)
	if err != nil {
		logger.Warn().Err(err).Msg("Diagnostic count failed")
		return
	}

	filtered, err := arcgis.Count(ctx, e.q, layerURL, params)
	run.AddProbeRequests(1)
	if err != nil {
		logger.Warn().Err(err).Msg("Diagnostic count failed")
		return
	}

	event := logger.Info()
	if total > 0 && filtered == 0 {
		event = logger.Warn()
	}
	event.
		Int("total_count", total).
		Int("filtered_count", filtered).
		Bool("bbox", opts.BBox != nil).
		Str("where", params.Where()).
		Msg("Empty run diagnostics")
}

// cancelled reports whether err came from the caller's context rather than
// the remote service.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, client.ErrContextCancelled)
}
