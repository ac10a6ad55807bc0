package pagination

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
	"github.com/Sternrassler/arcgis-rest-client/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	batchesTotal = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcgis_batches_total",
			Help: "Identifier batches by outcome",
		},
		[]string{"result"}, // ok, failed, discarded
	)

	batchDuration = promauto.With(metrics.Registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arcgis_batch_duration_seconds",
			Help:    "Wall time of one batch including retries and waits",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

// Config holds executor configuration.
type Config struct {
	// MaxWorkers bounds the batches in flight.
	MaxWorkers int `mapstructure:"max_workers"`

	// Timeout bounds one batch including retries. 0 = no limit.
	Timeout time.Duration `mapstructure:"batch_timeout"`

	// FailFast stops dispatching after the first failed batch.
	FailFast bool `mapstructure:"fail_fast"`
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		MaxWorkers: 4,
		Timeout:    5 * time.Minute,
	}
}

// FetchFunc fetches one batch and reports the requests it consumed.
type FetchFunc func(ctx context.Context, b Batch) ([]arcgis.Feature, int, error)

// BatchOutcome records what happened to one batch.
type BatchOutcome struct {
	Batch     int
	Size      int
	Features  int
	Requests  int
	Err       error
	Discarded bool
}

// OK reports whether the batch's features are part of the result.
func (o BatchOutcome) OK() bool {
	return o.Err == nil && !o.Discarded
}

// ExecutionResult is the merged output of all batches.
type ExecutionResult struct {
	Features []arcgis.Feature
	// Outcomes follows the order of the input batches.
	Outcomes []BatchOutcome
	Requests int
}

// Succeeded returns the number of batches whose features were kept.
func (r ExecutionResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

// Failures returns the failed batches' errors in batch order.
func (r ExecutionResult) Failures() []error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}

// Executor runs batch fetches on a bounded worker pool.
type Executor struct {
	config Config
	logger zerolog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(config Config, logger zerolog.Logger) *Executor {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultConfig().MaxWorkers
	}
	return &Executor{config: config, logger: logger}
}

// Execute fetches every batch and merges the successful ones.
//
// Failed batches are recorded and the run continues. With FailFast the first
// failure stops dispatch: queued batches are marked discarded, in-flight
// batches finish but their features are dropped, and the failure is returned.
// run, when non-nil, receives batch, feature and request counts.
func (e *Executor) Execute(ctx context.Context, batches []Batch, fetch FetchFunc, run *metrics.Run) (ExecutionResult, error) {
	start := time.Now()
	result := ExecutionResult{Outcomes: make([]BatchOutcome, len(batches))}
	if run != nil {
		run.AddBatches(len(batches))
	}
	if len(batches) == 0 {
		return result, nil
	}

	// dispatch gates new work; in-flight fetches keep ctx.
	dispatch, stop := context.WithCancel(ctx)
	defer stop()

	type completed struct {
		pos      int
		outcome  BatchOutcome
		features []arcgis.Feature
	}

	queue := make(chan int)
	done := make(chan completed, e.config.MaxWorkers)

	go func() {
		defer close(queue)
		for pos := range batches {
			select {
			case queue <- pos:
			case <-dispatch.Done():
				return
			}
		}
	}()

	workers := min(e.config.MaxWorkers, len(batches))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processed := 0
			for pos := range queue {
				if dispatch.Err() != nil {
					return
				}
				outcome, features := e.fetchOne(ctx, batches[pos], fetch)
				done <- completed{pos: pos, outcome: outcome, features: features}
				processed++
			}
			e.logger.Debug().
				Int("worker_id", workerID).
				Int("batches_processed", processed).
				Msg("Worker completed")
		}(i)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	seen := make([]bool, len(batches))
	finished := 0
	var firstFailure error
	for c := range done {
		o := c.outcome
		seen[c.pos] = true
		finished++
		result.Requests += o.Requests
		if run != nil {
			run.AddRequests(o.Requests)
		}

		switch {
		case o.Err != nil:
			batchesTotal.WithLabelValues("failed").Inc()
			e.logger.Warn().
				Err(o.Err).
				Int("batch", o.Batch).
				Int("ids", o.Size).
				Msg("Batch failed")
			if e.config.FailFast && firstFailure == nil {
				firstFailure = o.Err
				stop()
			}
		case firstFailure != nil:
			o.Discarded = true
			batchesTotal.WithLabelValues("discarded").Inc()
		default:
			batchesTotal.WithLabelValues("ok").Inc()
			result.Features = append(result.Features, c.features...)
			if run != nil {
				run.BatchSucceeded()
				run.AddFeatures(len(c.features))
			}
		}
		result.Outcomes[c.pos] = o

		if finished%50 == 0 {
			e.logger.Info().
				Int("finished", finished).
				Int("total", len(batches)).
				Float64("progress_pct", float64(finished)/float64(len(batches))*100).
				Msg("Batch progress")
		}
	}

	for i, b := range batches {
		if !seen[i] {
			result.Outcomes[i] = BatchOutcome{Batch: b.Index, Size: len(b.IDs), Discarded: true}
			batchesTotal.WithLabelValues("discarded").Inc()
		}
	}

	e.logger.Info().
		Int("batches", len(batches)).
		Int("ok", result.Succeeded()).
		Int("features", len(result.Features)).
		Int("requests", result.Requests).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	if firstFailure != nil {
		return result, firstFailure
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// fetchOne runs a single batch under the per-batch timeout.
func (e *Executor) fetchOne(ctx context.Context, b Batch, fetch FetchFunc) (BatchOutcome, []arcgis.Feature) {
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	features, requests, err := fetch(ctx, b)
	outcome := BatchOutcome{
		Batch:    b.Index,
		Size:     len(b.IDs),
		Features: len(features),
		Requests: requests,
	}
	if err != nil {
		outcome.Features = 0
		outcome.Err = &BatchFetchFailure{Batch: b.Index, Size: len(b.IDs), Attempts: requests, Err: err}
		return outcome, nil
	}
	return outcome, features
}

// IsBatchFailure reports whether err is a *BatchFetchFailure.
func IsBatchFailure(err error) bool {
	var f *BatchFetchFailure
	return errors.As(err, &f)
}
