// Package metrics holds the per-run extraction accumulator and documents the
// Prometheus collectors exported by the other packages.
//
// Prometheus collectors are defined in their respective packages (client,
// cache, ratelimit, pagination, extract) to keep modules independent. They are
// process-level observability only: the engine never reads them back, and run
// results always come from a Run created for that invocation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the module.
// All collectors are registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry, used by the CLI /metrics endpoint.
var Gatherer = prometheus.DefaultGatherer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - arcgis_requests_total{method, status} (Counter): HTTP attempts by method and status
//   - arcgis_request_duration_seconds{method} (Histogram): Attempt duration
//   - arcgis_errors_total{class} (Counter): Failed attempts by error class
//   - arcgis_post_fallbacks_total (Counter): Queries sent as POST because the URL was too long
//
// Retry Metrics (pkg/client):
//   - arcgis_retries_total{error_class} (Counter): Retry attempts by error class
//   - arcgis_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - arcgis_retry_exhausted_total{error_class} (Counter): Requests that exhausted max attempts
//   - arcgis_retry_after_seconds (Histogram): Server requested Retry-After delays honored
//
// Breaker Metrics (pkg/ratelimit):
//   - arcgis_breaker_open_total (Counter): Circuits opened for a host
//   - arcgis_breaker_rejections_total (Counter): Requests rejected while a circuit was open
//
// Cache Metrics (pkg/cache):
//   - arcgis_cache_hits_total (Counter): Metadata cache hits
//   - arcgis_cache_misses_total (Counter): Metadata cache misses
//   - arcgis_cache_not_modified_total (Counter): Stale entries revalidated with 304
//   - arcgis_cache_errors_total{operation} (Counter): Cache operation errors
//
// Pagination Metrics (pkg/pagination):
//   - arcgis_batches_total{result} (Counter): Identifier batches by result (ok, failed, discarded)
//   - arcgis_batch_duration_seconds (Histogram): Batch wall time including retries
//   - arcgis_pages_total{state} (Counter): Offset pages by resulting state
//
// Run Metrics (pkg/extract):
//   - arcgis_runs_total{strategy, result} (Counter): Engine runs
//   - arcgis_run_features_total{strategy} (Counter): Features returned
//   - arcgis_run_duration_seconds{strategy} (Histogram): Run duration
//
// Example Prometheus Queries:
//
//   # Batch failure rate
//   sum(rate(arcgis_batches_total{result="failed"}[5m])) / sum(rate(arcgis_batches_total[5m]))
//
//   # Share of queries needing POST
//   rate(arcgis_post_fallbacks_total[5m]) / rate(arcgis_requests_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(arcgis_request_duration_seconds_bucket[5m]))
