package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh metadata hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arcgis_cache_hits_total",
			Help: "Total number of metadata cache hits",
		},
	)

	// CacheMisses tracks metadata misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arcgis_cache_misses_total",
			Help: "Total number of metadata cache misses",
		},
	)

	// NotModifiedResponses tracks successful revalidations
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arcgis_cache_not_modified_total",
			Help: "Total number of 304 Not Modified responses for cached metadata",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcgis_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
