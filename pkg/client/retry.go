package client

import (
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcgis_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arcgis_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcgis_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	retryAfterSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arcgis_retry_after_seconds",
		Help:    "Server requested Retry-After delays honored",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30},
	})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int `mapstructure:"max_attempts"`

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// backoff returns the jittered wait before attempt+1. Throttled requests start
// from twice the initial backoff.
func (rc RetryConfig) backoff(errorClass ErrorClass, attempt int) time.Duration {
	base := float64(rc.InitialBackoff)
	if errorClass == ErrorClassRateLimit {
		base *= 2
	}
	for i := 1; i < attempt; i++ {
		base *= rc.BackoffMultiplier
		if base >= float64(rc.MaxBackoff) {
			base = float64(rc.MaxBackoff)
			break
		}
	}
	if base > float64(rc.MaxBackoff) {
		base = float64(rc.MaxBackoff)
	}

	// Add jitter (±20% randomness)
	return time.Duration(base * (0.8 + rand.Float64()*0.4))
}
