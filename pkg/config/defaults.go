package config

import (
	"github.com/Sternrassler/arcgis-rest-client/pkg/cache"
	"github.com/Sternrassler/arcgis-rest-client/pkg/client"
	"github.com/Sternrassler/arcgis-rest-client/pkg/ratelimit"
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)

	// HTTP client
	v.SetDefault("http.user_agent", client.DefaultUserAgent)
	v.SetDefault("http.timeout", "60s")
	v.SetDefault("http.requests_per_second", 0) // unlimited
	v.SetDefault("http.burst", 0)
	v.SetDefault("http.max_url_length", 2000)
	v.SetDefault("http.max_retry_after", "30s")
	v.SetDefault("http.max_response_bytes", 100<<20)
	v.SetDefault("http.retry.max_attempts", 3)
	v.SetDefault("http.retry.initial_backoff", "1s")
	v.SetDefault("http.retry.max_backoff", "30s")
	v.SetDefault("http.retry.backoff_multiplier", 2.0)
	v.SetDefault("http.breaker.failure_threshold", ratelimit.DefaultFailureThreshold)
	v.SetDefault("http.breaker.cooldown", ratelimit.DefaultCooldown)
	v.SetDefault("http.cache_metadata", false)
	v.SetDefault("http.cache_ttl", cache.DefaultTTL)

	// Redis (empty addr = disabled)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("metrics.addr", "")

	// Output
	v.SetDefault("sink.type", SinkFile)
	v.SetDefault("sink.minio.endpoint", "")
	v.SetDefault("sink.minio.access_key", "")
	v.SetDefault("sink.minio.secret_key", "")
	v.SetDefault("sink.minio.bucket", "")
	v.SetDefault("sink.minio.prefix", "")
	v.SetDefault("sink.minio.region", "")
	v.SetDefault("sink.minio.use_ssl", false)
	v.SetDefault("workspaces.downloads", "data/downloads")

	// Extraction defaults per source
	v.SetDefault("extract.use_oid_sweep", false)
	v.SetDefault("extract.page_size", 1000)
	v.SetDefault("extract.max_workers", 4)
	v.SetDefault("extract.batch_timeout", "5m")
	v.SetDefault("extract.fail_fast", false)
	v.SetDefault("extract.out_sr", 0)
	v.SetDefault("extract.format", "geojson")
	v.SetDefault("extract.diagnose_empty", true)

	v.SetDefault("use_bbox_filter", false)
}
