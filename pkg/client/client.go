// Package client provides the HTTP capability used against ArcGIS feature
// services: token-bucket rate limiting, per-host circuit breaking, retries
// with backoff, Retry-After handling, Esri error envelope detection, GET/POST
// shaping for long queries and Redis caching of metadata documents.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/arcgis-rest-client/pkg/cache"
	"github.com/Sternrassler/arcgis-rest-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for ArcGIS client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcgis_requests_total",
		Help: "Total ArcGIS HTTP attempts by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arcgis_request_duration_seconds",
		Help:    "ArcGIS request duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcgis_errors_total",
		Help: "Total failed ArcGIS attempts by class",
	}, []string{"class"})

	postFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcgis_post_fallbacks_total",
		Help: "Queries sent as POST because the URL exceeded the length limit",
	})
)

// DefaultUserAgent identifies the client when none is configured.
const DefaultUserAgent = "arcgis-rest-client/1.0"

// Config holds the client configuration.
type Config struct {
	// Redis enables shared breaker state and the metadata cache. Optional.
	Redis *redis.Client `mapstructure:"-"`

	// UserAgent header sent with every request.
	UserAgent string `mapstructure:"user_agent"`

	// Timeout bounds one HTTP exchange. A timeout is a transient network error.
	Timeout time.Duration `mapstructure:"timeout"`

	// RequestsPerSecond caps the request rate across all workers. 0 = unlimited.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Burst is the token bucket size. Defaults to ceil(RequestsPerSecond).
	Burst int `mapstructure:"burst"`

	// MaxURLLength is the longest GET URL sent; longer queries are POSTed.
	MaxURLLength int `mapstructure:"max_url_length"`

	// MaxRetryAfter caps server requested delays.
	MaxRetryAfter time.Duration `mapstructure:"max_retry_after"`

	// Retry controls attempts and backoff.
	Retry RetryConfig `mapstructure:"retry"`

	// Breaker controls per-host circuit breaking.
	Breaker ratelimit.TrackerConfig `mapstructure:"breaker"`

	// CacheMetadata caches service/layer metadata in Redis (requires Redis).
	CacheMetadata bool `mapstructure:"cache_metadata"`

	// CacheTTL is the metadata freshness when responses carry no caching headers.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// MaxResponseBytes rejects larger bodies. 0 = unlimited.
	MaxResponseBytes int64 `mapstructure:"max_response_bytes"`
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:     DefaultUserAgent,
		Timeout:       60 * time.Second,
		MaxURLLength:  2000,
		MaxRetryAfter: 30 * time.Second,
		Retry:         DefaultRetryConfig(),
		Breaker:       ratelimit.DefaultTrackerConfig(),
		CacheTTL:      cache.DefaultTTL,

		MaxResponseBytes: 100 << 20,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("user-agent is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %s)", c.Timeout)
	}
	if c.MaxURLLength <= 0 {
		return fmt.Errorf("max_url_length must be > 0 (got %d)", c.MaxURLLength)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0 (got %g)", c.RequestsPerSecond)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1 (got %d)", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1 (got %g)", c.Retry.BackoffMultiplier)
	}
	if c.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("breaker.failure_threshold must be >= 0 (got %d)", c.Breaker.FailureThreshold)
	}
	return nil
}

// Response is a completed ArcGIS exchange.
type Response struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte

	// Attempts is the number of HTTP exchanges made, 0 for a fresh cache hit.
	Attempts int

	// RetryAfter is the total server requested delay slept for this call.
	RetryAfter time.Duration

	// FromCache is set when Body came from the metadata cache.
	FromCache bool
}

// Client talks to ArcGIS REST endpoints. It is safe for concurrent use;
// workers share one connection pool, limiter and breaker.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *ratelimit.Tracker
	cache      *cache.Manager
	sleeper    ratelimit.Sleeper
	config     Config
	logger     zerolog.Logger
}

// New creates a new ArcGIS client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "arcgis-client").Logger()

	var store ratelimit.StateStore = ratelimit.NewMemoryStore()
	if cfg.Redis != nil {
		store = ratelimit.NewRedisStore(cfg.Redis)
	}

	var cacheManager *cache.Manager
	if cfg.CacheMetadata {
		if cfg.Redis == nil {
			return nil, fmt.Errorf("cache_metadata requires a redis client")
		}
		cacheManager = cache.NewManager(cfg.Redis, cache.Options{
			DefaultTTL:     cfg.CacheTTL,
			StaleRetention: time.Hour,
		})
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond)
			if float64(burst) < cfg.RequestsPerSecond {
				burst++
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		breaker: ratelimit.NewTracker(store, cfg.Breaker, logger),
		cache:   cacheManager,
		sleeper: ratelimit.ContextSleeper{},
		config:  cfg,
		logger:  logger,
	}, nil
}

// request is one logical call, possibly spanning several attempts.
type request struct {
	method    string
	endpoint  string
	params    url.Values
	cacheable bool
}

// Get fetches rawURL with params merged into its query string and decodes
// the JSON body into out (which may be nil). Metadata responses are cached
// when the cache is enabled.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, out any) (*Response, error) {
	endpoint, merged, err := splitURL(rawURL, params)
	if err != nil {
		return nil, &RequestError{Method: http.MethodGet, URL: rawURL, Class: ErrorClassClient, Err: err}
	}

	return c.execute(ctx, request{
		method:    http.MethodGet,
		endpoint:  endpoint,
		params:    merged,
		cacheable: c.cache != nil,
	}, out)
}

// Query calls {layerURL}/query. The request is a GET unless the encoded URL
// would exceed MaxURLLength, in which case the same parameters are POSTed
// form-encoded.
func (c *Client) Query(ctx context.Context, layerURL string, params url.Values, out any) (*Response, error) {
	endpoint, merged, err := splitURL(strings.TrimRight(layerURL, "/")+"/query", params)
	if err != nil {
		return nil, &RequestError{Method: http.MethodGet, URL: layerURL, Class: ErrorClassClient, Err: err}
	}

	method := http.MethodGet
	if c.needsPost(endpoint, merged) {
		method = http.MethodPost
		postFallbacksTotal.Inc()
		c.logger.Debug().
			Str("url", endpoint).
			Int("url_length", len(endpoint)+1+len(merged.Encode())).
			Int("max_url_length", c.config.MaxURLLength).
			Msg("Query too long for GET, using POST")
	}

	return c.execute(ctx, request{method: method, endpoint: endpoint, params: merged}, out)
}

// needsPost reports whether endpoint?params exceeds the URL length limit.
func (c *Client) needsPost(endpoint string, params url.Values) bool {
	return len(endpoint)+1+len(params.Encode()) > c.config.MaxURLLength
}

// execute runs the retry loop for one logical request.
func (c *Client) execute(ctx context.Context, r request, out any) (*Response, error) {
	host := hostOf(r.endpoint)

	var cached *cache.Entry
	var cacheKey cache.Key
	if r.cacheable {
		cacheKey = cache.Key{URL: r.endpoint, Params: r.params}
		entry, err := c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("url", r.endpoint).Msg("Cache get error")
		}
		if entry != nil && !entry.IsExpired() {
			if _, err := decodeBody(entry.Data, out); err == nil {
				c.logger.Debug().Str("url", r.endpoint).Msg("Metadata served from cache")
				return &Response{
					Method:     r.method,
					URL:        r.endpoint,
					StatusCode: entry.StatusCode,
					Header:     entry.Headers,
					Body:       entry.Data,
					FromCache:  true,
				}, nil
			}
		}
		if entry.CanRevalidate() {
			cached = entry
		}
	}

	var lastErr *RequestError
	var slept time.Duration
	maxAttempts := c.config.Retry.MaxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.breaker.Allow(ctx, host); err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassCircuitOpen)).Inc()
			return nil, &RequestError{
				Method:   r.method,
				URL:      r.endpoint,
				Class:    ErrorClassCircuitOpen,
				Attempts: attempt - 1,
				Err:      err,
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, c.cancelled(r, attempt-1, err)
			}
		}

		resp, reqErr := c.attempt(ctx, r, cached, cacheKey, out)
		retryAfter := c.retryAfter(resp)

		if reqErr == nil {
			c.recordHost(ctx, host, "")
			if retryAfter > 0 {
				if err := c.sleepRetryAfter(ctx, r, retryAfter); err != nil {
					return nil, c.cancelled(r, attempt, err)
				}
				slept += retryAfter
			}
			if attempt > 1 {
				c.logger.Info().
					Str("url", r.endpoint).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			resp.Attempts = attempt
			resp.RetryAfter = slept
			return resp, nil
		}

		reqErr.Method = r.method
		reqErr.URL = r.endpoint
		reqErr.Attempts = attempt
		errorsTotal.WithLabelValues(string(reqErr.Class)).Inc()

		if ctx.Err() != nil {
			return nil, c.cancelled(r, attempt, ctx.Err())
		}

		c.logger.Warn().
			Str("url", r.endpoint).
			Str("method", r.method).
			Int("status_code", reqErr.StatusCode).
			Str("error_class", string(reqErr.Class)).
			Int("attempt", attempt).
			Err(reqErr.Err).
			Msg("ArcGIS request error")

		lastErr = reqErr
		if !shouldRetry(reqErr.Class) || attempt >= maxAttempts {
			if retryAfter > 0 {
				if err := c.sleepRetryAfter(ctx, r, retryAfter); err != nil {
					return nil, c.cancelled(r, attempt, err)
				}
			}
			break
		}

		wait := c.config.Retry.backoff(reqErr.Class, attempt)
		if retryAfter > wait {
			wait = retryAfter
			retryAfterSeconds.Observe(retryAfter.Seconds())
			slept += retryAfter
		}

		retriesTotal.WithLabelValues(string(reqErr.Class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(reqErr.Class)).Observe(wait.Seconds())
		c.logger.Debug().
			Str("url", r.endpoint).
			Str("error_class", string(reqErr.Class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		if err := c.sleeper.Sleep(ctx, wait); err != nil {
			c.logger.Warn().
				Str("error_class", string(reqErr.Class)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return nil, c.cancelled(r, attempt, err)
		}
	}

	if shouldRetry(lastErr.Class) {
		lastErr.Exhausted = true
		retryExhaustedTotal.WithLabelValues(string(lastErr.Class)).Inc()
		c.logger.Warn().
			Str("url", r.endpoint).
			Str("error_class", string(lastErr.Class)).
			Int("max_attempts", maxAttempts).
			Msg("Retry attempts exhausted")
	}

	// One failed logical request counts once, however many attempts it took.
	c.recordHost(ctx, host, lastErr.Class)
	return nil, lastErr
}

// attempt performs one HTTP exchange. The returned Response is non-nil
// whenever a status line was received.
func (c *Client) attempt(ctx context.Context, r request, cached *cache.Entry, cacheKey cache.Key, out any) (*Response, *RequestError) {
	req, err := c.newRequest(ctx, r)
	if err != nil {
		return nil, &RequestError{Class: ErrorClassClient, Err: fmt.Errorf("create request: %w", err)}
	}
	if cached != nil {
		cache.AddConditionalHeaders(req, cached)
	}

	c.logger.Debug().
		Str("url", r.endpoint).
		Str("method", r.method).
		Msg("Executing ArcGIS request")

	startTime := time.Now()
	httpResp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(r.method).Observe(time.Since(startTime).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(r.method, "network_error").Inc()
		return nil, &RequestError{Class: ErrorClassNetwork, Err: err}
	}
	defer httpResp.Body.Close()

	resp := &Response{
		Method:     r.method,
		URL:        r.endpoint,
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
	}
	requestsTotal.WithLabelValues(r.method, strconv.Itoa(httpResp.StatusCode)).Inc()

	var reader io.Reader = httpResp.Body
	if c.config.MaxResponseBytes > 0 {
		reader = io.LimitReader(httpResp.Body, c.config.MaxResponseBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return resp, &RequestError{StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Err: fmt.Errorf("read response body: %w", err)}
	}
	if c.config.MaxResponseBytes > 0 && int64(len(body)) > c.config.MaxResponseBytes {
		return resp, &RequestError{StatusCode: resp.StatusCode, Class: ErrorClassClient, Err: ErrResponseTooLarge}
	}
	resp.Body = body

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		cache.NotModifiedResponses.Inc()
		cache.Refresh(cached, httpResp.Header, c.cache.DefaultTTL())
		if err := c.cache.Set(ctx, cacheKey, cached); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cached metadata")
		}
		resp.StatusCode = cached.StatusCode
		resp.Body = cached.Data
		resp.FromCache = true
	} else if resp.StatusCode >= 400 {
		var inner error = errors.New(http.StatusText(resp.StatusCode))
		var env envelope
		if json.Unmarshal(body, &env) == nil && env.Error != nil {
			inner = env.Error
		}
		return resp, &RequestError{StatusCode: resp.StatusCode, Class: classifyStatus(resp.StatusCode), Err: inner}
	}

	if class, err := decodeBody(resp.Body, out); err != nil {
		return resp, &RequestError{StatusCode: resp.StatusCode, Class: class, Err: err}
	}

	if r.cacheable && !resp.FromCache && resp.StatusCode == http.StatusOK {
		entry := cache.NewEntry(resp.StatusCode, httpResp.Header, body, c.cache.DefaultTTL())
		if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache metadata")
		}
	}

	return resp, nil
}

// newRequest builds the HTTP request for one attempt.
func (c *Client) newRequest(ctx context.Context, r request) (*http.Request, error) {
	var req *http.Request
	var err error

	switch r.method {
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(r.params.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		target := r.endpoint
		if len(r.params) > 0 {
			target += "?" + r.params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json, application/geo+json")
	return req, nil
}

// retryAfter returns the capped Retry-After delay of resp.
func (c *Client) retryAfter(resp *Response) time.Duration {
	if resp == nil {
		return 0
	}
	d, ok := ratelimit.ParseRetryAfter(resp.Header, time.Now())
	if !ok {
		return 0
	}
	if c.config.MaxRetryAfter > 0 && d > c.config.MaxRetryAfter {
		c.logger.Warn().
			Str("url", resp.URL).
			Dur("retry_after", d).
			Dur("max_retry_after", c.config.MaxRetryAfter).
			Msg("Retry-After exceeds limit, shortening wait")
		d = c.config.MaxRetryAfter
	}
	return d
}

// sleepRetryAfter honors a server requested delay before returning to the caller.
func (c *Client) sleepRetryAfter(ctx context.Context, r request, d time.Duration) error {
	retryAfterSeconds.Observe(d.Seconds())
	c.logger.Warn().
		Str("url", r.endpoint).
		Dur("retry_after", d).
		Msg("Server requested Retry-After, waiting")
	return c.sleeper.Sleep(ctx, d)
}

// recordHost feeds the breaker. An empty class is a success.
func (c *Client) recordHost(ctx context.Context, host string, class ErrorClass) {
	var err error
	switch {
	case class == "":
		err = c.breaker.RecordSuccess(ctx, host)
	case countsAgainstHost(class):
		err = c.breaker.RecordFailure(ctx, host)
	case class == ErrorClassClient || class == ErrorClassService:
		// the host answered; it is healthy even if the query was rejected
		err = c.breaker.RecordSuccess(ctx, host)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("host", host).Msg("Failed to update breaker state")
	}
}

func (c *Client) cancelled(r request, attempts int, cause error) *RequestError {
	return &RequestError{
		Method:   r.method,
		URL:      r.endpoint,
		Class:    ErrorClassNetwork,
		Attempts: attempts,
		Err:      fmt.Errorf("%w: %w", ErrContextCancelled, cause),
	}
}

// classifyStatus categorizes an HTTP error status.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// envelope detects the Esri error object.
type envelope struct {
	Error *ServiceError `json:"error"`
}

// decodeBody checks for an Esri error object and decodes body into out.
func decodeBody(body []byte, out any) (ErrorClass, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ErrorClassData, fmt.Errorf("decode response: %w", err)
	}
	if env.Error != nil {
		return classifyServiceError(env.Error), env.Error
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return ErrorClassData, fmt.Errorf("decode response: %w", err)
		}
	}
	return "", nil
}

// splitURL separates rawURL's query string and merges it with params.
// params win on conflicts.
func splitURL(rawURL string, params url.Values) (string, url.Values, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", nil, fmt.Errorf("url %q must be absolute", rawURL)
	}

	merged := u.Query()
	for key, values := range params {
		merged[key] = append([]string(nil), values...)
	}
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), merged, nil
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	return u.Host
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetSleeper replaces the sleeper used for backoff and Retry-After waits.
func (c *Client) SetSleeper(s ratelimit.Sleeper) {
	c.sleeper = s
}

// SetLogger replaces the client and breaker logger.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
	c.breaker.SetLogger(logger)
}

// Breaker returns the per-host failure tracker.
func (c *Client) Breaker() *ratelimit.Tracker {
	return c.breaker
}

// GetCache returns the cache manager, nil when metadata caching is off.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
