//go:build integration

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_MetadataCacheAndRevalidation(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	var requests, conditional atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"layer-v1"` {
			conditional.Add(1)
			w.Header().Set("Cache-Control", "max-age=60")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"layer-v1"`)
		w.Header().Set("Cache-Control", "max-age=1")
		w.Write([]byte(`{"name":"Roads","maxRecordCount":2000}`))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Redis = redisClient
	cfg.CacheMetadata = true
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.SetLogger(zerolog.Nop())

	ctx := context.Background()
	params := url.Values{"f": {"json"}}
	var meta struct {
		Name string `json:"name"`
	}

	// 1: network
	resp, err := c.Get(ctx, server.URL+"/FeatureServer/0", params, &meta)
	if err != nil {
		t.Fatalf("request 1 error = %v", err)
	}
	if resp.FromCache || meta.Name != "Roads" {
		t.Errorf("request 1 FromCache = %v, name = %q", resp.FromCache, meta.Name)
	}

	// 2: fresh hit, no request
	resp, err = c.Get(ctx, server.URL+"/FeatureServer/0", params, &meta)
	if err != nil {
		t.Fatalf("request 2 error = %v", err)
	}
	if !resp.FromCache || resp.Attempts != 0 {
		t.Errorf("request 2 FromCache = %v, Attempts = %d", resp.FromCache, resp.Attempts)
	}
	if requests.Load() != 1 {
		t.Errorf("server requests = %d, want 1", requests.Load())
	}

	// 3: stale, revalidated with 304
	time.Sleep(1100 * time.Millisecond)
	meta.Name = ""
	resp, err = c.Get(ctx, server.URL+"/FeatureServer/0", params, &meta)
	if err != nil {
		t.Fatalf("request 3 error = %v", err)
	}
	if conditional.Load() != 1 {
		t.Errorf("conditional requests = %d, want 1", conditional.Load())
	}
	if !resp.FromCache || meta.Name != "Roads" {
		t.Errorf("request 3 FromCache = %v, name = %q", resp.FromCache, meta.Name)
	}
}

func TestIntegration_QueriesNeverCached(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Cache-Control", "max-age=600")
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Redis = redisClient
	cfg.CacheMetadata = true
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := c.Query(context.Background(), server.URL+"/FeatureServer/0", url.Values{"where": {"1=1"}}, nil); err != nil {
			t.Fatalf("Query() error = %v", err)
		}
	}
	if requests.Load() != 2 {
		t.Errorf("server requests = %d, want 2", requests.Load())
	}
}

func TestIntegration_BreakerStateInRedis(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Redis = redisClient
	cfg.Breaker.FailureThreshold = 2
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.SetSleeper(&recordingSleeper{})

	// two failed requests, each after exhausting its retries
	_, _ = c.Query(context.Background(), server.URL+"/0", nil, nil)
	_, _ = c.Query(context.Background(), server.URL+"/0", nil, nil)

	// a second client sharing Redis sees the open circuit
	other, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = other.Query(context.Background(), server.URL+"/0", nil, nil)
	if ClassOf(err) != ErrorClassCircuitOpen {
		t.Errorf("ClassOf() = %s, want circuit_open", ClassOf(err))
	}
}
