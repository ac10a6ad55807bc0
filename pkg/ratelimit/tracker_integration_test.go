//go:build integration

package ratelimit

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
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

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisStore_Integration_RoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient)
	ctx := context.Background()

	state, err := store.Load(ctx, "services.example.com")
	if err != nil {
		t.Fatalf("Load() on empty Redis error = %v", err)
	}
	if state.ConsecutiveFailures != 0 || !state.OpenUntil.IsZero() {
		t.Errorf("empty state = %+v, want zero", state)
	}

	openUntil := time.Now().Add(time.Minute).Truncate(time.Second)
	state.ConsecutiveFailures = 5
	state.OpenUntil = openUntil
	if err := store.Save(ctx, state, 2*time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "services.example.com")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ConsecutiveFailures != 5 {
		t.Errorf("ConsecutiveFailures = %d, want 5", loaded.ConsecutiveFailures)
	}
	if !loaded.OpenUntil.Equal(openUntil) {
		t.Errorf("OpenUntil = %v, want %v", loaded.OpenUntil, openUntil)
	}

	ttl, err := redisClient.TTL(ctx, Key("services.example.com")).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > 2*time.Minute {
		t.Errorf("TTL = %v, want (0, 2m]", ttl)
	}
}

func TestTracker_Integration_SharedAcrossTrackers(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	cfg := TrackerConfig{FailureThreshold: 3, Cooldown: time.Minute}
	first := NewTracker(NewRedisStore(redisClient), cfg, logger)
	second := NewTracker(NewRedisStore(redisClient), cfg, logger)
	ctx := context.Background()
	host := "services.example.com"

	for i := 0; i < 3; i++ {
		if err := first.RecordFailure(ctx, host); err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
	}

	if err := second.Allow(ctx, host); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second tracker Allow() error = %v, want ErrCircuitOpen", err)
	}

	if err := second.RecordSuccess(ctx, host); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}
	if err := first.Allow(ctx, host); err != nil {
		t.Errorf("first tracker Allow() after reset error = %v", err)
	}
}

func TestTracker_Integration_ConcurrentFailures(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(NewRedisStore(redisClient), TrackerConfig{FailureThreshold: 10, Cooldown: time.Minute}, logger)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.RecordFailure(ctx, "services.example.com"); err != nil {
				t.Errorf("RecordFailure() error = %v", err)
			}
		}()
	}
	wg.Wait()

	state, err := tracker.GetState(ctx, "services.example.com")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.ConsecutiveFailures != 10 {
		t.Errorf("ConsecutiveFailures = %d, want 10", state.ConsecutiveFailures)
	}
	if !state.IsOpen(time.Now()) {
		t.Error("circuit should be open after 10 failures")
	}
}
