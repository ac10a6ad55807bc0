package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore persists HostState values. Load returns a zero state (with Host
// set) when nothing is stored.
type StateStore interface {
	Load(ctx context.Context, host string) (*HostState, error)
	Save(ctx context.Context, state *HostState, ttl time.Duration) error
}

// MemoryStore keeps host state in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]HostState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]HostState)}
}

// Load returns a copy of the stored state.
func (m *MemoryStore) Load(_ context.Context, host string) (*HostState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[host]
	if !ok {
		return &HostState{Host: host}, nil
	}
	return &state, nil
}

// Save stores a copy of state. ttl is ignored.
func (m *MemoryStore) Save(_ context.Context, state *HostState, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[state.Host] = *state
	return nil
}

// RedisStore shares host state between processes through Redis.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a store backed by redisClient.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

// Key returns the Redis key for host.
func Key(host string) string {
	return RedisKeyPrefix + host
}

// Load reads the state for host from Redis.
func (r *RedisStore) Load(ctx context.Context, host string) (*HostState, error) {
	data, err := r.redis.Get(ctx, Key(host)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &HostState{Host: host}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get host state: %w", err)
	}

	var state HostState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal host state: %w", err)
	}
	state.Host = host
	return &state, nil
}

// Save writes state with the given TTL. A TTL of 0 keeps the key forever.
func (r *RedisStore) Save(ctx context.Context, state *HostState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal host state: %w", err)
	}

	if err := r.redis.Set(ctx, Key(state.Host), data, ttl).Err(); err != nil {
		return fmt.Errorf("store host state in redis: %w", err)
	}
	return nil
}
