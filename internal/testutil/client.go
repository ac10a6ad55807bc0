package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/arcgis-rest-client/pkg/client"
	"github.com/rs/zerolog"
)

// RecordingSleeper records requested waits and returns immediately.
type RecordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

// Sleep implements ratelimit.Sleeper.
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Waits returns a copy of every recorded wait.
func (s *RecordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// Max returns the longest recorded wait.
func (s *RecordingSleeper) Max() time.Duration {
	var longest time.Duration
	for _, w := range s.Waits() {
		longest = max(longest, w)
	}
	return longest
}

// NewClient builds a client with a recording sleeper and a silent logger.
func NewClient(t testing.TB, mutate func(*client.Config)) (*client.Client, *RecordingSleeper) {
	t.Helper()

	cfg := client.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	sleeper := &RecordingSleeper{}
	c.SetSleeper(sleeper)
	c.SetLogger(zerolog.Nop())
	return c, sleeper
}
