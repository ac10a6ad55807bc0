package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned when a host's circuit rejects a request.
var ErrCircuitOpen = errors.New("circuit open")

// Prometheus metrics for circuit breaking.
var (
	breakerOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcgis_breaker_open_total",
		Help: "Total number of circuits opened for a host",
	})

	breakerRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcgis_breaker_rejections_total",
		Help: "Total number of requests rejected while a circuit was open",
	})
)

// TrackerConfig configures circuit decisions.
type TrackerConfig struct {
	// FailureThreshold is the number of consecutive failed requests that opens the
	// circuit. A request that exhausts its retries counts once.
	// Zero disables the breaker.
	FailureThreshold int `mapstructure:"failure_threshold"`

	// Cooldown is how long an open circuit rejects requests.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// DefaultTrackerConfig returns the default breaker settings.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		FailureThreshold: DefaultFailureThreshold,
		Cooldown:         DefaultCooldown,
	}
}

// CircuitOpenError reports a rejected request.
type CircuitOpenError struct {
	Host    string
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry in %s", e.Host, e.RetryIn.Round(time.Second))
}

// Is lets errors.Is match ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// Tracker records per-host outcomes and gates requests.
type Tracker struct {
	store  StateStore
	cfg    TrackerConfig
	logger zerolog.Logger
	now    func() time.Time

	// serializes read-modify-write cycles within this process
	mu sync.Mutex
}

// NewTracker creates a tracker over store. A nil store uses a MemoryStore.
func NewTracker(store StateStore, cfg TrackerConfig, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetLogger replaces the tracker logger.
func (t *Tracker) SetLogger(logger zerolog.Logger) {
	t.logger = logger
}

// Enabled reports whether the breaker is active.
func (t *Tracker) Enabled() bool {
	return t != nil && t.cfg.FailureThreshold > 0
}

// GetState returns the current state for host.
func (t *Tracker) GetState(ctx context.Context, host string) (*HostState, error) {
	state, err := t.store.Load(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("get host state: %w", err)
	}
	return state, nil
}

// Allow returns nil when a request to host may proceed, or a *CircuitOpenError.
// Store errors are logged and the request is allowed.
func (t *Tracker) Allow(ctx context.Context, host string) error {
	if !t.Enabled() {
		return nil
	}

	state, err := t.GetState(ctx, host)
	if err != nil {
		t.logger.Warn().Err(err).Str("host", host).Msg("Breaker state unavailable, allowing request")
		return nil
	}

	now := t.now()
	if !state.IsOpen(now) {
		return nil
	}

	wait := state.TimeUntilClose(now)
	breakerRejectionsTotal.Inc()
	t.logger.Warn().
		Str("host", host).
		Int("consecutive_failures", state.ConsecutiveFailures).
		Dur("retry_in", wait).
		Msg("Circuit open - rejecting request")

	return &CircuitOpenError{Host: host, RetryIn: wait}
}

// RecordSuccess closes the circuit for host.
func (t *Tracker) RecordSuccess(ctx context.Context, host string) error {
	if !t.Enabled() {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.GetState(ctx, host)
	if err != nil {
		return err
	}
	if state.ConsecutiveFailures == 0 && state.OpenUntil.IsZero() {
		return nil
	}

	state.Reset(t.now())
	return t.store.Save(ctx, state, t.ttl())
}

// RecordFailure counts one failure for host and opens the circuit at threshold.
func (t *Tracker) RecordFailure(ctx context.Context, host string) error {
	if !t.Enabled() {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.GetState(ctx, host)
	if err != nil {
		return err
	}

	if state.RecordFailure(t.now(), t.cfg.FailureThreshold, t.cfg.Cooldown) {
		breakerOpenTotal.Inc()
		t.logger.Error().
			Str("host", host).
			Int("consecutive_failures", state.ConsecutiveFailures).
			Time("open_until", state.OpenUntil).
			Msg("Circuit opened")
	}

	return t.store.Save(ctx, state, t.ttl())
}

// ttl keeps Redis keys around long enough to outlive one cooldown.
func (t *Tracker) ttl() time.Duration {
	return 2 * t.cfg.Cooldown
}
