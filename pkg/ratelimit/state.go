// Package ratelimit implements per-host failure tracking and request gating for
// ArcGIS feature services. A host that keeps failing is short-circuited for a
// cooldown window so that parallel batch workers stop hammering it, and
// server-requested Retry-After delays are parsed and slept here.
package ratelimit

import (
	"time"
)

// RedisKeyPrefix prefixes host state keys stored in Redis.
const RedisKeyPrefix = "arcgis:host_state:"

// Defaults for circuit decisions.
const (
	// DefaultFailureThreshold opens the circuit after this many consecutive failed requests.
	DefaultFailureThreshold = 5

	// DefaultCooldown is how long an open circuit rejects requests.
	DefaultCooldown = 60 * time.Second
)

// HostState is the failure state of one service host.
// It may be shared across processes via Redis.
type HostState struct {
	// Host is the host[:port] the state belongs to.
	Host string `json:"host"`

	// ConsecutiveFailures counts failed requests since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// OpenUntil is when an open circuit starts letting requests through again.
	// Zero when the circuit has never opened.
	OpenUntil time.Time `json:"open_until"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// IsOpen reports whether requests to the host must be rejected at now.
func (s *HostState) IsOpen(now time.Time) bool {
	return now.Before(s.OpenUntil)
}

// TimeUntilClose returns how long the circuit stays open. Zero if it is closed.
func (s *HostState) TimeUntilClose(now time.Time) time.Duration {
	d := s.OpenUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state is older than maxAge.
func (s *HostState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// RecordFailure counts one failure and opens the circuit once threshold is
// reached. It returns true when this call opened (or re-opened) the circuit.
// A failure after the cooldown expired re-opens immediately while the count is
// still at or above threshold.
func (s *HostState) RecordFailure(now time.Time, threshold int, cooldown time.Duration) bool {
	s.ConsecutiveFailures++
	s.LastUpdate = now
	if threshold <= 0 || s.ConsecutiveFailures < threshold {
		return false
	}
	if s.IsOpen(now) {
		return false
	}
	s.OpenUntil = now.Add(cooldown)
	return true
}

// Reset closes the circuit after a success.
func (s *HostState) Reset(now time.Time) {
	s.ConsecutiveFailures = 0
	s.OpenUntil = time.Time{}
	s.LastUpdate = now
}
