package ratelimit

import (
	"testing"
	"time"
)

func TestHostState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *HostState
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    &HostState{LastUpdate: time.Now()},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    &HostState{LastUpdate: time.Now().Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHostState_RecordFailure(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		failures   int
		threshold  int
		wantOpen   bool
		wantOpened bool
	}{
		{name: "below threshold", failures: 3, threshold: 5, wantOpen: false},
		{name: "reaches threshold", failures: 4, threshold: 5, wantOpen: true, wantOpened: true},
		{name: "threshold disabled", failures: 10, threshold: 0, wantOpen: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &HostState{Host: "example.com", ConsecutiveFailures: tt.failures}
			opened := state.RecordFailure(now, tt.threshold, time.Minute)

			if opened != tt.wantOpened {
				t.Errorf("RecordFailure() opened = %v, want %v", opened, tt.wantOpened)
			}
			if got := state.IsOpen(now); got != tt.wantOpen {
				t.Errorf("IsOpen() = %v, want %v", got, tt.wantOpen)
			}
			if state.ConsecutiveFailures != tt.failures+1 {
				t.Errorf("ConsecutiveFailures = %d, want %d", state.ConsecutiveFailures, tt.failures+1)
			}
		})
	}
}

func TestHostState_ReopensAfterCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	state := &HostState{Host: "example.com", ConsecutiveFailures: 4}

	if !state.RecordFailure(now, 5, time.Minute) {
		t.Fatal("expected circuit to open")
	}

	// Still open: no re-open.
	if state.RecordFailure(now.Add(30*time.Second), 5, time.Minute) {
		t.Error("RecordFailure() while open should not report a new opening")
	}

	later := now.Add(2 * time.Minute)
	if state.IsOpen(later) {
		t.Fatal("circuit should be half-open after cooldown")
	}
	if !state.RecordFailure(later, 5, time.Minute) {
		t.Error("failure after cooldown should re-open the circuit")
	}
}

func TestHostState_TimeUntilClose(t *testing.T) {
	now := time.Now()

	open := &HostState{OpenUntil: now.Add(45 * time.Second)}
	if d := open.TimeUntilClose(now); d != 45*time.Second {
		t.Errorf("TimeUntilClose() = %v, want 45s", d)
	}

	closed := &HostState{OpenUntil: now.Add(-time.Second)}
	if d := closed.TimeUntilClose(now); d != 0 {
		t.Errorf("TimeUntilClose() = %v, want 0", d)
	}
}

func TestHostState_Reset(t *testing.T) {
	now := time.Now()
	state := &HostState{ConsecutiveFailures: 7, OpenUntil: now.Add(time.Minute)}
	state.Reset(now)

	if state.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", state.ConsecutiveFailures)
	}
	if state.IsOpen(now) {
		t.Error("circuit should be closed after Reset")
	}
	if !state.LastUpdate.Equal(now) {
		t.Errorf("LastUpdate = %v, want %v", state.LastUpdate, now)
	}
}
