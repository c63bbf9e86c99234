package recovery

import (
	"fmt"
	"testing"
	"time"

	"github.com/freeeve/avalon-recovery/internal/model"
)

func testConfig() model.RecoveryConfiguration {
	cfg := model.DefaultRecoveryConfiguration()
	cfg.Backoff.Jitter = false
	return cfg
}

func TestBackoffDelayMonotonic(t *testing.T) {
	p := NewReconnectionPolicy(testConfig())

	for attempt := 0; attempt < 20; attempt++ {
		cur := p.BackoffDelay(attempt)
		next := p.BackoffDelay(attempt + 1)
		if next < cur {
			t.Errorf("BackoffDelay(%d) = %v > BackoffDelay(%d) = %v", attempt, cur, attempt+1, next)
		}
	}
}

func TestBackoffDelayValues(t *testing.T) {
	p := NewReconnectionPolicy(testConfig())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // capped at maxDelay
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.BackoffDelay(tt.attempt); got != tt.want {
			t.Errorf("BackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelayJitterBand(t *testing.T) {
	cfg := testConfig()
	cfg.Backoff.Jitter = true
	p := NewReconnectionPolicy(cfg)

	// Pin the jitter source to its extremes.
	p.setJitterFn(func() float64 { return 0 })
	if got := p.BackoffDelay(1); got != 1600*time.Millisecond {
		t.Errorf("jitter low bound: got %v, want 1.6s", got)
	}
	p.setJitterFn(func() float64 { return 1 })
	if got := p.BackoffDelay(1); got != 2400*time.Millisecond {
		t.Errorf("jitter high bound: got %v, want 2.4s", got)
	}
}

func TestPlayerTimedOutBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.Timeouts.PlayerTimeout = 300000 * time.Millisecond
	p := NewReconnectionPolicy(cfg)

	disconnectedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ps := model.PlayerRecoveryState{
		PlayerID:        "p1",
		ConnectionState: model.ConnDisconnected,
		DisconnectedAt:  &disconnectedAt,
	}

	tests := []struct {
		elapsed time.Duration
		want    bool
	}{
		{299999 * time.Millisecond, false},
		{300000 * time.Millisecond, false},
		{300001 * time.Millisecond, true},
	}
	for _, tt := range tests {
		now := disconnectedAt.Add(tt.elapsed)
		if got := p.PlayerTimedOut(ps, now); got != tt.want {
			t.Errorf("PlayerTimedOut at +%v = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestPlayerTimedOutAbandonedNever(t *testing.T) {
	p := NewReconnectionPolicy(testConfig())
	disconnectedAt := time.Now().Add(-time.Hour)
	ps := model.PlayerRecoveryState{
		ConnectionState: model.ConnAbandoned,
		DisconnectedAt:  &disconnectedAt,
	}
	if p.PlayerTimedOut(ps, time.Now()) {
		t.Error("abandoned player should never time out again")
	}
}

func TestPlayerNeedsWarning(t *testing.T) {
	cfg := testConfig()
	cfg.Timeouts.PlayerTimeout = 10 * time.Minute
	p := NewReconnectionPolicy(cfg)

	disconnectedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ps := model.PlayerRecoveryState{
		ConnectionState: model.ConnDisconnected,
		DisconnectedAt:  &disconnectedAt,
	}

	if p.PlayerNeedsWarning(ps, disconnectedAt.Add(4*time.Minute)) {
		t.Error("no warning before the threshold")
	}
	if !p.PlayerNeedsWarning(ps, disconnectedAt.Add(6*time.Minute)) {
		t.Error("expected warning past the threshold")
	}

	ps.TimeoutWarning = true
	if p.PlayerNeedsWarning(ps, disconnectedAt.Add(6*time.Minute)) {
		t.Error("warning should fire only once")
	}
}

func TestPhaseTimedOut(t *testing.T) {
	cfg := testConfig()
	cfg.Timeouts.PhaseTimeouts = map[string]time.Duration{"team_vote": time.Minute}
	p := NewReconnectionPolicy(cfg)

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if p.PhaseTimedOut("team_vote", start, start.Add(59*time.Second)) {
		t.Error("phase should not time out before its limit")
	}
	if !p.PhaseTimedOut("team_vote", start, start.Add(61*time.Second)) {
		t.Error("phase should time out past its limit")
	}
	// Phases absent from the table never time out.
	if p.PhaseTimedOut("quest_result", start, start.Add(24*time.Hour)) {
		t.Error("unlisted phase must never time out")
	}
}

func TestMassDisconnectionBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.Timeouts.MassDisconnectionThreshold = 0.5
	p := NewReconnectionPolicy(cfg)

	players := func(disconnected, total int) map[string]model.PlayerRecoveryState {
		m := make(map[string]model.PlayerRecoveryState)
		for i := 0; i < total; i++ {
			state := model.ConnConnected
			if i < disconnected {
				state = model.ConnDisconnected
			}
			m[fmt.Sprintf("p%d", i)] = model.PlayerRecoveryState{ConnectionState: state}
		}
		return m
	}

	// 2/5 is below the 0.5 threshold, 3/5 reaches it.
	if p.MassDisconnection(players(2, 5)) {
		t.Error("2 of 5 disconnected should not trip the threshold")
	}
	if !p.MassDisconnection(players(3, 5)) {
		t.Error("3 of 5 disconnected should trip the threshold")
	}
	// Exactly at the threshold counts.
	if !p.MassDisconnection(players(2, 4)) {
		t.Error("2 of 4 disconnected equals the threshold and should trip it")
	}
	if p.MassDisconnection(nil) {
		t.Error("empty room should never report mass disconnection")
	}
}

func TestMassDisconnectionCountsReconnecting(t *testing.T) {
	p := NewReconnectionPolicy(testConfig())
	players := map[string]model.PlayerRecoveryState{
		"p1": {ConnectionState: model.ConnReconnecting},
		"p2": {ConnectionState: model.ConnConnected},
	}
	if !p.MassDisconnection(players) {
		t.Error("reconnecting players count toward the threshold")
	}
}
