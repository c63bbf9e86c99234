package recovery

import (
	"math"
	"math/rand"
	"time"

	"github.com/freeeve/avalon-recovery/internal/model"
)

// jitterFraction is the width of the uniform jitter band around a backoff
// delay: ±20%.
const jitterFraction = 0.2

// warningFraction of the player timeout is when the timeout warning fires.
const warningFraction = 0.5

// ReconnectionPolicy centralizes all recovery timing math: backoff delays,
// timeout thresholds, and mass-disconnection detection. Keeping it in one
// place keeps magic numbers out of the coordinator.
type ReconnectionPolicy struct {
	backoff  model.BackoffConfig
	timeouts model.TimeoutConfig
	jitterFn func() float64
}

// NewReconnectionPolicy creates a policy from a room's configuration.
func NewReconnectionPolicy(cfg model.RecoveryConfiguration) *ReconnectionPolicy {
	return &ReconnectionPolicy{
		backoff:  cfg.Backoff,
		timeouts: cfg.Timeouts,
		jitterFn: rand.Float64,
	}
}

// BackoffDelay returns min(maxDelay, baseDelay * multiplier^attempt), with
// uniform ±20% jitter when enabled.
func (p *ReconnectionPolicy) BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.backoff.BaseDelay) * math.Pow(p.backoff.Multiplier, float64(attempt))
	if delay > float64(p.backoff.MaxDelay) {
		delay = float64(p.backoff.MaxDelay)
	}
	if p.backoff.Jitter {
		// Uniform in [1-jitterFraction, 1+jitterFraction).
		delay *= 1 - jitterFraction + 2*jitterFraction*p.jitterFn()
	}
	return time.Duration(delay)
}

// MaxAttempts returns the configured reconnection attempt cap.
func (p *ReconnectionPolicy) MaxAttempts() int {
	return p.backoff.MaxAttempts
}

// PlayerTimedOut reports whether a disconnected player has crossed the hard
// player timeout. Abandoned players never time out again.
func (p *ReconnectionPolicy) PlayerTimedOut(ps model.PlayerRecoveryState, now time.Time) bool {
	if ps.ConnectionState == model.ConnAbandoned || ps.DisconnectedAt == nil {
		return false
	}
	return now.Sub(*ps.DisconnectedAt) > p.timeouts.PlayerTimeout
}

// PlayerNeedsWarning reports whether a disconnected player has crossed the
// warning threshold but not yet the hard timeout.
func (p *ReconnectionPolicy) PlayerNeedsWarning(ps model.PlayerRecoveryState, now time.Time) bool {
	if ps.ConnectionState == model.ConnAbandoned || ps.DisconnectedAt == nil || ps.TimeoutWarning {
		return false
	}
	warnAt := time.Duration(float64(p.timeouts.PlayerTimeout) * warningFraction)
	elapsed := now.Sub(*ps.DisconnectedAt)
	return elapsed > warnAt && elapsed <= p.timeouts.PlayerTimeout
}

// ReconnectionTimedOut reports whether a reconnecting player has exceeded the
// reconnection window.
func (p *ReconnectionPolicy) ReconnectionTimedOut(ps model.PlayerRecoveryState, now time.Time) bool {
	if ps.ConnectionState != model.ConnReconnecting || ps.DisconnectedAt == nil {
		return false
	}
	return now.Sub(*ps.DisconnectedAt) > p.timeouts.ReconnectionTimeout
}

// PhaseTimedOut compares elapsed time against the per-phase timeout table.
// Phases absent from the table never time out.
func (p *ReconnectionPolicy) PhaseTimedOut(phase string, phaseStartedAt, now time.Time) bool {
	limit, ok := p.timeouts.PhaseTimeouts[phase]
	if !ok {
		return false
	}
	return now.Sub(phaseStartedAt) > limit
}

// MassDisconnection reports whether the fraction of players in
// disconnected/reconnecting states has reached the configured threshold.
func (p *ReconnectionPolicy) MassDisconnection(players map[string]model.PlayerRecoveryState) bool {
	if len(players) == 0 {
		return false
	}
	gone := 0
	for _, ps := range players {
		if ps.ConnectionState == model.ConnDisconnected || ps.ConnectionState == model.ConnReconnecting {
			gone++
		}
	}
	return float64(gone)/float64(len(players)) >= p.timeouts.MassDisconnectionThreshold
}

// setJitterFn overrides the jitter source in tests.
func (p *ReconnectionPolicy) setJitterFn(fn func() float64) {
	p.jitterFn = fn
}
