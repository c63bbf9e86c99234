package model

import "time"

// BackoffConfig controls reconnection retry timing.
type BackoffConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Multiplier  float64       `json:"multiplier"`
	Jitter      bool          `json:"jitter"`
	GracePeriod time.Duration `json:"grace_period"`
}

// TimeoutConfig holds the timeout thresholds for a room.
type TimeoutConfig struct {
	PlayerTimeout              time.Duration            `json:"player_timeout"`
	PhaseTimeouts              map[string]time.Duration `json:"phase_timeouts,omitempty"`
	ReconnectionTimeout        time.Duration            `json:"reconnection_timeout"`
	AbandonmentTimeout         time.Duration            `json:"abandonment_timeout"`
	MassDisconnectionThreshold float64                  `json:"mass_disconnection_threshold"`
	PauseOnMassDisconnection   bool                     `json:"pause_on_mass_disconnection"`
}

// ValidationConfig holds integrity-checking flags.
type ValidationConfig struct {
	Checksums            bool `json:"checksums"`
	StateValidation      bool `json:"state_validation"`
	ActionValidation     bool `json:"action_validation"`
	StrictMode           bool `json:"strict_mode"`
	MaxValidationRetries int  `json:"max_validation_retries"`
}

// RecoveryConfiguration is the per-room recovery policy, set at room creation
// and updatable by the host.
type RecoveryConfiguration struct {
	AutoSaveInterval time.Duration    `json:"auto_save_interval"`
	MaxSnapshots     int              `json:"max_snapshots"`
	SnapshotMaxAge   time.Duration    `json:"snapshot_max_age"`
	Compression      bool             `json:"compression"`
	MaxSaveRetries   int              `json:"max_save_retries"`
	BotReplacement   bool             `json:"bot_replacement"`
	Backoff          BackoffConfig    `json:"backoff"`
	Timeouts         TimeoutConfig    `json:"timeouts"`
	Validation       ValidationConfig `json:"validation"`
}

// DefaultRecoveryConfiguration returns the baseline policy a room starts with.
func DefaultRecoveryConfiguration() RecoveryConfiguration {
	return RecoveryConfiguration{
		AutoSaveInterval: 30 * time.Second,
		MaxSnapshots:     10,
		SnapshotMaxAge:   30 * time.Minute,
		MaxSaveRetries:   3,
		Backoff: BackoffConfig{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
			Jitter:      true,
			GracePeriod: 2 * time.Minute,
		},
		Timeouts: TimeoutConfig{
			PlayerTimeout:              5 * time.Minute,
			ReconnectionTimeout:        2 * time.Minute,
			AbandonmentTimeout:         10 * time.Minute,
			MassDisconnectionThreshold: 0.5,
			PauseOnMassDisconnection:   true,
		},
		Validation: ValidationConfig{
			Checksums:            true,
			StateValidation:      true,
			ActionValidation:     true,
			MaxValidationRetries: 2,
		},
	}
}

// ConfigurationPatch is a partial configuration update; nil fields are left
// unchanged.
type ConfigurationPatch struct {
	AutoSaveInterval *time.Duration    `json:"auto_save_interval,omitempty"`
	MaxSnapshots     *int              `json:"max_snapshots,omitempty"`
	SnapshotMaxAge   *time.Duration    `json:"snapshot_max_age,omitempty"`
	Compression      *bool             `json:"compression,omitempty"`
	MaxSaveRetries   *int              `json:"max_save_retries,omitempty"`
	BotReplacement   *bool             `json:"bot_replacement,omitempty"`
	Backoff          *BackoffConfig    `json:"backoff,omitempty"`
	Timeouts         *TimeoutConfig    `json:"timeouts,omitempty"`
	Validation       *ValidationConfig `json:"validation,omitempty"`
}

// Apply merges the patch into the configuration.
func (p ConfigurationPatch) Apply(cfg RecoveryConfiguration) RecoveryConfiguration {
	if p.AutoSaveInterval != nil {
		cfg.AutoSaveInterval = *p.AutoSaveInterval
	}
	if p.MaxSnapshots != nil {
		cfg.MaxSnapshots = *p.MaxSnapshots
	}
	if p.SnapshotMaxAge != nil {
		cfg.SnapshotMaxAge = *p.SnapshotMaxAge
	}
	if p.Compression != nil {
		cfg.Compression = *p.Compression
	}
	if p.MaxSaveRetries != nil {
		cfg.MaxSaveRetries = *p.MaxSaveRetries
	}
	if p.BotReplacement != nil {
		cfg.BotReplacement = *p.BotReplacement
	}
	if p.Backoff != nil {
		cfg.Backoff = *p.Backoff
	}
	if p.Timeouts != nil {
		cfg.Timeouts = *p.Timeouts
	}
	if p.Validation != nil {
		cfg.Validation = *p.Validation
	}
	return cfg
}
