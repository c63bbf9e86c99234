package model

import (
	"encoding/json"
	"time"
)

// ConnectionState tracks where a player is in the disconnect/reconnect lifecycle.
type ConnectionState string

const (
	ConnConnected    ConnectionState = "connected"
	ConnDisconnected ConnectionState = "disconnected"
	ConnReconnecting ConnectionState = "reconnecting"
	ConnAbandoned    ConnectionState = "abandoned"
	ConnBotReplaced  ConnectionState = "bot_replaced"
)

// RoomStatus is the room-level recovery state machine status.
type RoomStatus string

const (
	StatusStable       RoomStatus = "stable"
	StatusSaving       RoomStatus = "saving"
	StatusRecovering   RoomStatus = "recovering"
	StatusReconnecting RoomStatus = "reconnecting"
	StatusFailed       RoomStatus = "failed"
	StatusTimeout      RoomStatus = "timeout"
	StatusAbandoned    RoomStatus = "abandoned"
)

// SnapshotTrigger records what caused a snapshot to be taken.
type SnapshotTrigger string

const (
	TriggerTimer  SnapshotTrigger = "timer"
	TriggerAction SnapshotTrigger = "action"
	TriggerManual SnapshotTrigger = "manual"
)

// SnapshotMetadata carries the cheap-to-check facts about a snapshot.
type SnapshotMetadata struct {
	CreatedBy         SnapshotTrigger `json:"created_by"`
	GamePhase         string          `json:"game_phase"`
	PlayerCount       int             `json:"player_count"`
	ActiveConnections int             `json:"active_connections"`
	CriticalAction    bool            `json:"critical_action"`
	ValidationHash    string          `json:"validation_hash"`
}

// GameStateSnapshot is an immutable, versioned capture of a room's game state.
// GameState is opaque to the recovery engine; the rules engine owns its shape.
type GameStateSnapshot struct {
	ID           string                         `json:"id"`
	RoomCode     string                         `json:"room_code"`
	Timestamp    time.Time                      `json:"timestamp"`
	Version      int64                          `json:"version"`
	Checksum     string                         `json:"checksum"`
	GameState    json.RawMessage                `json:"game_state"`
	PlayerStates map[string]PlayerRecoveryState `json:"player_states,omitempty"`
	Metadata     SnapshotMetadata               `json:"metadata"`
	Corrupted    bool                           `json:"corrupted,omitempty"`
}

// Info returns the listing view of the snapshot, without the state payload.
func (s *GameStateSnapshot) Info() SnapshotInfo {
	return SnapshotInfo{
		ID:             s.ID,
		RoomCode:       s.RoomCode,
		Version:        s.Version,
		Timestamp:      s.Timestamp,
		Checksum:       s.Checksum,
		CreatedBy:      s.Metadata.CreatedBy,
		CriticalAction: s.Metadata.CriticalAction,
		Corrupted:      s.Corrupted,
	}
}

// SnapshotInfo is the listing metadata for a snapshot.
type SnapshotInfo struct {
	ID             string          `json:"id"`
	RoomCode       string          `json:"room_code"`
	Version        int64           `json:"version"`
	Timestamp      time.Time       `json:"timestamp"`
	Checksum       string          `json:"checksum"`
	CreatedBy      SnapshotTrigger `json:"created_by"`
	CriticalAction bool            `json:"critical_action"`
	Corrupted      bool            `json:"corrupted,omitempty"`
}

// PendingAction is an action a player submitted while disconnected, held
// until conflict resolution on reconnect.
type PendingAction struct {
	ID          string          `json:"id"`
	PlayerID    string          `json:"player_id"`
	Type        string          `json:"type"`
	TargetID    string          `json:"target_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// DroppedAction pairs a rejected pending action with the reason it was dropped.
type DroppedAction struct {
	Action PendingAction `json:"action"`
	Reason string        `json:"reason"`
}

// ResolvedActionSet is the outcome of reconciling a reconnecting player's
// queued actions against the authoritative state.
type ResolvedActionSet struct {
	Applied []PendingAction `json:"applied"`
	Dropped []DroppedAction `json:"dropped,omitempty"`
}

// AuthoritativeDelta describes what changed in the room while a player was
// away: targets that no longer accept actions, with the reason each was
// superseded, and the phase the room is in now.
type AuthoritativeDelta struct {
	SupersededTargets map[string]string `json:"superseded_targets,omitempty"`
	CurrentPhase      string            `json:"current_phase"`
	Since             time.Time         `json:"since"`
}

// PlayerRecoveryState is the per-player recovery record inside a room.
// RecoveryToken is never serialized; it travels to the player out of band.
type PlayerRecoveryState struct {
	PlayerID             string          `json:"player_id"`
	ConnectionState      ConnectionState `json:"connection_state"`
	LastSeen             time.Time       `json:"last_seen"`
	DisconnectedAt       *time.Time      `json:"disconnected_at,omitempty"`
	ReconnectionAttempts int             `json:"reconnection_attempts"`
	RecoveryToken        string          `json:"-"`
	BotReplaced          bool            `json:"bot_replaced"`
	TimeoutWarning       bool            `json:"timeout_warning"`
	PendingActions       []PendingAction `json:"pending_actions,omitempty"`
}

// RecoveryErrorType classifies entries in a room's error history.
type RecoveryErrorType string

const (
	ErrTypeSave       RecoveryErrorType = "save"
	ErrTypeRestore    RecoveryErrorType = "restore"
	ErrTypeReconnect  RecoveryErrorType = "reconnect"
	ErrTypeValidation RecoveryErrorType = "validation"
	ErrTypeCorruption RecoveryErrorType = "corruption"
)

// RecoveryError is one entry in a room's error history.
type RecoveryError struct {
	ID         string            `json:"id"`
	Type       RecoveryErrorType `json:"type"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	Severity   string            `json:"severity"` // info, warning, error, critical
	Context    map[string]string `json:"context,omitempty"`
	Recovered  bool              `json:"recovered"`
	RetryCount int               `json:"retry_count"`
}

// RecoveryState is the authoritative recovery view of one room. A single
// coordinator owns and mutates it; everyone else gets copies.
type RecoveryState struct {
	RoomCode           string                         `json:"room_code"`
	Status             RoomStatus                     `json:"status"`
	Phase              string                         `json:"phase,omitempty"`
	Progress           int                            `json:"progress"`
	CurrentSnapshot    *SnapshotInfo                  `json:"current_snapshot,omitempty"`
	AvailableSnapshots []SnapshotInfo                 `json:"available_snapshots,omitempty"`
	PlayerStates       map[string]PlayerRecoveryState `json:"player_states"`
	ErrorHistory       []RecoveryError                `json:"error_history,omitempty"`
	LastSuccessfulSave *time.Time                     `json:"last_successful_save,omitempty"`
	NextScheduledSave  *time.Time                     `json:"next_scheduled_save,omitempty"`
}

// Clone returns a deep copy safe to hand outside the coordinator.
func (s *RecoveryState) Clone() RecoveryState {
	cp := *s
	cp.PlayerStates = make(map[string]PlayerRecoveryState, len(s.PlayerStates))
	for id, ps := range s.PlayerStates {
		psCopy := ps
		psCopy.PendingActions = append([]PendingAction(nil), ps.PendingActions...)
		cp.PlayerStates[id] = psCopy
	}
	cp.AvailableSnapshots = append([]SnapshotInfo(nil), s.AvailableSnapshots...)
	cp.ErrorHistory = append([]RecoveryError(nil), s.ErrorHistory...)
	if s.CurrentSnapshot != nil {
		snap := *s.CurrentSnapshot
		cp.CurrentSnapshot = &snap
	}
	if s.LastSuccessfulSave != nil {
		t := *s.LastSuccessfulSave
		cp.LastSuccessfulSave = &t
	}
	if s.NextScheduledSave != nil {
		t := *s.NextScheduledSave
		cp.NextScheduledSave = &t
	}
	return cp
}

// Notification is the record the UI layer renders for each recovery event.
type Notification struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"` // success, warning, error, info
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	PlayerID    string    `json:"player_id,omitempty"`
	Dismissible bool      `json:"dismissible"`
	Actions     []string  `json:"actions,omitempty"` // "retry", "reset", "reload"
}

// RecoveryMetrics is a read-only aggregate of coordinator activity.
type RecoveryMetrics struct {
	TotalSaves              int64         `json:"total_saves"`
	TotalRestores           int64         `json:"total_restores"`
	TotalReconnections      int64         `json:"total_reconnections"`
	FailedSaves             int64         `json:"failed_saves"`
	FailedRestores          int64         `json:"failed_restores"`
	FailedReconnections     int64         `json:"failed_reconnections"`
	CorruptionsDetected     int64         `json:"corruptions_detected"`
	PlayerTimeouts          int64         `json:"player_timeouts"`
	AverageSaveTime         time.Duration `json:"average_save_time"`
	AverageRestoreTime      time.Duration `json:"average_restore_time"`
	AverageReconnectionTime time.Duration `json:"average_reconnection_time"`
	FailureRate             float64       `json:"failure_rate"`
	CorruptionRate          float64       `json:"corruption_rate"`
	TimeoutRate             float64       `json:"timeout_rate"`
	LastUpdated             time.Time     `json:"last_updated"`
}
