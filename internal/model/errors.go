package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomClosed       = errors.New("room is closed")
	ErrPlayerNotFound   = errors.New("player not found")
)

// StorageErrorKind distinguishes retryable storage failures.
type StorageErrorKind string

const (
	StorageCapacity  StorageErrorKind = "capacity"
	StorageIOFailure StorageErrorKind = "io_failure"
)

// StorageError wraps a snapshot store failure. Storage errors are retryable.
type StorageError struct {
	Kind StorageErrorKind
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError reports a checksum or state integrity failure. Not
// retryable for the same snapshot; the room can continue from an earlier
// valid one.
type ValidationError struct {
	SnapshotID string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("snapshot %s failed validation: %s", e.SnapshotID, e.Reason)
}

// ReconnectionError is terminal for one player's session, never for the room.
type ReconnectionError struct {
	PlayerID string
	Reason   string
}

func (e *ReconnectionError) Error() string {
	return fmt.Sprintf("reconnection failed for player %s: %s", e.PlayerID, e.Reason)
}

// ConflictError is a strict-mode rejection of a reconnecting player's entire
// action batch. Scoped to that batch only.
type ConflictError struct {
	PlayerID string
	Dropped  []DroppedAction
}

func (e *ConflictError) Error() string {
	reasons := make([]string, len(e.Dropped))
	for i, d := range e.Dropped {
		reasons[i] = d.Reason
	}
	return fmt.Sprintf("action batch for player %s rejected: %s", e.PlayerID, strings.Join(reasons, "; "))
}
