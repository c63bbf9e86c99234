package repository

import (
	"context"
	"time"

	"github.com/freeeve/avalon-recovery/internal/model"
)

// SnapshotStore persists versioned game-state snapshots. Backends: in-memory,
// Redis, Postgres.
//
// List returns restore candidates only: snapshots marked corrupted are
// excluded from listings but remain loadable by ID for diagnosis. Eviction is
// the only operation that silently deletes data.
type SnapshotStore interface {
	// Save persists a snapshot. Returns *model.StorageError on backend
	// failure or when the store is full and eviction cannot free space.
	Save(ctx context.Context, snapshot *model.GameStateSnapshot) error

	// Load retrieves a snapshot by ID, including corrupted ones.
	// Returns model.ErrSnapshotNotFound if absent.
	Load(ctx context.Context, snapshotID string) (*model.GameStateSnapshot, error)

	// List returns restore-candidate metadata for a room, most recent
	// version first. Corrupted snapshots are excluded.
	List(ctx context.Context, roomCode string) ([]model.SnapshotInfo, error)

	// Delete removes a snapshot. Returns model.ErrSnapshotNotFound if absent.
	Delete(ctx context.Context, snapshotID string) error

	// MarkCorrupted flags a snapshot so it no longer appears as a restore
	// candidate. The snapshot itself is preserved.
	MarkCorrupted(ctx context.Context, snapshotID string) error

	// MaxVersion returns the highest snapshot version ever stored for a
	// room, including corrupted snapshots, or 0 when the room has none.
	// Version counters resume from this after a restart.
	MaxVersion(ctx context.Context, roomCode string) (int64, error)

	// EvictExpired removes snapshots for a room older than maxAge or beyond
	// maxCount, always preserving the most recent snapshot and any flagged
	// as critical-action. Returns the number evicted.
	EvictExpired(ctx context.Context, roomCode string, maxAge time.Duration, maxCount int) (int, error)

	// DeleteRoom removes all snapshots for a room (on room close).
	DeleteRoom(ctx context.Context, roomCode string) error
}
