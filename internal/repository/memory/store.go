// Package memory provides an in-memory SnapshotStore used in tests and
// single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/freeeve/avalon-recovery/internal/model"
)

const defaultCapacity = 1000

// Store is an in-memory snapshot store. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]*model.GameStateSnapshot
	rooms     map[string][]string // snapshot IDs per room, version ascending
	capacity  int
}

// NewStore creates a Store with the default capacity.
func NewStore() *Store {
	return NewStoreWithCapacity(defaultCapacity)
}

// NewStoreWithCapacity creates a Store holding at most capacity snapshots total.
func NewStoreWithCapacity(capacity int) *Store {
	return &Store{
		snapshots: make(map[string]*model.GameStateSnapshot),
		rooms:     make(map[string][]string),
		capacity:  capacity,
	}
}

// Save persists a snapshot. Snapshots are immutable: saving an existing ID fails.
func (s *Store) Save(_ context.Context, snapshot *model.GameStateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.snapshots[snapshot.ID]; exists {
		return &model.StorageError{Kind: model.StorageIOFailure, Err: fmt.Errorf("snapshot %s already exists", snapshot.ID)}
	}
	if len(s.snapshots) >= s.capacity {
		if !s.evictOneLocked(snapshot.RoomCode) {
			return &model.StorageError{Kind: model.StorageCapacity, Err: fmt.Errorf("store full at %d snapshots", s.capacity)}
		}
	}

	cp := cloneSnapshot(snapshot)
	s.snapshots[cp.ID] = cp
	ids := append(s.rooms[cp.RoomCode], cp.ID)
	sort.Slice(ids, func(i, j int) bool {
		return s.snapshots[ids[i]].Version < s.snapshots[ids[j]].Version
	})
	s.rooms[cp.RoomCode] = ids
	return nil
}

// Load retrieves a snapshot by ID, corrupted or not.
func (s *Store) Load(_ context.Context, snapshotID string) (*model.GameStateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return nil, model.ErrSnapshotNotFound
	}
	return cloneSnapshot(snap), nil
}

// List returns restore candidates for a room, most recent version first.
func (s *Store) List(_ context.Context, roomCode string) ([]model.SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.rooms[roomCode]
	infos := make([]model.SnapshotInfo, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		snap := s.snapshots[ids[i]]
		if snap.Corrupted {
			continue
		}
		infos = append(infos, snap.Info())
	}
	return infos, nil
}

// MaxVersion returns the highest version stored for a room, corrupted
// snapshots included.
func (s *Store) MaxVersion(_ context.Context, roomCode string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.rooms[roomCode]
	if len(ids) == 0 {
		return 0, nil
	}
	return s.snapshots[ids[len(ids)-1]].Version, nil
}

// Delete removes a snapshot by ID.
func (s *Store) Delete(_ context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return model.ErrSnapshotNotFound
	}
	s.removeLocked(snap)
	return nil
}

// MarkCorrupted flags a snapshot as corrupted, excluding it from listings.
func (s *Store) MarkCorrupted(_ context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return model.ErrSnapshotNotFound
	}
	snap.Corrupted = true
	return nil
}

// EvictExpired removes snapshots older than maxAge or beyond maxCount,
// keeping the most recent snapshot and all critical-action snapshots.
func (s *Store) EvictExpired(_ context.Context, roomCode string, maxAge time.Duration, maxCount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.rooms[roomCode]
	if len(ids) == 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	newest := ids[len(ids)-1]
	evicted := 0

	// Walk oldest first so the count cap trims oldest non-critical entries.
	for _, id := range append([]string(nil), ids...) {
		snap := s.snapshots[id]
		if id == newest || snap.Metadata.CriticalAction {
			continue
		}
		overAge := maxAge > 0 && snap.Timestamp.Before(cutoff)
		overCount := maxCount > 0 && len(s.rooms[roomCode]) > maxCount
		if overAge || overCount {
			s.removeLocked(snap)
			evicted++
		}
	}
	return evicted, nil
}

// DeleteRoom removes all snapshots for a room.
func (s *Store) DeleteRoom(_ context.Context, roomCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.rooms[roomCode] {
		delete(s.snapshots, id)
	}
	delete(s.rooms, roomCode)
	return nil
}

// evictOneLocked frees one slot by dropping the oldest non-critical,
// non-newest snapshot of the given room. Reports whether a slot was freed.
func (s *Store) evictOneLocked(roomCode string) bool {
	ids := s.rooms[roomCode]
	if len(ids) < 2 {
		return false
	}
	newest := ids[len(ids)-1]
	for _, id := range ids {
		snap := s.snapshots[id]
		if id == newest || snap.Metadata.CriticalAction {
			continue
		}
		s.removeLocked(snap)
		return true
	}
	return false
}

func (s *Store) removeLocked(snap *model.GameStateSnapshot) {
	delete(s.snapshots, snap.ID)
	ids := s.rooms[snap.RoomCode]
	for i, id := range ids {
		if id == snap.ID {
			s.rooms[snap.RoomCode] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.rooms[snap.RoomCode]) == 0 {
		delete(s.rooms, snap.RoomCode)
	}
}

func cloneSnapshot(snap *model.GameStateSnapshot) *model.GameStateSnapshot {
	cp := *snap
	cp.GameState = append([]byte(nil), snap.GameState...)
	if snap.PlayerStates != nil {
		cp.PlayerStates = make(map[string]model.PlayerRecoveryState, len(snap.PlayerStates))
		for id, ps := range snap.PlayerStates {
			psCopy := ps
			psCopy.PendingActions = append([]model.PendingAction(nil), ps.PendingActions...)
			cp.PlayerStates[id] = psCopy
		}
	}
	return &cp
}
