package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/avalon-recovery/internal/model"
	"github.com/freeeve/avalon-recovery/internal/repository"
)

// Manager owns the arena of per-room coordinators. Coordinators are created
// at room start and torn down at room close; closing a room cancels all of
// its scheduled timers.
type Manager struct {
	mu       sync.RWMutex
	rooms    map[string]*Coordinator
	store    repository.SnapshotStore
	tokens   *TokenManager
	provider StateProvider
	notifier Notifier
}

// NewManager creates a Manager.
func NewManager(store repository.SnapshotStore, tokens *TokenManager, provider StateProvider, notifier Notifier) *Manager {
	return &Manager{
		rooms:    make(map[string]*Coordinator),
		store:    store,
		tokens:   tokens,
		provider: provider,
		notifier: notifier,
	}
}

// CreateRoom starts a coordinator for a new room.
func (m *Manager) CreateRoom(roomCode string, cfg model.RecoveryConfiguration) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[roomCode]; exists {
		return nil, fmt.Errorf("room %s already exists", roomCode)
	}
	c := NewCoordinator(roomCode, cfg, m.store, m.tokens, m.provider, m.notifier)
	m.rooms[roomCode] = c
	log.Info().Str("roomCode", roomCode).Msg("Recovery coordinator started")
	return c, nil
}

// Get returns the coordinator for a room.
func (m *Manager) Get(roomCode string) (*Coordinator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.rooms[roomCode]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	return c, nil
}

// CloseRoom stops a room's coordinator and deletes its persisted snapshots.
func (m *Manager) CloseRoom(ctx context.Context, roomCode string) error {
	m.mu.Lock()
	c, ok := m.rooms[roomCode]
	if ok {
		delete(m.rooms, roomCode)
	}
	m.mu.Unlock()

	if !ok {
		return model.ErrRoomNotFound
	}
	c.Close()
	if err := m.store.DeleteRoom(ctx, roomCode); err != nil {
		return fmt.Errorf("delete room snapshots: %w", err)
	}
	log.Info().Str("roomCode", roomCode).Msg("Recovery coordinator stopped")
	return nil
}

// CloseAll stops every coordinator. Persisted snapshots are kept so rooms
// can resume after a restart.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Coordinator)
	m.mu.Unlock()

	for code, c := range rooms {
		c.Close()
		log.Info().Str("roomCode", code).Msg("Recovery coordinator stopped")
	}
}

// RoomCount returns the number of live coordinators.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
