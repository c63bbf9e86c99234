package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/avalon-recovery/internal/model"
)

// Event types sent over WebSocket.
const (
	EventConnected     = "connected"
	EventNotification  = "notification"
	EventRecoveryState = "recovery_state"
)

// WSEvent is the envelope for all WebSocket messages.
type WSEvent struct {
	Type     string `json:"type"`
	RoomCode string `json:"room_code"`
	Data     any    `json:"data"`
}

// ClientMessage is the envelope for messages sent from the client.
// Reconnects go through the upgrade query parameters, not in-band.
type ClientMessage struct {
	Action   string          `json:"action"` // submit_action
	GameData json.RawMessage `json:"data,omitempty"`
}

// WSConn wraps a WebSocket connection with its player and room.
type WSConn struct {
	conn     *websocket.Conn
	playerID string
	roomCode string
	send     chan []byte
}

// Hub manages WebSocket connections and room-channel subscriptions.
type Hub struct {
	mu          sync.RWMutex
	connections map[*WSConn]bool
	rooms       map[string]map[*WSConn]bool // roomCode -> set of connections
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*WSConn]bool),
		rooms:       make(map[string]map[*WSConn]bool),
	}
}

// Register adds a connection to the hub and its room channel.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
	if h.rooms[c.roomCode] == nil {
		h.rooms[c.roomCode] = make(map[*WSConn]bool)
	}
	h.rooms[c.roomCode][c] = true
}

// Unregister removes a connection from the hub and its room channel.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connections[c] {
		return
	}
	delete(h.connections, c)
	if conns, ok := h.rooms[c.roomCode]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, c.roomCode)
		}
	}
	close(c.send)
}

// BroadcastToRoom sends an event to all connections in a room.
func (h *Hub) BroadcastToRoom(roomCode string, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("roomCode", roomCode).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[roomCode] {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("playerId", c.playerID).Str("roomCode", roomCode).Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// BroadcastToPlayer sends an event to a specific player across all their connections.
func (h *Hub) BroadcastToPlayer(playerID string, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("playerId", playerID).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.connections {
		if c.playerID == playerID {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

// Notify implements recovery.Notifier using the WebSocket hub. Player-scoped
// notifications also go to the affected player directly, so they see them
// even before rejoining the room channel.
func (h *Hub) Notify(roomCode string, n model.Notification) {
	event := WSEvent{Type: EventNotification, RoomCode: roomCode, Data: n}
	h.BroadcastToRoom(roomCode, event)
	if n.PlayerID != "" {
		h.BroadcastToPlayer(n.PlayerID, event)
	}
}

// PlayerConnectionCount returns the number of live connections for a player.
func (h *Hub) PlayerConnectionCount(playerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.connections {
		if c.playerID == playerID {
			n++
		}
	}
	return n
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RoomSubscriberCount returns the number of connections in a room.
func (h *Hub) RoomSubscriberCount(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomCode])
}
