package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/avalon-recovery/internal/model"
	"github.com/freeeve/avalon-recovery/internal/recovery"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second // Must be less than pongWait
	maxMsgSize  = 8192
	sendBufSize = 256

	eventTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS handled by middleware; tighten in production
	},
}

// WSHandler is the connection layer: it feeds connect/disconnect/reconnect
// events into the per-room coordinators and carries notifications back out.
type WSHandler struct {
	hub     *Hub
	manager *recovery.Manager
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(hub *Hub, manager *recovery.Manager) *WSHandler {
	return &WSHandler{hub: hub, manager: manager}
}

// ServeWS handles GET /api/v1/ws?room=CODE&player=ID[&token=...] — upgrades
// to WebSocket. A token parameter means this is a reconnect attempt.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("room")
	playerID := r.URL.Query().Get("player")
	if roomCode == "" || playerID == "" {
		http.Error(w, `{"error":"missing room or player parameter"}`, http.StatusBadRequest)
		return
	}

	coord, err := h.manager.Get(roomCode)
	if err != nil {
		http.Error(w, `{"error":"room not found"}`, http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), eventTimeout)
	defer cancel()

	// Either path leaves recoveryToken holding the credential for the NEXT
	// disconnect window. It must reach the client over this socket; once the
	// connection drops there is no channel left to deliver it.
	var playerState model.PlayerRecoveryState
	var recoveryToken string
	if token := r.URL.Query().Get("token"); token != "" {
		playerState, err = coord.HandleReconnectAttempt(ctx, playerID, token)
		if err != nil {
			if _, ok := err.(*model.ConflictError); !ok {
				http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusUnauthorized)
				return
			}
			// Batch rejected in strict mode; the session itself resumed.
		}
		recoveryToken = playerState.RecoveryToken
	} else {
		recoveryToken, err = coord.HandleConnect(ctx, playerID)
		if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusServiceUnavailable)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &WSConn{
		conn:     conn,
		playerID: playerID,
		roomCode: roomCode,
		send:     make(chan []byte, sendBufSize),
	}
	h.hub.Register(client)

	// The state struct never serializes the token; it travels here explicitly.
	welcomeData := map[string]any{"player_state": playerState}
	if recoveryToken != "" {
		welcomeData["recovery_token"] = recoveryToken
	}
	welcome, _ := json.Marshal(WSEvent{
		Type:     EventConnected,
		RoomCode: roomCode,
		Data:     welcomeData,
	})
	client.send <- welcome

	go h.writePump(client)
	go h.readPump(client, coord)

	log.Info().Str("playerId", playerID).Str("roomCode", roomCode).
		Int("total", h.hub.ConnectionCount()).Msg("WebSocket client connected")
}

// readPump reads messages from the WebSocket connection.
func (h *WSHandler) readPump(c *WSConn, coord *recovery.Coordinator) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		h.notifyDisconnect(c, coord)
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("playerId", c.playerID).Msg("WebSocket unexpected close")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.handleClientMessage(c, coord, msg)
	}
}

func (h *WSHandler) handleClientMessage(c *WSConn, coord *recovery.Coordinator, msg ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch msg.Action {
	case "submit_action":
		var action model.PendingAction
		if err := json.Unmarshal(msg.GameData, &action); err != nil {
			return
		}
		if err := coord.SubmitActionWhileDisconnected(ctx, c.playerID, action); err != nil {
			log.Debug().Err(err).Str("playerId", c.playerID).Msg("Pending action rejected")
		}
	}
}

// notifyDisconnect feeds the disconnect into the coordinator. The recovery
// token was already delivered in the welcome event; by the time we get here
// the player has no socket left to send anything on.
func (h *WSHandler) notifyDisconnect(c *WSConn, coord *recovery.Coordinator) {
	// A surviving connection for the same player (new socket already open,
	// second tab) means this is not a real disconnect.
	if h.hub.PlayerConnectionCount(c.playerID) > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if _, err := coord.HandleDisconnect(ctx, c.playerID); err != nil {
		log.Warn().Err(err).Str("playerId", c.playerID).Msg("Disconnect handling failed")
		return
	}
	log.Info().Str("playerId", c.playerID).Str("roomCode", c.roomCode).Msg("WebSocket client disconnected")
}

// writePump writes messages to the WebSocket connection.
func (h *WSHandler) writePump(c *WSConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
