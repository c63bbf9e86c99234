package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/freeeve/avalon-recovery/internal/model"
	"github.com/freeeve/avalon-recovery/internal/recovery"
	"github.com/freeeve/avalon-recovery/internal/repository/memory"
)

func newWSTestServer(t *testing.T) (*httptest.Server, *recovery.Manager) {
	t.Helper()

	store := memory.NewStore()
	tokens := recovery.NewTokenManager("test-secret", time.Minute)
	hub := NewHub()
	manager := recovery.NewManager(store, tokens, stubProvider{}, hub)
	t.Cleanup(manager.CloseAll)

	wsHandler := NewWSHandler(hub, manager)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", wsHandler.ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, manager
}

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWelcomeToken(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event WSEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if event.Type != EventConnected {
		t.Fatalf("first event type = %s, want %s", event.Type, EventConnected)
	}
	data, ok := event.Data.(map[string]any)
	if !ok {
		t.Fatalf("welcome data = %T, want object", event.Data)
	}
	token, _ := data["recovery_token"].(string)
	return token
}

func TestServeWSWelcomeDeliversRecoveryToken(t *testing.T) {
	srv, manager := newWSTestServer(t)
	if _, err := manager.CreateRoom("ROOM", model.DefaultRecoveryConfiguration()); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	conn := dialWS(t, srv, "room=ROOM&player=p1")
	token := readWelcomeToken(t, conn)
	if token == "" {
		t.Fatal("welcome event must carry the next-window recovery token")
	}

	// Drop the socket and wait for the disconnect to land.
	conn.Close()
	coord, err := manager.Get("ROOM")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		state, err := coord.State(context.Background())
		if err != nil {
			t.Fatalf("State: %v", err)
		}
		if state.PlayerStates["p1"].ConnectionState == model.ConnDisconnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("disconnect never reached the coordinator")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The token delivered before the drop resumes the session end to end.
	reconn := dialWS(t, srv, "room=ROOM&player=p1&token="+token)
	next := readWelcomeToken(t, reconn)
	if next == "" {
		t.Fatal("reconnect welcome must carry a fresh recovery token")
	}
	if next == token {
		t.Error("reconnect must rotate the recovery token")
	}
}

func TestServeWSRejectsBadToken(t *testing.T) {
	srv, manager := newWSTestServer(t)
	if _, err := manager.CreateRoom("ROOM", model.DefaultRecoveryConfiguration()); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room=ROOM&player=p1&token=bogus"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("bad token must refuse the upgrade")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 refusal, got %+v", resp)
	}
}
