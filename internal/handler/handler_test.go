package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/avalon-recovery/internal/model"
	"github.com/freeeve/avalon-recovery/internal/recovery"
	"github.com/freeeve/avalon-recovery/internal/repository/memory"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// stubProvider is a fixed-state rules engine for handler tests.
type stubProvider struct{}

func (stubProvider) CurrentState(context.Context, string) (json.RawMessage, string, error) {
	return json.RawMessage(`{"quest":1}`), "team_vote", nil
}

func (stubProvider) DeltaSince(_ context.Context, _ string, since time.Time) (model.AuthoritativeDelta, error) {
	return model.AuthoritativeDelta{Since: since}, nil
}

func (stubProvider) ApplyActions(context.Context, string, []model.PendingAction) error {
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := memory.NewStore()
	tokens := recovery.NewTokenManager("test-secret", time.Minute)
	manager := recovery.NewManager(store, tokens, stubProvider{}, recovery.NoopNotifier{})
	t.Cleanup(manager.CloseAll)

	h := NewRecoveryHandler(manager)
	api := http.NewServeMux()
	api.HandleFunc("POST /rooms", h.CreateRoom)
	api.HandleFunc("DELETE /rooms/{code}", h.CloseRoom)
	api.HandleFunc("POST /rooms/{code}/save", h.RequestSave)
	api.HandleFunc("POST /rooms/{code}/restore", h.RequestRestore)
	api.HandleFunc("GET /rooms/{code}/recovery", h.GetState)
	api.HandleFunc("GET /rooms/{code}/metrics", h.GetMetrics)
	api.HandleFunc("PATCH /rooms/{code}/recovery/config", h.UpdateConfig)

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreateRoomAndGetState(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/rooms", map[string]string{"room_code": "ROOM"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/rooms/ROOM/recovery", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get state status = %d, want 200", resp.StatusCode)
	}
	var state model.RecoveryState
	decodeBody(t, resp, &state)
	if state.RoomCode != "ROOM" || state.Status != model.StatusStable {
		t.Errorf("state = %s/%s, want ROOM/stable", state.RoomCode, state.Status)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/rooms", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing room_code status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/rooms", map[string]string{"room_code": "ROOM"})
	resp.Body.Close()
	resp = doJSON(t, http.MethodPost, srv.URL+"/rooms", map[string]string{"room_code": "ROOM"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate room status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSaveAndRestoreEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/rooms", map[string]string{"room_code": "ROOM"})
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/rooms/ROOM/save", map[string]string{"reason": "manual"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d, want 200", resp.StatusCode)
	}
	var info model.SnapshotInfo
	decodeBody(t, resp, &info)
	if info.Version != 1 {
		t.Errorf("snapshot version = %d, want 1", info.Version)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/rooms/ROOM/restore", map[string]string{"snapshot_id": info.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restore status = %d, want 200", resp.StatusCode)
	}
	var snap model.GameStateSnapshot
	decodeBody(t, resp, &snap)
	if snap.ID != info.ID {
		t.Errorf("restored snapshot = %s, want %s", snap.ID, info.ID)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/rooms/ROOM/restore", map[string]string{"snapshot_id": "missing"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing snapshot status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRoomNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/rooms/NOPE/recovery", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/rooms", map[string]string{"room_code": "ROOM"})
	resp.Body.Close()
	resp = doJSON(t, http.MethodPost, srv.URL+"/rooms/ROOM/save", nil)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/rooms/ROOM/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
	var m model.RecoveryMetrics
	decodeBody(t, resp, &m)
	if m.TotalSaves != 1 {
		t.Errorf("total saves = %d, want 1", m.TotalSaves)
	}
}

func TestUpdateConfigEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/rooms", map[string]string{"room_code": "ROOM"})
	resp.Body.Close()

	resp = doJSON(t, http.MethodPatch, srv.URL+"/rooms/ROOM/recovery/config",
		map[string]any{"auto_save_interval": int64(time.Hour)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update config status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCloseRoomEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/rooms", map[string]string{"room_code": "ROOM"})
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, srv.URL+"/rooms/ROOM", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, srv.URL+"/rooms/ROOM", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("double close status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}
