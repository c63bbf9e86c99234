package handler

import (
	"errors"
	"net/http"

	"github.com/freeeve/avalon-recovery/internal/logger"
	"github.com/freeeve/avalon-recovery/internal/model"
	"github.com/freeeve/avalon-recovery/internal/recovery"
)

// RecoveryHandler exposes the recovery engine over HTTP for the UI layer and
// the rules engine.
type RecoveryHandler struct {
	manager *recovery.Manager
}

// NewRecoveryHandler creates a RecoveryHandler.
func NewRecoveryHandler(manager *recovery.Manager) *RecoveryHandler {
	return &RecoveryHandler{manager: manager}
}

func (h *RecoveryHandler) coordinator(w http.ResponseWriter, r *http.Request) (*recovery.Coordinator, bool) {
	coord, err := h.manager.Get(r.PathValue("code"))
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return nil, false
	}
	return coord, true
}

// CreateRoom handles POST /api/v1/rooms — starts a recovery coordinator.
func (h *RecoveryHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomCode string                    `json:"room_code"`
		Config   *model.ConfigurationPatch `json:"config,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil || req.RoomCode == "" {
		writeError(w, http.StatusBadRequest, "room_code is required")
		return
	}

	cfg := model.DefaultRecoveryConfiguration()
	if req.Config != nil {
		cfg = req.Config.Apply(cfg)
	}
	if _, err := h.manager.CreateRoom(req.RoomCode, cfg); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"room_code": req.RoomCode})
}

// CloseRoom handles DELETE /api/v1/rooms/{code}.
func (h *RecoveryHandler) CloseRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.CloseRoom(r.Context(), r.PathValue("code")); err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// RequestSave handles POST /api/v1/rooms/{code}/save.
// Body: {"reason": "manual"|"action"}; defaults to manual.
func (h *RecoveryHandler) RequestSave(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.coordinator(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason model.SnapshotTrigger `json:"reason"`
	}
	_ = decodeJSON(r, &req)
	if req.Reason != model.TriggerAction {
		req.Reason = model.TriggerManual
	}

	info, err := coord.RequestSave(r.Context(), req.Reason)
	if err != nil {
		lg := logger.ForRequest(r.Context())
		lg.Error().Err(err).Msg("Save request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// RequestRestore handles POST /api/v1/rooms/{code}/restore.
// Body: {"snapshot_id": "..."}.
func (h *RecoveryHandler) RequestRestore(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.coordinator(w, r)
	if !ok {
		return
	}

	var req struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.SnapshotID == "" {
		writeError(w, http.StatusBadRequest, "snapshot_id is required")
		return
	}

	snap, err := coord.RequestRestore(r.Context(), req.SnapshotID)
	if err != nil {
		var verr *model.ValidationError
		switch {
		case errors.Is(err, model.ErrSnapshotNotFound):
			writeError(w, http.StatusNotFound, "snapshot not found")
		case errors.As(err, &verr):
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetState handles GET /api/v1/rooms/{code}/recovery.
func (h *RecoveryHandler) GetState(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	state, err := coord.State(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GetMetrics handles GET /api/v1/rooms/{code}/metrics.
func (h *RecoveryHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, coord.Metrics().Snapshot())
}

// UpdateConfig handles PATCH /api/v1/rooms/{code}/recovery/config.
func (h *RecoveryHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.coordinator(w, r)
	if !ok {
		return
	}

	var patch model.ConfigurationPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid configuration patch")
		return
	}
	if err := coord.UpdateConfiguration(r.Context(), patch); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
