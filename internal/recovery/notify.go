package recovery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/freeeve/avalon-recovery/internal/model"
)

// Notifier delivers recovery notifications to the UI layer.
// Implemented by the WebSocket hub.
type Notifier interface {
	Notify(roomCode string, n model.Notification)
}

// NoopNotifier is a no-op implementation for testing or when WS is disabled.
type NoopNotifier struct{}

func (NoopNotifier) Notify(string, model.Notification) {}

// StateProvider is the rules-engine collaborator. The recovery engine never
// interprets the state payload it returns.
type StateProvider interface {
	// CurrentState returns the serialized game state and current phase label.
	CurrentState(ctx context.Context, roomCode string) (state json.RawMessage, gamePhase string, err error)

	// DeltaSince describes the authoritative changes since the given instant,
	// used to reconcile a reconnecting player's queued actions.
	DeltaSince(ctx context.Context, roomCode string, since time.Time) (model.AuthoritativeDelta, error)

	// ApplyActions replays conflict-resolved actions against the
	// authoritative state, in order.
	ApplyActions(ctx context.Context, roomCode string, actions []model.PendingAction) error
}

func newNotification(ntype, title, message, playerID string, actions ...string) model.Notification {
	return model.Notification{
		ID:          uuid.NewString(),
		Type:        ntype,
		Title:       title,
		Message:     message,
		Timestamp:   time.Now(),
		PlayerID:    playerID,
		Dismissible: ntype != "error",
		Actions:     actions,
	}
}
