package recovery

import (
	"fmt"

	"github.com/freeeve/avalon-recovery/internal/model"
)

// ResolveActions reconciles the ordered actions a reconnecting player queued
// while absent against the authoritative changes that happened in the room
// during that window.
//
// Actions whose target was superseded while the player was away are dropped
// with the recorded reason; the rest replay in original submission order. In
// strict mode any drop rejects the whole batch with a *model.ConflictError
// (fail-closed); otherwise partial application proceeds (fail-open).
//
// Pure function of its inputs: fixed pending list + fixed delta always yield
// the same result.
func ResolveActions(pending []model.PendingAction, delta model.AuthoritativeDelta, strict bool) (model.ResolvedActionSet, error) {
	var resolved model.ResolvedActionSet

	for _, action := range pending {
		if reason, ok := dropReason(action, delta); ok {
			resolved.Dropped = append(resolved.Dropped, model.DroppedAction{Action: action, Reason: reason})
			continue
		}
		resolved.Applied = append(resolved.Applied, action)
	}

	if strict && len(resolved.Dropped) > 0 {
		err := &model.ConflictError{Dropped: resolved.Dropped}
		if len(pending) > 0 {
			err.PlayerID = pending[0].PlayerID
		}
		return model.ResolvedActionSet{Dropped: resolved.Dropped}, err
	}
	return resolved, nil
}

func dropReason(action model.PendingAction, delta model.AuthoritativeDelta) (string, bool) {
	if action.Type == "" {
		return "malformed action: missing type", true
	}
	if action.TargetID != "" {
		if why, ok := delta.SupersededTargets[action.TargetID]; ok {
			return fmt.Sprintf("target %s superseded: %s", action.TargetID, why), true
		}
	}
	return "", false
}
