package recovery

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/freeeve/avalon-recovery/internal/model"
)

func pendingBatch() []model.PendingAction {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return []model.PendingAction{
		{ID: "a1", PlayerID: "p1", Type: "vote", TargetID: "proposal-7", SubmittedAt: base},
		{ID: "a2", PlayerID: "p1", Type: "vote", TargetID: "proposal-8", SubmittedAt: base.Add(time.Second)},
		{ID: "a3", PlayerID: "p1", Type: "quest_card", TargetID: "quest-3", SubmittedAt: base.Add(2 * time.Second)},
	}
}

func TestResolveActionsDropsSuperseded(t *testing.T) {
	delta := model.AuthoritativeDelta{
		SupersededTargets: map[string]string{"proposal-8": "proposal rejected and replaced"},
		CurrentPhase:      "quest",
	}

	resolved, err := ResolveActions(pendingBatch(), delta, false)
	if err != nil {
		t.Fatalf("ResolveActions: %v", err)
	}
	if len(resolved.Applied) != 2 {
		t.Fatalf("expected 2 applied actions, got %d", len(resolved.Applied))
	}
	// Survivors replay in original submission order.
	if resolved.Applied[0].ID != "a1" || resolved.Applied[1].ID != "a3" {
		t.Errorf("expected [a1 a3], got [%s %s]", resolved.Applied[0].ID, resolved.Applied[1].ID)
	}
	if len(resolved.Dropped) != 1 {
		t.Fatalf("expected 1 dropped action, got %d", len(resolved.Dropped))
	}
	if resolved.Dropped[0].Action.ID != "a2" {
		t.Errorf("expected a2 dropped, got %s", resolved.Dropped[0].Action.ID)
	}
	if resolved.Dropped[0].Reason == "" {
		t.Error("dropped action must carry a reason")
	}
}

func TestResolveActionsStrictModeRejectsBatch(t *testing.T) {
	delta := model.AuthoritativeDelta{
		SupersededTargets: map[string]string{"proposal-8": "proposal rejected and replaced"},
	}

	resolved, err := ResolveActions(pendingBatch(), delta, true)
	if err == nil {
		t.Fatal("strict mode with a drop must reject the batch")
	}
	var cerr *model.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *model.ConflictError, got %T", err)
	}
	if cerr.PlayerID != "p1" {
		t.Errorf("conflict error player = %q, want p1", cerr.PlayerID)
	}
	if len(resolved.Applied) != 0 {
		t.Errorf("strict rejection must apply nothing, got %d actions", len(resolved.Applied))
	}
}

func TestResolveActionsStrictModeCleanBatch(t *testing.T) {
	resolved, err := ResolveActions(pendingBatch(), model.AuthoritativeDelta{}, true)
	if err != nil {
		t.Fatalf("clean batch must pass in strict mode: %v", err)
	}
	if len(resolved.Applied) != 3 {
		t.Errorf("expected all 3 actions applied, got %d", len(resolved.Applied))
	}
}

func TestResolveActionsDeterministic(t *testing.T) {
	delta := model.AuthoritativeDelta{
		SupersededTargets: map[string]string{"proposal-7": "superseded", "quest-3": "quest resolved"},
	}

	first, err1 := ResolveActions(pendingBatch(), delta, false)
	second, err2 := ResolveActions(pendingBatch(), delta, false)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("same inputs must produce identical resolved sets")
	}
}

func TestResolveActionsEmptyBatch(t *testing.T) {
	resolved, err := ResolveActions(nil, model.AuthoritativeDelta{}, true)
	if err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if len(resolved.Applied) != 0 || len(resolved.Dropped) != 0 {
		t.Error("empty batch resolves to empty set")
	}
}

func TestResolveActionsMalformed(t *testing.T) {
	batch := []model.PendingAction{{ID: "a1", PlayerID: "p1"}}
	resolved, err := ResolveActions(batch, model.AuthoritativeDelta{}, false)
	if err != nil {
		t.Fatalf("ResolveActions: %v", err)
	}
	if len(resolved.Dropped) != 1 {
		t.Fatal("typeless action must be dropped")
	}
}
