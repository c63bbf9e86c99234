package recovery

import (
	"testing"
	"time"

	"github.com/freeeve/avalon-recovery/internal/model"
)

func TestChecksumDeterministic(t *testing.T) {
	payload := []byte(`{"quest":3,"leader":"p2"}`)
	if Checksum(payload) != Checksum(payload) {
		t.Fatal("same payload must yield the same checksum")
	}
	if Checksum(payload) == Checksum([]byte(`{"quest":3,"leader":"p3"}`)) {
		t.Fatal("different payloads must yield different checksums")
	}
}

func TestValidateSnapshotRoundTrip(t *testing.T) {
	payload := []byte(`{"quest":1,"players":["a","b","c","d","e"]}`)
	snap := &model.GameStateSnapshot{
		ID:        "snap-1",
		RoomCode:  "ROOM",
		Timestamp: time.Now(),
		Version:   1,
		Checksum:  Checksum(payload),
		GameState: payload,
		Metadata: model.SnapshotMetadata{
			GamePhase:      "team_vote",
			PlayerCount:    5,
			ValidationHash: ValidationHash("team_vote", 5),
		},
	}
	if !ValidateSnapshot(snap) {
		t.Fatal("freshly built snapshot must validate")
	}
}

func TestValidateSnapshotDetectsCorruption(t *testing.T) {
	payload := []byte(`{"quest":1}`)
	snap := &model.GameStateSnapshot{
		Checksum:  Checksum(payload),
		GameState: payload,
		Metadata: model.SnapshotMetadata{
			GamePhase:      "quest",
			PlayerCount:    5,
			ValidationHash: ValidationHash("quest", 5),
		},
	}

	snap.GameState = []byte(`{"quest":2}`)
	if ValidateSnapshot(snap) {
		t.Error("tampered payload must fail validation")
	}

	snap.GameState = payload
	snap.Metadata.PlayerCount = 6
	if ValidateSnapshot(snap) {
		t.Error("tampered metadata must fail the validation hash check")
	}
}
