package recovery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"

	"github.com/freeeve/avalon-recovery/internal/model"
)

// Checksum returns the hex-encoded SHA-256 digest of the serialized game
// state. Pure function: same payload, same digest.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ValidationHash is a cheap secondary integrity check over the
// metadata-critical fields, used to catch metadata tampering without
// rehashing the full payload.
func ValidationHash(gamePhase string, playerCount int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d", gamePhase, playerCount)
	return fmt.Sprintf("%016x", h.Sum64())
}

// ValidateSnapshot recomputes both digests and compares them against the
// snapshot's stored values. A snapshot failing this check must not be used
// for restore.
func ValidateSnapshot(snap *model.GameStateSnapshot) bool {
	if Checksum(snap.GameState) != snap.Checksum {
		return false
	}
	return ValidationHash(snap.Metadata.GamePhase, snap.Metadata.PlayerCount) == snap.Metadata.ValidationHash
}
