package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/freeeve/avalon-recovery/internal/model"
)

// SnapshotRepo is a Postgres-backed snapshot store, used as the durable
// archive behind the Redis cache or standalone.
type SnapshotRepo struct {
	db *sql.DB
}

// NewSnapshotRepo creates a SnapshotRepo.
func NewSnapshotRepo(db *sql.DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

func storageErr(op string, err error) error {
	kind := model.StorageIOFailure
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "53100" {
		// disk_full
		kind = model.StorageCapacity
	}
	return &model.StorageError{Kind: kind, Err: fmt.Errorf("%s: %w", op, err)}
}

// Save inserts a snapshot row. Duplicate (room, version) pairs are rejected.
func (r *SnapshotRepo) Save(ctx context.Context, snapshot *model.GameStateSnapshot) error {
	playerStates, err := json.Marshal(snapshot.PlayerStates)
	if err != nil {
		return storageErr("marshal player states", err)
	}
	metadata, err := json.Marshal(snapshot.Metadata)
	if err != nil {
		return storageErr("marshal metadata", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, room_code, version, created_at, checksum, game_state, player_states, metadata, corrupted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		snapshot.ID, snapshot.RoomCode, snapshot.Version, snapshot.Timestamp,
		snapshot.Checksum, []byte(snapshot.GameState), playerStates, metadata, snapshot.Corrupted,
	)
	if err != nil {
		return storageErr("insert snapshot", err)
	}
	return nil
}

// Load retrieves a snapshot by ID, corrupted or not.
func (r *SnapshotRepo) Load(ctx context.Context, snapshotID string) (*model.GameStateSnapshot, error) {
	var snap model.GameStateSnapshot
	var gameState, playerStates, metadata []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, room_code, version, created_at, checksum, game_state, player_states, metadata, corrupted
		 FROM snapshots WHERE id = $1`, snapshotID,
	).Scan(&snap.ID, &snap.RoomCode, &snap.Version, &snap.Timestamp,
		&snap.Checksum, &gameState, &playerStates, &metadata, &snap.Corrupted)
	if err == sql.ErrNoRows {
		return nil, model.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, storageErr("load snapshot", err)
	}

	snap.GameState = json.RawMessage(gameState)
	if len(playerStates) > 0 {
		if err := json.Unmarshal(playerStates, &snap.PlayerStates); err != nil {
			return nil, storageErr("unmarshal player states", err)
		}
	}
	if err := json.Unmarshal(metadata, &snap.Metadata); err != nil {
		return nil, storageErr("unmarshal metadata", err)
	}
	return &snap, nil
}

// List returns restore candidates for a room, most recent version first.
func (r *SnapshotRepo) List(ctx context.Context, roomCode string) ([]model.SnapshotInfo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, room_code, version, created_at, checksum, metadata
		 FROM snapshots WHERE room_code = $1 AND NOT corrupted
		 ORDER BY version DESC`, roomCode,
	)
	if err != nil {
		return nil, storageErr("list snapshots", err)
	}
	defer rows.Close()

	var infos []model.SnapshotInfo
	for rows.Next() {
		var info model.SnapshotInfo
		var metadata []byte
		if err := rows.Scan(&info.ID, &info.RoomCode, &info.Version, &info.Timestamp, &info.Checksum, &metadata); err != nil {
			return nil, storageErr("scan snapshot", err)
		}
		var meta model.SnapshotMetadata
		if err := json.Unmarshal(metadata, &meta); err != nil {
			return nil, storageErr("unmarshal metadata", err)
		}
		info.CreatedBy = meta.CreatedBy
		info.CriticalAction = meta.CriticalAction
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// MaxVersion returns the highest version stored for a room, corrupted rows
// included.
func (r *SnapshotRepo) MaxVersion(ctx context.Context, roomCode string) (int64, error) {
	var version int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM snapshots WHERE room_code = $1`, roomCode,
	).Scan(&version); err != nil {
		return 0, storageErr("max version", err)
	}
	return version, nil
}

// Delete removes a snapshot row.
func (r *SnapshotRepo) Delete(ctx context.Context, snapshotID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = $1`, snapshotID)
	if err != nil {
		return storageErr("delete snapshot", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrSnapshotNotFound
	}
	return nil
}

// MarkCorrupted flags a snapshot, removing it from restore candidates while
// preserving the row for diagnosis.
func (r *SnapshotRepo) MarkCorrupted(ctx context.Context, snapshotID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE snapshots SET corrupted = TRUE WHERE id = $1`, snapshotID)
	if err != nil {
		return storageErr("mark corrupted", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrSnapshotNotFound
	}
	return nil
}

// EvictExpired removes snapshots older than maxAge or beyond maxCount,
// keeping the most recent snapshot and all critical-action snapshots.
func (r *SnapshotRepo) EvictExpired(ctx context.Context, roomCode string, maxAge time.Duration, maxCount int) (int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE room_code = $1`, roomCode,
	).Scan(&total); err != nil {
		return 0, storageErr("count snapshots", err)
	}
	if total == 0 {
		return 0, nil
	}

	overCount := 0
	if maxCount > 0 && total > maxCount {
		overCount = total - maxCount
	}
	var cutoff time.Time // zero means age expiry disabled
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}

	// Eligible rows: not the newest version, not critical. Age-expired rows
	// go, plus the oldest eligible rows beyond the count cap — ranking only
	// eligible rows, so protected snapshots never absorb the limit.
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id IN (
			SELECT id FROM (
				SELECT id, created_at,
				       ROW_NUMBER() OVER (ORDER BY version ASC) AS age_rank
				FROM snapshots
				WHERE room_code = $1
				  AND NOT (metadata->>'critical_action')::boolean
				  AND version < (SELECT MAX(version) FROM snapshots WHERE room_code = $1)
			) eligible
			WHERE created_at < $2 OR age_rank <= $3
		)`,
		roomCode, cutoff, overCount,
	)
	if err != nil {
		return 0, storageErr("evict snapshots", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteRoom removes all snapshots for a room.
func (r *SnapshotRepo) DeleteRoom(ctx context.Context, roomCode string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE room_code = $1`, roomCode); err != nil {
		return storageErr("delete room snapshots", err)
	}
	return nil
}
