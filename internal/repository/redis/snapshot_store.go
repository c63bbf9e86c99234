package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freeeve/avalon-recovery/internal/model"
)

// Key patterns for Redis snapshot storage.
func snapshotKey(snapshotID string) string { return "snapshot:" + snapshotID }
func roomIndexKey(roomCode string) string  { return "room:" + roomCode + ":snapshots" }

func ioErr(op string, err error) error {
	return &model.StorageError{Kind: model.StorageIOFailure, Err: fmt.Errorf("%s: %w", op, err)}
}

// Save stores the snapshot blob and indexes it by version in the room's
// sorted set.
func (c *Client) Save(ctx context.Context, snapshot *model.GameStateSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return ioErr("marshal snapshot", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, snapshotKey(snapshot.ID), data, 0)
	pipe.ZAdd(ctx, roomIndexKey(snapshot.RoomCode), redis.Z{
		Score:  float64(snapshot.Version),
		Member: snapshot.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return ioErr("save snapshot", err)
	}
	return nil
}

// Load retrieves a snapshot by ID, corrupted or not.
func (c *Client) Load(ctx context.Context, snapshotID string) (*model.GameStateSnapshot, error) {
	data, err := c.rdb.Get(ctx, snapshotKey(snapshotID)).Bytes()
	if err == redis.Nil {
		return nil, model.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, ioErr("load snapshot", err)
	}

	var snap model.GameStateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, ioErr("unmarshal snapshot", err)
	}
	return &snap, nil
}

// List returns restore candidates for a room, most recent version first.
func (c *Client) List(ctx context.Context, roomCode string) ([]model.SnapshotInfo, error) {
	ids, err := c.rdb.ZRevRange(ctx, roomIndexKey(roomCode), 0, -1).Result()
	if err != nil {
		return nil, ioErr("list snapshots", err)
	}

	infos := make([]model.SnapshotInfo, 0, len(ids))
	for _, id := range ids {
		snap, err := c.Load(ctx, id)
		if err == model.ErrSnapshotNotFound {
			// Index entry outlived its blob; drop it.
			c.rdb.ZRem(ctx, roomIndexKey(roomCode), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if snap.Corrupted {
			continue
		}
		infos = append(infos, snap.Info())
	}
	return infos, nil
}

// MaxVersion returns the highest version in the room's index, corrupted
// snapshots included. Versions are the index scores, so no blob loads.
func (c *Client) MaxVersion(ctx context.Context, roomCode string) (int64, error) {
	entries, err := c.rdb.ZRevRangeWithScores(ctx, roomIndexKey(roomCode), 0, 0).Result()
	if err != nil {
		return 0, ioErr("max version", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return int64(entries[0].Score), nil
}

// Delete removes a snapshot and its index entry.
func (c *Client) Delete(ctx context.Context, snapshotID string) error {
	snap, err := c.Load(ctx, snapshotID)
	if err != nil {
		return err
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, snapshotKey(snapshotID))
	pipe.ZRem(ctx, roomIndexKey(snap.RoomCode), snapshotID)
	if _, err := pipe.Exec(ctx); err != nil {
		return ioErr("delete snapshot", err)
	}
	return nil
}

// MarkCorrupted rewrites the snapshot blob with the corrupted flag set. The
// blob stays loadable for diagnosis but drops out of listings.
func (c *Client) MarkCorrupted(ctx context.Context, snapshotID string) error {
	snap, err := c.Load(ctx, snapshotID)
	if err != nil {
		return err
	}
	snap.Corrupted = true

	data, err := json.Marshal(snap)
	if err != nil {
		return ioErr("marshal snapshot", err)
	}
	if err := c.rdb.Set(ctx, snapshotKey(snapshotID), data, 0).Err(); err != nil {
		return ioErr("mark corrupted", err)
	}
	return nil
}

// EvictExpired removes snapshots older than maxAge or beyond maxCount,
// keeping the most recent snapshot and all critical-action snapshots.
func (c *Client) EvictExpired(ctx context.Context, roomCode string, maxAge time.Duration, maxCount int) (int, error) {
	ids, err := c.rdb.ZRange(ctx, roomIndexKey(roomCode), 0, -1).Result()
	if err != nil {
		return 0, ioErr("evict snapshots", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	newest := ids[len(ids)-1]
	remaining := len(ids)
	evicted := 0

	for _, id := range ids {
		if id == newest {
			continue
		}
		snap, err := c.Load(ctx, id)
		if err == model.ErrSnapshotNotFound {
			continue
		}
		if err != nil {
			return evicted, err
		}
		if snap.Metadata.CriticalAction {
			continue
		}
		overAge := maxAge > 0 && snap.Timestamp.Before(cutoff)
		overCount := maxCount > 0 && remaining > maxCount
		if !overAge && !overCount {
			continue
		}
		if err := c.Delete(ctx, id); err != nil {
			return evicted, err
		}
		remaining--
		evicted++
	}
	return evicted, nil
}

// DeleteRoom removes all snapshot data for a room (on room close).
func (c *Client) DeleteRoom(ctx context.Context, roomCode string) error {
	ids, err := c.rdb.ZRange(ctx, roomIndexKey(roomCode), 0, -1).Result()
	if err != nil {
		return ioErr("delete room", err)
	}

	keys := []string{roomIndexKey(roomCode)}
	for _, id := range ids {
		keys = append(keys, snapshotKey(id))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return ioErr("delete room", err)
	}
	return nil
}
