package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freeeve/avalon-recovery/internal/model"
)

// Keys the rules engine maintains for each room's live state.
func liveStateKey(roomCode string) string  { return "room:" + roomCode + ":state" }
func livePhaseKey(roomCode string) string  { return "room:" + roomCode + ":phase" }
func supersededKey(roomCode string) string { return "room:" + roomCode + ":superseded" }
func actionQueueKey(roomCode string) string {
	return "room:" + roomCode + ":action_queue"
}

// StateProvider reads the rules engine's live state out of Redis and feeds
// replayed actions back to it through a queue. The recovery engine never
// interprets the state blob.
type StateProvider struct {
	rdb *redis.Client
}

// NewStateProvider creates a StateProvider over an existing client.
func NewStateProvider(c *Client) *StateProvider {
	return &StateProvider{rdb: c.rdb}
}

// CurrentState returns the serialized game state and current phase label.
func (p *StateProvider) CurrentState(ctx context.Context, roomCode string) (json.RawMessage, string, error) {
	state, err := p.rdb.Get(ctx, liveStateKey(roomCode)).Bytes()
	if err == redis.Nil {
		return nil, "", fmt.Errorf("no live state for room %s", roomCode)
	}
	if err != nil {
		return nil, "", fmt.Errorf("get live state: %w", err)
	}

	phase, err := p.rdb.Get(ctx, livePhaseKey(roomCode)).Result()
	if err != nil && err != redis.Nil {
		return nil, "", fmt.Errorf("get live phase: %w", err)
	}
	return json.RawMessage(state), phase, nil
}

// DeltaSince builds the authoritative delta from the superseded-targets hash
// the rules engine maintains. Hash values are "<unix_ms>|<reason>"; only
// entries superseded after the given instant count.
func (p *StateProvider) DeltaSince(ctx context.Context, roomCode string, since time.Time) (model.AuthoritativeDelta, error) {
	delta := model.AuthoritativeDelta{
		SupersededTargets: make(map[string]string),
		Since:             since,
	}

	entries, err := p.rdb.HGetAll(ctx, supersededKey(roomCode)).Result()
	if err != nil {
		return delta, fmt.Errorf("get superseded targets: %w", err)
	}
	for target, value := range entries {
		ms, reason, found := cutTimestamp(value)
		if found && ms < since.UnixMilli() {
			continue
		}
		delta.SupersededTargets[target] = reason
	}

	phase, err := p.rdb.Get(ctx, livePhaseKey(roomCode)).Result()
	if err != nil && err != redis.Nil {
		return delta, fmt.Errorf("get live phase: %w", err)
	}
	delta.CurrentPhase = phase
	return delta, nil
}

// ApplyActions pushes conflict-resolved actions onto the rules engine's
// replay queue, preserving submission order.
func (p *StateProvider) ApplyActions(ctx context.Context, roomCode string, actions []model.PendingAction) error {
	for _, action := range actions {
		data, err := json.Marshal(action)
		if err != nil {
			return fmt.Errorf("marshal action %s: %w", action.ID, err)
		}
		if err := p.rdb.RPush(ctx, actionQueueKey(roomCode), data).Err(); err != nil {
			return fmt.Errorf("queue action %s: %w", action.ID, err)
		}
	}
	return nil
}

func cutTimestamp(value string) (int64, string, bool) {
	for i := 0; i < len(value); i++ {
		if value[i] == '|' {
			ms, err := strconv.ParseInt(value[:i], 10, 64)
			if err != nil {
				return 0, value, false
			}
			return ms, value[i+1:], true
		}
	}
	return 0, value, false
}
