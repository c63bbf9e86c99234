package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freeeve/avalon-recovery/internal/logger"
	"github.com/freeeve/avalon-recovery/internal/model"
	"github.com/freeeve/avalon-recovery/internal/repository"
)

const (
	sweepInterval      = 5 * time.Second
	errorHistoryCap    = 50
	errorHistoryMaxAge = time.Hour
)

// Coordinator owns one room's RecoveryState and serializes every mutation to
// it. All requests are posted onto a single command queue drained by the run
// goroutine, so no two transitions for the same room ever apply concurrently;
// separate rooms run fully in parallel.
//
// Invariant: a save already in flight is never canceled. A manual save
// arriving mid-flight queues behind it and runs after it completes.
type Coordinator struct {
	roomCode string
	store    repository.SnapshotStore
	tokens   *TokenManager
	notifier Notifier
	provider StateProvider
	metrics  *MetricsCollector
	log      zerolog.Logger

	cmds   chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Everything below is owned by the run goroutine.
	cfg            model.RecoveryConfiguration
	policy         *ReconnectionPolicy
	state          model.RecoveryState
	version        int64
	saveRetries    int
	retryTimer     *time.Timer
	autosaveTimer  *time.Timer
	gamePhase      string
	phaseStartedAt time.Time
	phaseWarned    bool
	now            func() time.Time
}

// NewCoordinator creates a coordinator for a room and starts its event loop.
// Call Close on room teardown to cancel all scheduled work.
func NewCoordinator(roomCode string, cfg model.RecoveryConfiguration, store repository.SnapshotStore,
	tokens *TokenManager, provider StateProvider, notifier Notifier) *Coordinator {

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		roomCode: roomCode,
		store:    store,
		tokens:   tokens,
		notifier: notifier,
		provider: provider,
		metrics:  NewMetricsCollector(),
		log:      logger.ForRoom(roomCode),
		cmds:     make(chan func(), 64),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		cfg:      cfg,
		policy:   NewReconnectionPolicy(cfg),
		now:      time.Now,
		state: model.RecoveryState{
			RoomCode:     roomCode,
			Status:       model.StatusStable,
			PlayerStates: make(map[string]model.PlayerRecoveryState),
		},
	}
	go c.run()
	return c
}

// Close cancels the room's timers and stops the event loop. Pending queued
// commands are dropped.
func (c *Coordinator) Close() {
	c.cancel()
	<-c.done
}

// Metrics returns the room's metrics collector.
func (c *Coordinator) Metrics() *MetricsCollector { return c.metrics }

func (c *Coordinator) run() {
	defer close(c.done)
	c.initFromStore()

	c.autosaveTimer = time.NewTimer(c.cfg.AutoSaveInterval)
	c.scheduleNextSave()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	defer c.autosaveTimer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			if c.retryTimer != nil {
				c.retryTimer.Stop()
			}
			return
		case cmd := <-c.cmds:
			cmd()
		case <-c.autosaveTimer.C:
			// A room that exhausted its save retries waits for explicit
			// host action; the autosave timer must not sneak past that.
			if c.state.Status != model.StatusFailed {
				c.doSave(model.TriggerTimer)
			}
			c.autosaveTimer.Reset(c.cfg.AutoSaveInterval)
			c.scheduleNextSave()
		case <-sweep.C:
			c.sweep()
		}
	}
}

// initFromStore resumes the version counter and snapshot listing from
// whatever the store already holds for this room. The counter comes from
// MaxVersion, not the listing: listings hide corrupted snapshots, and a
// version once issued must never be reissued even if its snapshot went bad.
func (c *Coordinator) initFromStore() {
	version, err := c.store.MaxVersion(c.ctx, c.roomCode)
	if err != nil {
		c.log.Warn().Err(err).Msg("Could not read max snapshot version on startup")
	} else {
		c.version = version
	}

	infos, err := c.store.List(c.ctx, c.roomCode)
	if err != nil {
		c.log.Warn().Err(err).Msg("Could not list existing snapshots on startup")
		return
	}
	c.state.AvailableSnapshots = infos
	if len(infos) > 0 {
		current := infos[0]
		c.state.CurrentSnapshot = &current
	}
}

// call runs fn on the coordinator goroutine and waits for it to finish.
func (c *Coordinator) call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		fn()
		close(ran)
	}
	select {
	case c.cmds <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return model.ErrRoomClosed
	}
	select {
	case <-ran:
		return nil
	case <-c.ctx.Done():
		return model.ErrRoomClosed
	}
}

// RequestSave takes a snapshot now. Trigger records why: timer, action (a
// critical game action occurred), or manual.
func (c *Coordinator) RequestSave(ctx context.Context, trigger model.SnapshotTrigger) (model.SnapshotInfo, error) {
	var info model.SnapshotInfo
	var err error
	if callErr := c.call(ctx, func() {
		info, err = c.doSave(trigger)
	}); callErr != nil {
		return model.SnapshotInfo{}, callErr
	}
	return info, err
}

// RequestRestore loads and validates a snapshot. Fails fast with a
// *model.ValidationError on corruption; the corrupted snapshot is flagged in
// the store but preserved for diagnosis.
func (c *Coordinator) RequestRestore(ctx context.Context, snapshotID string) (*model.GameStateSnapshot, error) {
	var snap *model.GameStateSnapshot
	var err error
	if callErr := c.call(ctx, func() {
		snap, err = c.doRestore(snapshotID)
	}); callErr != nil {
		return nil, callErr
	}
	return snap, err
}

// HandleConnect records a player joining (or rejoining through normal
// channels) with a live connection. It returns the recovery token for the
// player's next disconnect window; the connection layer must deliver it to
// the client now, while a socket still exists to carry it.
func (c *Coordinator) HandleConnect(ctx context.Context, playerID string) (string, error) {
	var token string
	var err error
	if callErr := c.call(ctx, func() {
		now := c.now()
		ps := c.state.PlayerStates[playerID]
		ps.PlayerID = playerID
		ps.ConnectionState = model.ConnConnected
		ps.LastSeen = now
		ps.DisconnectedAt = nil
		ps.TimeoutWarning = false
		ps.ReconnectionAttempts = 0

		token, err = c.tokens.Issue(c.roomCode, playerID)
		if err != nil {
			err = fmt.Errorf("issue recovery token: %w", err)
			return
		}
		ps.RecoveryToken = token
		c.state.PlayerStates[playerID] = ps
		c.recomputeRoomStatus()
		c.log.Debug().Str("playerId", playerID).Msg("Player connected")
	}); callErr != nil {
		return "", callErr
	}
	return token, err
}

// HandleDisconnect marks a player disconnected and returns the recovery token
// they must present to resume. The credential issued at connect time stays in
// force so the client already holds it; a fresh one is issued only if that
// token is missing or expired.
func (c *Coordinator) HandleDisconnect(ctx context.Context, playerID string) (string, error) {
	var token string
	var err error
	if callErr := c.call(ctx, func() {
		token, err = c.doDisconnect(playerID)
	}); callErr != nil {
		return "", callErr
	}
	return token, err
}

// HandleReconnectAttempt authenticates a reconnecting player and reconciles
// their queued actions. On success the player is connected again with a fresh
// recovery token. A *model.ConflictError means the action batch was rejected
// in strict mode; the player's session itself still resumes.
func (c *Coordinator) HandleReconnectAttempt(ctx context.Context, playerID, token string) (model.PlayerRecoveryState, error) {
	var ps model.PlayerRecoveryState
	var err error
	if callErr := c.call(ctx, func() {
		ps, err = c.doReconnect(playerID, token)
	}); callErr != nil {
		return model.PlayerRecoveryState{}, callErr
	}
	return ps, err
}

// SubmitActionWhileDisconnected queues an action for conflict resolution at
// reconnect time. It is not applied to authoritative state.
func (c *Coordinator) SubmitActionWhileDisconnected(ctx context.Context, playerID string, action model.PendingAction) error {
	var err error
	if callErr := c.call(ctx, func() {
		ps, ok := c.state.PlayerStates[playerID]
		if !ok {
			err = model.ErrPlayerNotFound
			return
		}
		if ps.ConnectionState != model.ConnDisconnected && ps.ConnectionState != model.ConnReconnecting {
			err = fmt.Errorf("player %s is %s, not awaiting reconnection", playerID, ps.ConnectionState)
			return
		}
		if action.ID == "" {
			action.ID = uuid.NewString()
		}
		action.PlayerID = playerID
		if action.SubmittedAt.IsZero() {
			action.SubmittedAt = c.now()
		}
		ps.PendingActions = append(ps.PendingActions, action)
		c.state.PlayerStates[playerID] = ps
	}); callErr != nil {
		return callErr
	}
	return err
}

// State returns a read-only copy of the room's recovery state.
func (c *Coordinator) State(ctx context.Context) (model.RecoveryState, error) {
	var snap model.RecoveryState
	if err := c.call(ctx, func() {
		snap = c.state.Clone()
	}); err != nil {
		return model.RecoveryState{}, err
	}
	return snap, nil
}

// UpdateConfiguration applies a partial configuration update from the host.
func (c *Coordinator) UpdateConfiguration(ctx context.Context, patch model.ConfigurationPatch) error {
	return c.call(ctx, func() {
		c.cfg = patch.Apply(c.cfg)
		c.policy = NewReconnectionPolicy(c.cfg)
		if c.autosaveTimer != nil {
			if !c.autosaveTimer.Stop() {
				select {
				case <-c.autosaveTimer.C:
				default:
				}
			}
			c.autosaveTimer.Reset(c.cfg.AutoSaveInterval)
			c.scheduleNextSave()
		}
		c.log.Info().Dur("autoSaveInterval", c.cfg.AutoSaveInterval).Msg("Recovery configuration updated")
	})
}

func (c *Coordinator) scheduleNextSave() {
	next := c.now().Add(c.cfg.AutoSaveInterval)
	c.state.NextScheduledSave = &next
}

func (c *Coordinator) doSave(trigger model.SnapshotTrigger) (model.SnapshotInfo, error) {
	start := c.now()
	c.setStatus(model.StatusSaving, "serializing", 10)

	payload, gamePhase, err := c.provider.CurrentState(c.ctx, c.roomCode)
	if err != nil {
		return model.SnapshotInfo{}, c.saveFailed(trigger, fmt.Errorf("fetch game state: %w", err))
	}
	if gamePhase != c.gamePhase {
		c.gamePhase = gamePhase
		c.phaseStartedAt = c.now()
		c.phaseWarned = false
	}

	connected := 0
	for _, ps := range c.state.PlayerStates {
		if ps.ConnectionState == model.ConnConnected {
			connected++
		}
	}

	snap := &model.GameStateSnapshot{
		ID:           uuid.NewString(),
		RoomCode:     c.roomCode,
		Timestamp:    c.now(),
		Version:      c.version + 1,
		Checksum:     Checksum(payload),
		GameState:    payload,
		PlayerStates: c.state.Clone().PlayerStates,
		Metadata: model.SnapshotMetadata{
			CreatedBy:         trigger,
			GamePhase:         gamePhase,
			PlayerCount:       len(c.state.PlayerStates),
			ActiveConnections: connected,
			CriticalAction:    trigger == model.TriggerAction,
			ValidationHash:    ValidationHash(gamePhase, len(c.state.PlayerStates)),
		},
	}

	c.setStatus(model.StatusSaving, "persisting", 60)
	if err := c.store.Save(c.ctx, snap); err != nil {
		return model.SnapshotInfo{}, c.saveFailed(trigger, err)
	}

	c.version = snap.Version
	c.saveRetries = 0
	info := snap.Info()
	c.state.CurrentSnapshot = &info
	saved := c.now()
	c.state.LastSuccessfulSave = &saved
	c.setStatus(model.StatusStable, "complete", 100)

	if _, err := c.store.EvictExpired(c.ctx, c.roomCode, c.cfg.SnapshotMaxAge, c.cfg.MaxSnapshots); err != nil {
		c.log.Warn().Err(err).Msg("Snapshot eviction failed")
	}
	if infos, err := c.store.List(c.ctx, c.roomCode); err == nil {
		c.state.AvailableSnapshots = infos
	}

	c.metrics.Record(EventSave, c.now().Sub(start))
	c.notifier.Notify(c.roomCode, newNotification("success", "Game saved",
		fmt.Sprintf("Snapshot v%d saved (%s)", snap.Version, trigger), ""))
	c.log.Info().Int64("version", snap.Version).Str("trigger", string(trigger)).Msg("Snapshot saved")
	c.recomputeRoomStatus()
	return info, nil
}

// saveFailed records a save failure and either schedules an automatic
// backoff retry or, once retries are exhausted, leaves the room in failed
// awaiting host action.
func (c *Coordinator) saveFailed(trigger model.SnapshotTrigger, err error) error {
	c.metrics.Record(EventSaveFailed, 0)
	c.recordError(model.ErrTypeSave, err.Error(), "error", map[string]string{"trigger": string(trigger)}, false, c.saveRetries)
	c.log.Error().Err(err).Int("retry", c.saveRetries).Msg("Snapshot save failed")

	if c.saveRetries < c.cfg.MaxSaveRetries {
		c.saveRetries++
		delay := c.policy.BackoffDelay(c.saveRetries - 1)
		c.setStatus(model.StatusFailed, "retry_scheduled", 0)
		if c.retryTimer != nil {
			c.retryTimer.Stop()
		}
		c.retryTimer = time.AfterFunc(delay, func() {
			select {
			case c.cmds <- func() { c.doSave(trigger) }:
			case <-c.ctx.Done():
			}
		})
		c.notifier.Notify(c.roomCode, newNotification("warning", "Save failed",
			fmt.Sprintf("Retrying in %s", delay.Round(time.Millisecond)), ""))
		return err
	}

	c.setStatus(model.StatusFailed, "needs_attention", 0)
	c.notifier.Notify(c.roomCode, newNotification("error", "Save failed",
		"Automatic retries exhausted", "", "retry", "reset"))
	return err
}

func (c *Coordinator) doRestore(snapshotID string) (*model.GameStateSnapshot, error) {
	start := c.now()
	c.setStatus(model.StatusRecovering, "validating", 20)

	snap, err := c.store.Load(c.ctx, snapshotID)
	if err != nil {
		c.metrics.Record(EventRestoreFailed, 0)
		c.recordError(model.ErrTypeRestore, err.Error(), "error", map[string]string{"snapshotId": snapshotID}, false, 0)
		c.recomputeRoomStatus()
		return nil, err
	}

	if snap.Corrupted || !ValidateSnapshot(snap) {
		if !snap.Corrupted {
			if markErr := c.store.MarkCorrupted(c.ctx, snapshotID); markErr != nil {
				c.log.Warn().Err(markErr).Str("snapshotId", snapshotID).Msg("Could not flag corrupted snapshot")
			}
		}
		c.metrics.Record(EventCorruption, 0)
		c.metrics.Record(EventRestoreFailed, 0)
		verr := &model.ValidationError{SnapshotID: snapshotID, Reason: "checksum mismatch"}
		c.recordError(model.ErrTypeCorruption, verr.Error(), "critical", map[string]string{"snapshotId": snapshotID}, false, 0)
		c.notifier.Notify(c.roomCode, newNotification("error", "Snapshot corrupted",
			"The selected snapshot failed validation; pick an earlier one", "", "retry"))
		if infos, listErr := c.store.List(c.ctx, c.roomCode); listErr == nil {
			c.state.AvailableSnapshots = infos
			if len(infos) == 0 {
				// No valid snapshot left to fall back to.
				c.setStatus(model.StatusFailed, "no_valid_snapshots", 0)
				return nil, verr
			}
		}
		c.recomputeRoomStatus()
		return nil, verr
	}

	c.setStatus(model.StatusStable, "complete", 100)
	info := snap.Info()
	c.state.CurrentSnapshot = &info
	c.metrics.Record(EventRestore, c.now().Sub(start))
	c.notifier.Notify(c.roomCode, newNotification("success", "Game restored",
		fmt.Sprintf("Restored snapshot v%d", snap.Version), ""))
	c.log.Info().Int64("version", snap.Version).Msg("Snapshot restored")
	c.recomputeRoomStatus()
	return snap, nil
}

func (c *Coordinator) doDisconnect(playerID string) (string, error) {
	now := c.now()
	ps := c.state.PlayerStates[playerID]
	ps.PlayerID = playerID
	ps.ConnectionState = model.ConnDisconnected
	ps.DisconnectedAt = &now
	ps.LastSeen = now
	ps.TimeoutWarning = false
	ps.ReconnectionAttempts = 0

	token := ps.RecoveryToken
	if token != "" {
		if _, err := c.tokens.Validate(token, c.roomCode, playerID); err != nil {
			token = ""
		}
	}
	if token == "" {
		issued, err := c.tokens.Issue(c.roomCode, playerID)
		if err != nil {
			return "", fmt.Errorf("issue recovery token: %w", err)
		}
		token = issued
	}
	ps.RecoveryToken = token
	c.state.PlayerStates[playerID] = ps

	c.notifier.Notify(c.roomCode, newNotification("warning", "Player disconnected",
		fmt.Sprintf("%s lost connection", playerID), playerID))
	c.log.Info().Str("playerId", playerID).Msg("Player disconnected")

	if c.policy.MassDisconnection(c.state.PlayerStates) && c.cfg.Timeouts.PauseOnMassDisconnection {
		c.setStatus(model.StatusRecovering, "paused", 0)
		c.notifier.Notify(c.roomCode, newNotification("error", "Game paused",
			"Too many players disconnected; waiting for reconnections", ""))
		c.log.Warn().Msg("Mass disconnection detected, pausing room")
	}
	return token, nil
}

func (c *Coordinator) doReconnect(playerID, token string) (model.PlayerRecoveryState, error) {
	ps, ok := c.state.PlayerStates[playerID]
	if !ok {
		return model.PlayerRecoveryState{}, &model.ReconnectionError{PlayerID: playerID, Reason: "unknown player"}
	}
	if ps.ConnectionState == model.ConnAbandoned || ps.ConnectionState == model.ConnBotReplaced {
		return ps, &model.ReconnectionError{PlayerID: playerID, Reason: "session abandoned"}
	}
	if ps.ConnectionState == model.ConnConnected {
		return ps, &model.ReconnectionError{PlayerID: playerID, Reason: "already connected"}
	}

	ps.ReconnectionAttempts++
	c.state.PlayerStates[playerID] = ps

	fail := func(reason string) (model.PlayerRecoveryState, error) {
		c.metrics.Record(EventReconnectFailed, 0)
		c.recordError(model.ErrTypeReconnect, reason, "warning",
			map[string]string{"playerId": playerID}, false, ps.ReconnectionAttempts)
		if ps.ReconnectionAttempts >= c.policy.MaxAttempts() {
			c.abandonPlayer(playerID, "reconnection attempts exhausted")
			ps = c.state.PlayerStates[playerID]
		} else {
			c.state.PlayerStates[playerID] = ps
		}
		c.recomputeRoomStatus()
		return ps, &model.ReconnectionError{PlayerID: playerID, Reason: reason}
	}

	if _, err := c.tokens.Validate(token, c.roomCode, playerID); err != nil {
		return fail("invalid or expired recovery token")
	}
	if token != ps.RecoveryToken {
		// Tokens are single-use per window; a stale one means a newer
		// credential has been issued since.
		return fail("recovery token superseded")
	}

	// Token accepted: the player is now mid-reconnect.
	ps.ConnectionState = model.ConnReconnecting
	c.state.PlayerStates[playerID] = ps
	c.recomputeRoomStatus()

	disconnectedAt := ps.LastSeen
	if ps.DisconnectedAt != nil {
		disconnectedAt = *ps.DisconnectedAt
	}
	delta, err := c.provider.DeltaSince(c.ctx, c.roomCode, disconnectedAt)
	if err != nil {
		return fail(fmt.Sprintf("authoritative delta unavailable: %v", err))
	}

	resolved, conflictErr := ResolveActions(ps.PendingActions, delta, c.cfg.Validation.StrictMode)
	if conflictErr == nil && len(resolved.Applied) > 0 {
		if err := c.provider.ApplyActions(c.ctx, c.roomCode, resolved.Applied); err != nil {
			return fail(fmt.Sprintf("replay actions: %v", err))
		}
	}
	for _, dropped := range resolved.Dropped {
		recovered := conflictErr == nil
		c.recordError(model.ErrTypeValidation, dropped.Reason, "warning",
			map[string]string{"playerId": playerID, "actionId": dropped.Action.ID}, recovered, 0)
	}
	if len(resolved.Dropped) > 0 {
		c.notifier.Notify(c.roomCode, newNotification("warning", "Actions dropped",
			fmt.Sprintf("%d queued action(s) no longer valid", len(resolved.Dropped)), playerID))
	}

	now := c.now()
	newToken, err := c.tokens.Issue(c.roomCode, playerID)
	if err != nil {
		return fail(fmt.Sprintf("issue recovery token: %v", err))
	}
	ps.ConnectionState = model.ConnConnected
	ps.RecoveryToken = newToken
	ps.PendingActions = nil
	ps.DisconnectedAt = nil
	ps.TimeoutWarning = false
	ps.ReconnectionAttempts = 0
	ps.LastSeen = now
	c.state.PlayerStates[playerID] = ps

	c.metrics.Record(EventReconnect, now.Sub(disconnectedAt))
	c.notifier.Notify(c.roomCode, newNotification("success", "Player reconnected",
		fmt.Sprintf("%s is back", playerID), playerID))
	c.log.Info().Str("playerId", playerID).
		Int("applied", len(resolved.Applied)).Int("dropped", len(resolved.Dropped)).
		Msg("Player reconnected")
	c.recomputeRoomStatus()

	// Strict-mode batch rejection is scoped to the batch, not the session.
	return ps, conflictErr
}

// abandonPlayer moves a player through timeout into abandoned, optionally
// handing their seat to a bot. Never fails the room.
func (c *Coordinator) abandonPlayer(playerID, reason string) {
	ps, ok := c.state.PlayerStates[playerID]
	if !ok || ps.ConnectionState == model.ConnAbandoned {
		return
	}
	ps.ConnectionState = model.ConnAbandoned
	ps.RecoveryToken = ""
	ps.PendingActions = nil
	if c.cfg.BotReplacement {
		ps.BotReplaced = true
		ps.ConnectionState = model.ConnBotReplaced
	}
	c.state.PlayerStates[playerID] = ps

	c.metrics.Record(EventPlayerTimeout, 0)
	c.notifier.Notify(c.roomCode, newNotification("error", "Player left the game",
		fmt.Sprintf("%s: %s", playerID, reason), playerID))
	c.log.Warn().Str("playerId", playerID).Str("reason", reason).Bool("botReplaced", ps.BotReplaced).
		Msg("Player abandoned")
}

// sweep is the periodic timeout pass: warnings, hard timeouts, reconnection
// window expiry, phase staleness, and error history pruning.
func (c *Coordinator) sweep() {
	now := c.now()
	for id, ps := range c.state.PlayerStates {
		switch {
		case ps.ConnectionState == model.ConnDisconnected && c.policy.PlayerTimedOut(ps, now):
			c.abandonPlayer(id, "player timeout exceeded")
		case ps.ConnectionState == model.ConnReconnecting && c.policy.ReconnectionTimedOut(ps, now):
			c.abandonPlayer(id, "reconnection window expired")
		case c.policy.PlayerNeedsWarning(ps, now):
			ps.TimeoutWarning = true
			c.state.PlayerStates[id] = ps
			c.notifier.Notify(c.roomCode, newNotification("warning", "Player timing out",
				fmt.Sprintf("%s will be removed soon", id), id))
		}
	}

	if !c.phaseWarned && c.gamePhase != "" && c.policy.PhaseTimedOut(c.gamePhase, c.phaseStartedAt, now) {
		c.phaseWarned = true
		c.notifier.Notify(c.roomCode, newNotification("warning", "Phase stalled",
			fmt.Sprintf("Phase %q has exceeded its time limit", c.gamePhase), ""))
	}

	c.pruneErrorHistory(now)
	c.recomputeRoomStatus()
}

func (c *Coordinator) pruneErrorHistory(now time.Time) {
	kept := c.state.ErrorHistory[:0]
	for _, e := range c.state.ErrorHistory {
		if now.Sub(e.Timestamp) <= errorHistoryMaxAge {
			kept = append(kept, e)
		}
	}
	if len(kept) > errorHistoryCap {
		kept = kept[len(kept)-errorHistoryCap:]
	}
	c.state.ErrorHistory = kept
}

func (c *Coordinator) recordError(etype model.RecoveryErrorType, msg, severity string,
	ctx map[string]string, recovered bool, retries int) {
	c.state.ErrorHistory = append(c.state.ErrorHistory, model.RecoveryError{
		ID:         uuid.NewString(),
		Type:       etype,
		Message:    msg,
		Timestamp:  c.now(),
		Severity:   severity,
		Context:    ctx,
		Recovered:  recovered,
		RetryCount: retries,
	})
}

func (c *Coordinator) setStatus(status model.RoomStatus, phase string, progress int) {
	c.state.Status = status
	c.state.Phase = phase
	c.state.Progress = progress
}

// recomputeRoomStatus derives the room-level status from player states,
// unless the room is failed and waiting on explicit host action.
func (c *Coordinator) recomputeRoomStatus() {
	if c.state.Status == model.StatusFailed {
		return
	}

	if len(c.state.PlayerStates) > 0 {
		allAbandoned := true
		for _, ps := range c.state.PlayerStates {
			if ps.ConnectionState != model.ConnAbandoned && ps.ConnectionState != model.ConnBotReplaced {
				allAbandoned = false
				break
			}
		}
		if allAbandoned {
			c.setStatus(model.StatusAbandoned, "all_players_gone", 0)
			return
		}
	}

	for _, ps := range c.state.PlayerStates {
		if ps.ConnectionState == model.ConnReconnecting {
			c.setStatus(model.StatusReconnecting, "player_recovery", c.state.Progress)
			return
		}
	}

	if c.cfg.Timeouts.PauseOnMassDisconnection && c.policy.MassDisconnection(c.state.PlayerStates) {
		c.setStatus(model.StatusRecovering, "paused", 0)
		return
	}

	if c.state.Status != model.StatusSaving {
		c.setStatus(model.StatusStable, "", 100)
	}
}

// InputAllowed reports whether gameplay input should be accepted. Input is
// rejected while the room is paused for mass disconnection or failed.
func (c *Coordinator) InputAllowed(ctx context.Context) (bool, error) {
	var allowed bool
	if err := c.call(ctx, func() {
		allowed = c.state.Status == model.StatusStable ||
			c.state.Status == model.StatusSaving ||
			c.state.Status == model.StatusReconnecting
	}); err != nil {
		return false, err
	}
	return allowed, nil
}
