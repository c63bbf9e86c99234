package recovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/freeeve/avalon-recovery/internal/model"
	"github.com/freeeve/avalon-recovery/internal/repository"
)

// mockProvider is a canned rules-engine collaborator.
type mockProvider struct {
	mu       sync.Mutex
	state    json.RawMessage
	phase    string
	stateErr error
	delta    model.AuthoritativeDelta
	deltaErr error
	applied  []model.PendingAction
	applyErr error
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		state: json.RawMessage(`{"quest":1,"leader":"p1"}`),
		phase: "team_vote",
	}
}

func (m *mockProvider) CurrentState(_ context.Context, _ string) (json.RawMessage, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateErr != nil {
		return nil, "", m.stateErr
	}
	return m.state, m.phase, nil
}

func (m *mockProvider) DeltaSince(_ context.Context, _ string, since time.Time) (model.AuthoritativeDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deltaErr != nil {
		return model.AuthoritativeDelta{}, m.deltaErr
	}
	d := m.delta
	d.Since = since
	return d, nil
}

func (m *mockProvider) ApplyActions(_ context.Context, _ string, actions []model.PendingAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	m.applied = append(m.applied, actions...)
	return nil
}

func (m *mockProvider) appliedActions() []model.PendingAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PendingAction(nil), m.applied...)
}

func (m *mockProvider) setSuperseded(target, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delta.SupersededTargets == nil {
		m.delta.SupersededTargets = make(map[string]string)
	}
	m.delta.SupersededTargets[target] = reason
}

// recordingNotifier captures emitted notifications.
type recordingNotifier struct {
	mu            sync.Mutex
	notifications []model.Notification
}

func (n *recordingNotifier) Notify(_ string, notification model.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

func (n *recordingNotifier) byType(ntype string) []model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.Notification
	for _, notification := range n.notifications {
		if notification.Type == ntype {
			out = append(out, notification)
		}
	}
	return out
}

// failingStore wraps a real store and fails the first failSaves Save calls.
type failingStore struct {
	repository.SnapshotStore
	mu        sync.Mutex
	failSaves int
}

func (f *failingStore) Save(ctx context.Context, snapshot *model.GameStateSnapshot) error {
	f.mu.Lock()
	shouldFail := f.failSaves != 0
	if f.failSaves > 0 {
		f.failSaves--
	}
	f.mu.Unlock()

	if shouldFail {
		return &model.StorageError{Kind: model.StorageIOFailure, Err: context.DeadlineExceeded}
	}
	return f.SnapshotStore.Save(ctx, snapshot)
}
