package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cinemood/watchparty/internal/party"
	"github.com/cinemood/watchparty/internal/store"
	apperrors "github.com/cinemood/watchparty/pkg/errors"
)

// fakeActuator records every command the engine issues against the player.
type fakeActuator struct {
	mu         sync.Mutex
	positionMS int64
	playing    bool
	playCalls  int
	pauseCalls int
	seekCalls  int
}

func (a *fakeActuator) Play(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playing = true
	a.playCalls++
	return nil
}

func (a *fakeActuator) Pause(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playing = false
	a.pauseCalls++
	return nil
}

func (a *fakeActuator) Seek(_ context.Context, positionMS int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positionMS = positionMS
	a.seekCalls++
	return nil
}

func (a *fakeActuator) Position(context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positionMS, nil
}

func (a *fakeActuator) Status(context.Context) (ActuatorStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ActuatorStatus{Loaded: true, PositionMS: a.positionMS}, nil
}

func (a *fakeActuator) setPosition(positionMS int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positionMS = positionMS
}

func (a *fakeActuator) snapshot() (playing bool, positionMS int64, plays, pauses, seeks int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing, a.positionMS, a.playCalls, a.pauseCalls, a.seekCalls
}

// flakyStore wraps a real store and injects connectivity failures on demand.
type flakyStore struct {
	inner store.Store

	mu   sync.Mutex
	down bool
}

func newFlakyStore(inner store.Store) *flakyStore {
	return &flakyStore{inner: inner}
}

func (s *flakyStore) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *flakyStore) failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

func (s *flakyStore) Create(ctx context.Context, p *party.Party) (*party.Party, error) {
	if s.failing() {
		return nil, apperrors.ErrConnectivity
	}
	return s.inner.Create(ctx, p)
}

func (s *flakyStore) Get(ctx context.Context, id string) (*party.Party, error) {
	if s.failing() {
		return nil, apperrors.ErrConnectivity
	}
	return s.inner.Get(ctx, id)
}

func (s *flakyStore) Update(ctx context.Context, id string, expectedVersion int64, delta party.Delta) (*party.Party, error) {
	if s.failing() {
		return nil, apperrors.ErrConnectivity
	}
	return s.inner.Update(ctx, id, expectedVersion, delta)
}

func (s *flakyStore) Subscribe(id string, fn func(*party.Party)) (func(), error) {
	if s.failing() {
		return nil, apperrors.ErrConnectivity
	}
	return s.inner.Subscribe(id, fn)
}

func testParty(id string, durationMS int64) *party.Party {
	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	return &party.Party{
		ID:              id,
		Name:            "movie night",
		HostID:          "alice",
		MediaRef:        "media/inception.mp4",
		MediaDurationMS: durationMS,
		Status:          party.StatusActive,
		Roster: []party.Participant{{
			ID:          "alice",
			DisplayName: "Alice",
			JoinedAt:    now,
			LastSeen:    now,
			Status:      party.ParticipantActive,
		}},
		Version:   1,
		UpdatedAt: now,
	}
}
