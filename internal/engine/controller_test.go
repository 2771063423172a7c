package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cinemood/watchparty/internal/party"
	"github.com/cinemood/watchparty/internal/store"
	apperrors "github.com/cinemood/watchparty/pkg/errors"
)

func testControllerConfig() Config {
	return Config{
		PollInterval:     5 * time.Millisecond,
		DriftToleranceMS: 3000,
		HeartbeatEvery:   time.Hour,
		InactivityWindow: time.Hour,
		Reconnect:        fastReconnectConfig(2),
	}
}

func newTestController(t *testing.T, st store.Store, id, name string) (*Controller, *fakeActuator) {
	t.Helper()
	actuator := &fakeActuator{}
	ctrl := NewController(st, actuator, Identity{ID: id, DisplayName: name}, testControllerConfig())
	t.Cleanup(func() { _ = ctrl.Leave(context.Background()) })
	return ctrl, actuator
}

func lastMessage(t *testing.T, transcript []party.ChatMessage) party.ChatMessage {
	t.Helper()
	require.NotEmpty(t, transcript)
	return transcript[len(transcript)-1]
}

func TestControllerCreateActivatesPartyWithHost(t *testing.T) {
	st := store.NewMemoryStore()
	alice, _ := newTestController(t, st, "alice", "Alice")

	snap, err := alice.Create(context.Background(), "movie night", "media/inception.mp4", 0)
	require.NoError(t, err)

	require.NotEmpty(t, snap.PartyID)
	require.Equal(t, party.StatusActive, snap.Status)
	require.Len(t, snap.Roster, 1)
	require.Equal(t, "alice", snap.Roster[0].ID)
	require.Equal(t, StateConnected, snap.ConnectionState)
	require.Equal(t, "Alice joined the watch party", lastMessage(t, snap.Transcript).Body)
}

type creationRecorder struct {
	store.Store
	createdStatus party.Status
}

func (r *creationRecorder) Create(ctx context.Context, p *party.Party) (*party.Party, error) {
	r.createdStatus = p.Status
	return r.Store.Create(ctx, p)
}

func TestControllerCreatePersistsPendingBeforeActivation(t *testing.T) {
	recorder := &creationRecorder{Store: store.NewMemoryStore()}
	alice, _ := newTestController(t, recorder, "alice", "Alice")

	snap, err := alice.Create(context.Background(), "movie night", "media/inception.mp4", 0)
	require.NoError(t, err)

	// The record lands in the store pending; the host's implicit join is the
	// write that activates it.
	require.Equal(t, party.StatusPending, recorder.createdStatus)
	require.Equal(t, party.StatusActive, snap.Status)
}

func TestControllerJoinAndLeaveAppendSystemMessages(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	alice, _ := newTestController(t, st, "alice", "Alice")
	created, err := alice.Create(ctx, "movie night", "media/inception.mp4", 0)
	require.NoError(t, err)

	bob, _ := newTestController(t, st, "bob", "Bob")
	joined, err := bob.Join(ctx, created.PartyID)
	require.NoError(t, err)

	require.Len(t, joined.Roster, 2)
	require.Equal(t, "Bob joined the watch party", lastMessage(t, joined.Transcript).Body)
	require.True(t, lastMessage(t, joined.Transcript).IsSystem())

	// Alice converges on the join through push or poll.
	require.Eventually(t, func() bool {
		return len(alice.Snapshot().Roster) == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, bob.Leave(ctx))
	require.Equal(t, StateIdle, bob.ConnectionState())

	require.Eventually(t, func() bool {
		transcript := alice.Snapshot().Transcript
		return len(transcript) > 0 &&
			transcript[len(transcript)-1].Body == "Bob left the watch party"
	}, time.Second, time.Millisecond)

	snap := alice.Snapshot()
	require.Equal(t, party.StatusActive, snap.Status)
	member, ok := findRosterEntry(snap.Roster, "bob")
	require.True(t, ok)
	require.Equal(t, party.ParticipantLeft, member.Status)
}

func findRosterEntry(roster []party.Participant, id string) (party.Participant, bool) {
	for _, member := range roster {
		if member.ID == id {
			return member, true
		}
	}
	return party.Participant{}, false
}

func TestControllerJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	alice, _ := newTestController(t, st, "alice", "Alice")
	created, err := alice.Create(ctx, "movie night", "media/inception.mp4", 0)
	require.NoError(t, err)

	again, err := alice.Join(ctx, created.PartyID)
	require.NoError(t, err)

	require.Len(t, again.Roster, 1)
	joinMessages := 0
	for _, msg := range again.Transcript {
		if msg.Body == "Alice joined the watch party" {
			joinMessages++
		}
	}
	require.Equal(t, 1, joinMessages)
}

func TestControllerJoinRejectsFullParty(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cfg := testControllerConfig()
	cfg.MaxParticipants = 2

	alice := NewController(st, &fakeActuator{}, Identity{ID: "alice", DisplayName: "Alice"}, cfg)
	t.Cleanup(func() { _ = alice.Leave(ctx) })
	created, err := alice.Create(ctx, "movie night", "media/inception.mp4", 0)
	require.NoError(t, err)

	bob := NewController(st, &fakeActuator{}, Identity{ID: "bob", DisplayName: "Bob"}, cfg)
	t.Cleanup(func() { _ = bob.Leave(ctx) })
	_, err = bob.Join(ctx, created.PartyID)
	require.NoError(t, err)

	carol := NewController(st, &fakeActuator{}, Identity{ID: "carol", DisplayName: "Carol"}, cfg)
	_, err = carol.Join(ctx, created.PartyID)
	require.ErrorIs(t, err, apperrors.ErrPartyFull)

	// A member rejoining is not subject to the capacity check.
	_, err = bob.Join(ctx, created.PartyID)
	require.NoError(t, err)
}

func TestControllerLastLeaveEndsParty(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	alice, _ := newTestController(t, st, "alice", "Alice")
	created, err := alice.Create(ctx, "movie night", "media/inception.mp4", 0)
	require.NoError(t, err)

	require.NoError(t, alice.Leave(ctx))

	final, err := st.Get(ctx, created.PartyID)
	require.NoError(t, err)
	require.Equal(t, party.StatusEnded, final.Status)

	// An ended party accepts no new members.
	bob, _ := newTestController(t, st, "bob", "Bob")
	_, err = bob.Join(ctx, created.PartyID)
	require.ErrorIs(t, err, apperrors.ErrPartyEnded)
}

func TestControllerLeaveWithoutSessionIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	alice, _ := newTestController(t, st, "alice", "Alice")

	require.NoError(t, alice.Leave(context.Background()))
	require.Equal(t, StateIdle, alice.ConnectionState())
}

func TestControllerSendChatPropagates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	alice, _ := newTestController(t, st, "alice", "Alice")
	created, err := alice.Create(ctx, "movie night", "media/inception.mp4", 0)
	require.NoError(t, err)

	bob, _ := newTestController(t, st, "bob", "Bob")
	_, err = bob.Join(ctx, created.PartyID)
	require.NoError(t, err)

	require.NoError(t, bob.SendChat(ctx, "no spoilers please"))

	// The sender sees it immediately as tentative state.
	require.Equal(t, "no spoilers please", lastMessage(t, bob.Snapshot().Transcript).Body)

	require.Eventually(t, func() bool {
		transcript := alice.Snapshot().Transcript
		return len(transcript) > 0 &&
			transcript[len(transcript)-1].Body == "no spoilers please"
	}, time.Second, time.Millisecond)

	require.Error(t, bob.SendChat(ctx, "   "))
}

func TestControllerPlaybackIntentConvergesOnPeers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	alice, _ := newTestController(t, st, "alice", "Alice")
	created, err := alice.Create(ctx, "movie night", "media/inception.mp4", 0)
	require.NoError(t, err)

	bob, bobActuator := newTestController(t, st, "bob", "Bob")
	_, err = bob.Join(ctx, created.PartyID)
	require.NoError(t, err)

	require.NoError(t, alice.TogglePlayback(ctx))

	require.Eventually(t, func() bool {
		playing, _, _, _, _ := bobActuator.snapshot()
		return playing
	}, time.Second, time.Millisecond)

	final, err := st.Get(ctx, created.PartyID)
	require.NoError(t, err)
	require.True(t, final.IsPlaying)
}

func TestControllerSeekIsClampedToDuration(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	alice, _ := newTestController(t, st, "alice", "Alice")
	created, err := alice.Create(ctx, "movie night", "media/inception.mp4", 60_000)
	require.NoError(t, err)

	require.NoError(t, alice.SeekTo(ctx, 90_000))

	final, err := st.Get(ctx, created.PartyID)
	require.NoError(t, err)
	require.Equal(t, int64(60_000), final.PlaybackPositionMS)

	require.Error(t, alice.SeekTo(ctx, -1))
}

func TestControllerRepeatedJoinLeaveCyclesReleaseResources(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	alice, _ := newTestController(t, st, "alice", "Alice")
	created, err := alice.Create(ctx, "movie night", "media/inception.mp4", 0)
	require.NoError(t, err)

	bob, _ := newTestController(t, st, "bob", "Bob")
	for i := 0; i < 3; i++ {
		_, err = bob.Join(ctx, created.PartyID)
		require.NoError(t, err)
		require.NoError(t, bob.Leave(ctx))
		require.Equal(t, StateIdle, bob.ConnectionState())
	}

	final, err := st.Get(ctx, created.PartyID)
	require.NoError(t, err)
	member, ok := findRosterEntry(final.Roster, "bob")
	require.True(t, ok)
	require.Equal(t, party.ParticipantLeft, member.Status)

	// One join and one leave message per cycle, never duplicates within one.
	joins, leaves := 0, 0
	for _, msg := range final.Transcript {
		switch msg.Body {
		case "Bob joined the watch party":
			joins++
		case "Bob left the watch party":
			leaves++
		}
	}
	require.Equal(t, 3, joins)
	require.Equal(t, 3, leaves)
}

func TestControllerTerminatesAfterPersistentOutage(t *testing.T) {
	ctx := context.Background()
	flaky := newFlakyStore(store.NewMemoryStore())

	alice, _ := newTestController(t, flaky, "alice", "Alice")
	_, err := alice.Create(ctx, "movie night", "media/inception.mp4", 0)
	require.NoError(t, err)

	updates, unsubscribe := alice.Subscribe()
	defer unsubscribe()

	flaky.setDown(true)

	sawTerminated := make(chan struct{})
	go func() {
		for snap := range updates {
			if snap.ConnectionState == StateTerminated {
				close(sawTerminated)
				return
			}
		}
	}()

	select {
	case <-sawTerminated:
	case <-time.After(2 * time.Second):
		t.Fatal("session never reached the terminated state")
	}

	require.Eventually(t, func() bool {
		return alice.ConnectionState() == StateIdle
	}, time.Second, time.Millisecond)
	require.ErrorIs(t, alice.LastError(), apperrors.ErrTerminal)
}

func TestControllerOperationsRequireActiveSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	alice, _ := newTestController(t, st, "alice", "Alice")

	require.Error(t, alice.SendChat(ctx, "hello"))
	require.Error(t, alice.TogglePlayback(ctx))
	require.Error(t, alice.SeekTo(ctx, 1000))
	require.Error(t, alice.Heartbeat(ctx))
	require.Equal(t, StateIdle, alice.Snapshot().ConnectionState)
}
