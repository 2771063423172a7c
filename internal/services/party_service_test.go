package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cinemood/watchparty/internal/notifications"
	"github.com/cinemood/watchparty/internal/party"
	"github.com/cinemood/watchparty/internal/store"
	apperrors "github.com/cinemood/watchparty/pkg/errors"
)

type recordedNotice struct {
	ParticipantID string
	Notice        notifications.Notice
}

type fakeSink struct {
	mu      sync.Mutex
	notices []recordedNotice
}

func (s *fakeSink) Notify(participantID string, notice notifications.Notice) {
	s.mu.Lock()
	s.notices = append(s.notices, recordedNotice{ParticipantID: participantID, Notice: notice})
	s.mu.Unlock()
}

func (s *fakeSink) NotifyMany(participantIDs []string, notice notifications.Notice) {
	for _, id := range participantIDs {
		s.Notify(id, notice)
	}
}

func (s *fakeSink) recorded() []recordedNotice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedNotice(nil), s.notices...)
}

func newPartyService(t *testing.T, opts ...PartyOption) *PartyService {
	t.Helper()
	svc, err := NewPartyService(store.NewMemoryStore(), opts...)
	require.NoError(t, err)
	return svc
}

func createTestParty(t *testing.T, svc *PartyService) *party.Party {
	t.Helper()
	created, err := svc.Create(context.Background(), CreatePartyParams{
		Name:     "movie night",
		HostID:   "alice",
		HostName: "Alice",
		MediaRef: "media/inception.mp4",
	})
	require.NoError(t, err)
	return created
}

func TestPartyServiceCreateSeedsHost(t *testing.T) {
	svc := newPartyService(t)

	created := createTestParty(t, svc)

	require.NotEmpty(t, created.ID)
	require.Equal(t, party.StatusPending, created.Status)
	require.Equal(t, "alice", created.HostID)
	require.Len(t, created.Roster, 1)
	require.Equal(t, party.ParticipantActive, created.Roster[0].Status)
	require.Len(t, created.Transcript, 1)
	require.Equal(t, "Alice joined the watch party", created.Transcript[0].Body)
}

func TestPartyServiceCreateValidation(t *testing.T) {
	svc := newPartyService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreatePartyParams{MediaRef: "media/x.mp4"})
	require.Error(t, err)

	_, err = svc.Create(ctx, CreatePartyParams{HostID: "alice"})
	require.Error(t, err)

	_, err = svc.Create(ctx, CreatePartyParams{HostID: "alice", MediaRef: "media/x.mp4", MediaDurationMS: -1})
	require.Error(t, err)
}

func TestPartyServiceJoinActivatesPendingParty(t *testing.T) {
	svc := newPartyService(t)
	created := createTestParty(t, svc)

	joined, err := svc.Join(context.Background(), JoinPartyParams{
		PartyID:       created.ID,
		ParticipantID: "bob",
		DisplayName:   "Bob",
	})
	require.NoError(t, err)

	require.Equal(t, party.StatusActive, joined.Status)
	require.Len(t, joined.Roster, 2)
	last := joined.Transcript[len(joined.Transcript)-1]
	require.Equal(t, "Bob joined the watch party", last.Body)
	require.True(t, last.IsSystem())
}

func TestPartyServiceJoinIsIdempotentForLiveMember(t *testing.T) {
	svc := newPartyService(t)
	created := createTestParty(t, svc)
	ctx := context.Background()

	first, err := svc.Join(ctx, JoinPartyParams{PartyID: created.ID, ParticipantID: "bob", DisplayName: "Bob"})
	require.NoError(t, err)

	second, err := svc.Join(ctx, JoinPartyParams{PartyID: created.ID, ParticipantID: "bob", DisplayName: "Bob"})
	require.NoError(t, err)

	require.Len(t, second.Roster, 2)
	require.Len(t, second.Transcript, len(first.Transcript))
}

func TestPartyServiceJoinRejectsFullParty(t *testing.T) {
	svc := newPartyService(t, WithPartyCapacity(2))
	created := createTestParty(t, svc)
	ctx := context.Background()

	_, err := svc.Join(ctx, JoinPartyParams{PartyID: created.ID, ParticipantID: "bob", DisplayName: "Bob"})
	require.NoError(t, err)

	_, err = svc.Join(ctx, JoinPartyParams{PartyID: created.ID, ParticipantID: "carol", DisplayName: "Carol"})
	require.ErrorIs(t, err, apperrors.ErrPartyFull)

	// Departed members free their seat.
	_, err = svc.Leave(ctx, created.ID, "bob")
	require.NoError(t, err)
	_, err = svc.Join(ctx, JoinPartyParams{PartyID: created.ID, ParticipantID: "carol", DisplayName: "Carol"})
	require.NoError(t, err)
}

func TestPartyServiceLastLeaveEndsPartyAndNotifies(t *testing.T) {
	sink := &fakeSink{}
	svc := newPartyService(t, WithPartySink(sink))
	created := createTestParty(t, svc)

	updated, err := svc.Leave(context.Background(), created.ID, "alice")
	require.NoError(t, err)

	require.Equal(t, party.StatusEnded, updated.Status)
	last := updated.Transcript[len(updated.Transcript)-1]
	require.Equal(t, "Alice left the watch party", last.Body)

	notices := sink.recorded()
	require.Len(t, notices, 1)
	require.Equal(t, "alice", notices[0].ParticipantID)
	require.Equal(t, notifications.EventPartyEnded, notices[0].Notice.Event)
}

func TestPartyServiceLeaveUnknownParticipantIsNoop(t *testing.T) {
	svc := newPartyService(t)
	created := createTestParty(t, svc)

	updated, err := svc.Leave(context.Background(), created.ID, "ghost")
	require.NoError(t, err)
	require.Equal(t, created.Version, updated.Version)
}

func TestPartyServicePostChatSanitisesAndAppends(t *testing.T) {
	svc := newPartyService(t)
	created := createTestParty(t, svc)

	updated, err := svc.PostChat(context.Background(), ChatParams{
		PartyID:  created.ID,
		SenderID: "alice",
		Body:     "<b>spoilers</b>",
	})
	require.NoError(t, err)

	last := updated.Transcript[len(updated.Transcript)-1]
	require.Equal(t, "&lt;b&gt;spoilers&lt;/b&gt;", last.Body)
	require.Equal(t, party.MessageUser, last.Kind)
	require.Equal(t, "alice", last.SenderID)
}

func TestPartyServicePostChatValidation(t *testing.T) {
	svc := newPartyService(t)
	created := createTestParty(t, svc)
	ctx := context.Background()

	_, err := svc.PostChat(ctx, ChatParams{PartyID: created.ID, SenderID: "alice", Body: "   "})
	require.Error(t, err)

	_, err = svc.PostChat(ctx, ChatParams{PartyID: created.ID, SenderID: "stranger", Body: "hi"})
	require.Error(t, err)

	_, err = svc.End(ctx, created.ID, "alice")
	require.NoError(t, err)
	_, err = svc.PostChat(ctx, ChatParams{PartyID: created.ID, SenderID: "alice", Body: "hi"})
	require.ErrorIs(t, err, apperrors.ErrPartyEnded)
}

func TestPartyServiceSetPlaybackClampsPosition(t *testing.T) {
	svc := newPartyService(t)
	created, err := svc.Create(context.Background(), CreatePartyParams{
		HostID:          "alice",
		HostName:        "Alice",
		MediaRef:        "media/short.mp4",
		MediaDurationMS: 60_000,
	})
	require.NoError(t, err)

	playing := true
	position := int64(90_000)
	updated, err := svc.SetPlayback(context.Background(), PlaybackParams{
		PartyID:       created.ID,
		ParticipantID: "alice",
		IsPlaying:     &playing,
		PositionMS:    &position,
	})
	require.NoError(t, err)

	require.True(t, updated.IsPlaying)
	require.Equal(t, int64(60_000), updated.PlaybackPositionMS)
}

func TestPartyServiceSetPlaybackRequiresIntent(t *testing.T) {
	svc := newPartyService(t)
	created := createTestParty(t, svc)

	_, err := svc.SetPlayback(context.Background(), PlaybackParams{
		PartyID:       created.ID,
		ParticipantID: "alice",
	})
	require.Error(t, err)
}

func TestPartyServiceHeartbeatRefreshesPresence(t *testing.T) {
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	st := store.NewMemoryStore(store.WithMemoryClock(clock))
	svc, err := NewPartyService(st, WithPartyClock(clock))
	require.NoError(t, err)

	created := createTestParty(t, svc)

	current = base.Add(30 * time.Second)
	updated, err := svc.Heartbeat(context.Background(), created.ID, "alice")
	require.NoError(t, err)

	member, ok := updated.FindParticipant("alice")
	require.True(t, ok)
	require.Equal(t, current, member.LastSeen)
}

func TestPartyServiceEndNotifiesRoster(t *testing.T) {
	sink := &fakeSink{}
	svc := newPartyService(t, WithPartySink(sink))
	created := createTestParty(t, svc)
	ctx := context.Background()

	_, err := svc.Join(ctx, JoinPartyParams{PartyID: created.ID, ParticipantID: "bob", DisplayName: "Bob"})
	require.NoError(t, err)

	_, err = svc.End(ctx, created.ID, "stranger")
	require.Error(t, err)

	updated, err := svc.End(ctx, created.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, party.StatusEnded, updated.Status)
	require.Len(t, sink.recorded(), 2)
}

func TestPartyServiceInviteNotifiesInvitees(t *testing.T) {
	sink := &fakeSink{}
	svc := newPartyService(t, WithPartySink(sink))
	created := createTestParty(t, svc)
	ctx := context.Background()

	err := svc.Invite(ctx, created.ID, "alice", []string{"bob", "carol", "bob", " "})
	require.NoError(t, err)

	notices := sink.recorded()
	require.Len(t, notices, 2)
	require.Equal(t, notifications.EventInvite, notices[0].Notice.Event)
	require.Equal(t, created.ID, notices[0].Notice.PartyID)
	require.Contains(t, notices[0].Notice.Body, "Alice invited you to movie night")

	err = svc.Invite(ctx, created.ID, "stranger", []string{"bob"})
	require.Error(t, err)
}

// conflictingStore forces a fixed number of version conflicts before letting
// writes through, exercising the retry loop.
type conflictingStore struct {
	store.Store
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) Update(ctx context.Context, id string, expectedVersion int64, delta party.Delta) (*party.Party, error) {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return nil, apperrors.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.Store.Update(ctx, id, expectedVersion, delta)
}

func TestPartyServiceRetriesVersionConflicts(t *testing.T) {
	wrapped := &conflictingStore{Store: store.NewMemoryStore(), conflicts: 2}
	svc, err := NewPartyService(wrapped)
	require.NoError(t, err)

	created := createTestParty(t, svc)

	joined, err := svc.Join(context.Background(), JoinPartyParams{
		PartyID:       created.ID,
		ParticipantID: "bob",
		DisplayName:   "Bob",
	})
	require.NoError(t, err)
	require.Len(t, joined.Roster, 2)

	// One more conflict than the retry budget surfaces the error.
	wrapped.mu.Lock()
	wrapped.conflicts = writeAttempts
	wrapped.mu.Unlock()

	_, err = svc.PostChat(context.Background(), ChatParams{PartyID: created.ID, SenderID: "alice", Body: "hi"})
	require.ErrorIs(t, err, apperrors.ErrVersionConflict)
}
