package party

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	require.True(t, StatusPending.CanTransitionTo(StatusActive))
	require.True(t, StatusPending.CanTransitionTo(StatusEnded))
	require.True(t, StatusActive.CanTransitionTo(StatusEnded))

	// Same-state writes are idempotent, never regressions.
	require.True(t, StatusActive.CanTransitionTo(StatusActive))

	require.False(t, StatusActive.CanTransitionTo(StatusPending))
	require.False(t, StatusEnded.CanTransitionTo(StatusActive))
	require.False(t, StatusEnded.CanTransitionTo(StatusPending))
	require.False(t, Status("paused").CanTransitionTo(StatusActive))
}

func TestCloneIsDeep(t *testing.T) {
	original := &Party{
		ID:     "p1",
		Roster: []Participant{{ID: "u1", DisplayName: "alice"}},
		Transcript: []ChatMessage{
			{ID: "m1", SenderID: "u1", Body: "hi", Kind: MessageUser},
		},
	}

	clone := original.Clone()
	clone.Roster[0].DisplayName = "mallory"
	clone.Transcript[0].Body = "changed"

	require.Equal(t, "alice", original.Roster[0].DisplayName)
	require.Equal(t, "hi", original.Transcript[0].Body)
}

func TestClampPosition(t *testing.T) {
	p := &Party{MediaDurationMS: 7_200_000}
	require.EqualValues(t, 0, p.ClampPosition(-500))
	require.EqualValues(t, 60_000, p.ClampPosition(60_000))
	require.EqualValues(t, 7_200_000, p.ClampPosition(9_999_999))

	unknown := &Party{}
	require.EqualValues(t, 9_999_999, unknown.ClampPosition(9_999_999))
	require.EqualValues(t, 0, unknown.ClampPosition(-1))
}

func TestMembershipHelpers(t *testing.T) {
	p := &Party{Roster: []Participant{
		{ID: "u1", Status: ParticipantActive},
		{ID: "u2", Status: ParticipantLeft},
		{ID: "u3", Status: ParticipantInactive},
	}}

	require.True(t, p.IsMember("u1"))
	require.True(t, p.IsMember("u3"))
	require.False(t, p.IsMember("u2"))
	require.False(t, p.IsMember("missing"))
	require.Equal(t, 2, p.ActiveCount())
}

func TestSystemMessageBodies(t *testing.T) {
	require.Equal(t, "bob joined the watch party", JoinMessageBody(" bob "))
	require.Equal(t, "bob left the watch party", LeaveMessageBody("bob"))
}

func TestParticipantTimestamps(t *testing.T) {
	joined := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	member := Participant{ID: "u1", JoinedAt: joined, LastSeen: joined, Status: ParticipantActive}
	require.False(t, member.LastSeen.Before(member.JoinedAt))
}
