package engine

import (
	"strings"
	"time"

	"github.com/cinemood/watchparty/internal/party"
)

// PresenceTracker builds the roster mutations for join, leave, and heartbeat.
// It produces field-scoped deltas for the store and the matching system chat
// messages; it never removes roster entries and never flips a participant to
// "left" on its own; only an explicit leave does that.
type PresenceTracker struct {
	timeNow func() time.Time
}

// NewPresenceTracker constructs a tracker using the supplied clock, falling
// back to time.Now.
func NewPresenceTracker(timeNow func() time.Time) *PresenceTracker {
	if timeNow == nil {
		timeNow = time.Now
	}
	return &PresenceTracker{timeNow: timeNow}
}

// RecordJoin returns the delta registering (or re-activating) a participant.
// A first join and a rejoin after leaving both get a fresh JoinedAt; an
// already-active member only has presence refreshed, and no duplicate system
// message is produced for it.
func (t *PresenceTracker) RecordJoin(current *party.Party, participantID, displayName string) party.Delta {
	now := t.timeNow()
	displayName = strings.TrimSpace(displayName)

	existing, ok := current.FindParticipant(participantID)
	if ok && existing.Status != party.ParticipantLeft {
		// Idempotent rejoin of a live member: refresh presence only.
		return party.Delta{TouchParticipants: []string{participantID}}
	}

	member := party.Participant{
		ID:          participantID,
		DisplayName: displayName,
		JoinedAt:    now,
		LastSeen:    now,
		Status:      party.ParticipantActive,
	}
	if ok && displayName == "" {
		member.DisplayName = existing.DisplayName
	}

	return party.Delta{
		UpsertParticipants: []party.Participant{member},
		AppendMessages: []party.ChatMessage{
			NewSystemMessage(party.JoinMessageBody(member.DisplayName), now),
		},
	}
}

// RecordLeave returns the delta marking the participant as departed. The
// roster entry stays in place for history and rejoin detection.
func (t *PresenceTracker) RecordLeave(current *party.Party, participantID string) (party.Delta, bool) {
	member, ok := current.FindParticipant(participantID)
	if !ok || member.Status == party.ParticipantLeft {
		return party.Delta{}, false
	}

	now := t.timeNow()
	member.Status = party.ParticipantLeft
	member.LastSeen = now

	return party.Delta{
		UpsertParticipants: []party.Participant{member},
		AppendMessages: []party.ChatMessage{
			NewSystemMessage(party.LeaveMessageBody(member.DisplayName), now),
		},
	}, true
}

// Heartbeat returns the delta refreshing the participant's LastSeen. It does
// not change status.
func (t *PresenceTracker) Heartbeat(participantID string) party.Delta {
	return party.Delta{TouchParticipants: []string{participantID}}
}
