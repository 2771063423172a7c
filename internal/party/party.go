package party

import (
	"strings"
	"time"
)

// Status describes the lifecycle of a watch party. Transitions are forward
// only: pending -> active -> ended.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

var statusRank = map[Status]int{
	StatusPending: 0,
	StatusActive:  1,
	StatusEnded:   2,
}

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransitionTo reports whether next is a legal forward transition. A status
// may always "transition" to itself (idempotent writes).
func (s Status) CanTransitionTo(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// ParticipantStatus describes a roster member's liveness.
type ParticipantStatus string

const (
	ParticipantActive   ParticipantStatus = "active"
	ParticipantInactive ParticipantStatus = "inactive"
	ParticipantLeft     ParticipantStatus = "left"
)

// MessageKind distinguishes user chat from engine-generated system messages.
type MessageKind string

const (
	MessageUser   MessageKind = "user"
	MessageSystem MessageKind = "system"
)

// SystemSenderID is the reserved sender for system-generated chat messages.
const SystemSenderID = "system"

// DefaultTranscriptCap bounds the shared chat transcript.
const DefaultTranscriptCap = 100

// DefaultMaxParticipants bounds the active roster for new joins.
const DefaultMaxParticipants = 20

// Participant is a roster entry. Entries are never physically deleted; a
// departed member keeps its row with status "left" until an explicit rejoin.
type Participant struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	JoinedAt    time.Time         `json:"joined_at"`
	LastSeen    time.Time         `json:"last_seen"`
	Status      ParticipantStatus `json:"status"`
}

// ChatMessage is an immutable transcript entry.
type ChatMessage struct {
	ID       string      `json:"id"`
	SenderID string      `json:"sender_id"`
	Body     string      `json:"body"`
	SentAt   time.Time   `json:"sent_at"`
	Kind     MessageKind `json:"kind"`
}

// IsSystem reports whether the message was generated by the engine.
func (m ChatMessage) IsSystem() bool {
	return m.Kind == MessageSystem
}

// Party is the shared watch-session record. The store owns the authoritative
// copy; everything here is a snapshot identified by Version.
type Party struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	HostID             string        `json:"host_id"`
	MediaRef           string        `json:"media_ref"`
	MediaDurationMS    int64         `json:"media_duration_ms"`
	Status             Status        `json:"status"`
	PlaybackPositionMS int64         `json:"playback_position_ms"`
	IsPlaying          bool          `json:"is_playing"`
	Roster             []Participant `json:"roster"`
	Transcript         []ChatMessage `json:"transcript"`
	Version            int64         `json:"version"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate snapshots freely.
func (p *Party) Clone() *Party {
	if p == nil {
		return nil
	}
	cpy := *p
	cpy.Roster = append([]Participant(nil), p.Roster...)
	cpy.Transcript = append([]ChatMessage(nil), p.Transcript...)
	return &cpy
}

// FindParticipant returns the roster entry for the given id, if present.
func (p *Party) FindParticipant(id string) (Participant, bool) {
	for _, member := range p.Roster {
		if member.ID == id {
			return member, true
		}
	}
	return Participant{}, false
}

// IsMember reports whether the id has a roster entry that has not left.
func (p *Party) IsMember(id string) bool {
	member, ok := p.FindParticipant(id)
	return ok && member.Status != ParticipantLeft
}

// ActiveCount returns the number of roster entries that have not left.
func (p *Party) ActiveCount() int {
	count := 0
	for _, member := range p.Roster {
		if member.Status != ParticipantLeft {
			count++
		}
	}
	return count
}

// ClampPosition bounds a playback position to the media duration. Durations of
// zero mean "unknown" and only the lower bound applies.
func (p *Party) ClampPosition(positionMS int64) int64 {
	if positionMS < 0 {
		return 0
	}
	if p.MediaDurationMS > 0 && positionMS > p.MediaDurationMS {
		return p.MediaDurationMS
	}
	return positionMS
}

// JoinMessageBody renders the system chat body announcing a join.
func JoinMessageBody(displayName string) string {
	return strings.TrimSpace(displayName) + " joined the watch party"
}

// LeaveMessageBody renders the system chat body announcing a departure.
func LeaveMessageBody(displayName string) string {
	return strings.TrimSpace(displayName) + " left the watch party"
}
