package party

import (
	"errors"
	"fmt"
	"time"
)

// ErrStatusRegression indicates a delta attempted a backward status move.
var ErrStatusRegression = errors.New("party: status cannot move backwards")

// Delta is a field-scoped mutation of a party record. Writers set only the
// fields they intend to change so that concurrent writers editing different
// fields never clobber each other; the store applies the delta under its
// version check.
type Delta struct {
	Status             *Status
	PlaybackPositionMS *int64
	IsPlaying          *bool
	AppendMessages     []ChatMessage
	UpsertParticipants []Participant
	TouchParticipants  []string
}

// IsZero reports whether the delta carries no mutations.
func (d Delta) IsZero() bool {
	return d.Status == nil &&
		d.PlaybackPositionMS == nil &&
		d.IsPlaying == nil &&
		len(d.AppendMessages) == 0 &&
		len(d.UpsertParticipants) == 0 &&
		len(d.TouchParticipants) == 0
}

// Apply mutates the party in place. The transcript is bounded to limit entries,
// evicting from the head; append never reorders retained messages. Messages
// whose IDs are already present are skipped so retried writes stay idempotent.
func (p *Party) Apply(d Delta, limit int, now time.Time) error {
	if p == nil {
		return errors.New("party: nil record")
	}
	if limit <= 0 {
		limit = DefaultTranscriptCap
	}

	if d.Status != nil {
		if !d.Status.Valid() {
			return fmt.Errorf("party: unknown status %q", *d.Status)
		}
		if !p.Status.CanTransitionTo(*d.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, p.Status, *d.Status)
		}
		p.Status = *d.Status
	}

	if d.PlaybackPositionMS != nil {
		p.PlaybackPositionMS = p.ClampPosition(*d.PlaybackPositionMS)
	}

	if d.IsPlaying != nil {
		p.IsPlaying = *d.IsPlaying
	}

	for _, member := range d.UpsertParticipants {
		if member.ID == "" {
			return errors.New("party: participant id is required")
		}
		p.upsertParticipant(member)
	}

	for _, id := range d.TouchParticipants {
		for i := range p.Roster {
			if p.Roster[i].ID == id && now.After(p.Roster[i].LastSeen) {
				p.Roster[i].LastSeen = now
			}
		}
	}

	for _, msg := range d.AppendMessages {
		if msg.ID == "" {
			return errors.New("party: message id is required")
		}
		if p.hasMessage(msg.ID) {
			continue
		}
		p.Transcript = append(p.Transcript, msg)
	}
	if excess := len(p.Transcript) - limit; excess > 0 {
		p.Transcript = append(p.Transcript[:0:0], p.Transcript[excess:]...)
	}

	return nil
}

func (p *Party) upsertParticipant(member Participant) {
	for i := range p.Roster {
		if p.Roster[i].ID == member.ID {
			// LastSeen is monotone while the entry is live; a rejoin may
			// reset it together with a fresh JoinedAt.
			if member.LastSeen.Before(p.Roster[i].LastSeen) && member.JoinedAt.Equal(p.Roster[i].JoinedAt) {
				member.LastSeen = p.Roster[i].LastSeen
			}
			p.Roster[i] = member
			return
		}
	}
	p.Roster = append(p.Roster, member)
}

func (p *Party) hasMessage(id string) bool {
	for _, msg := range p.Transcript {
		if msg.ID == id {
			return true
		}
	}
	return false
}
