package engine

import (
	"time"

	"github.com/cinemood/watchparty/internal/party"
)

// ConnectionState is the supervisor's health flag as exposed to the UI.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnected    ConnectionState = "connected"
	StateDegraded     ConnectionState = "degraded"
	StateReconnecting ConnectionState = "reconnecting"
	StateTerminated   ConnectionState = "terminated"
)

// Snapshot is the read-only view handed to the UI layer. It is recomputed on
// every merge and on connection state changes; consumers never see partially
// merged state.
type Snapshot struct {
	PartyID            string              `json:"party_id"`
	Name               string              `json:"name"`
	MediaRef           string              `json:"media_ref"`
	Status             party.Status        `json:"status"`
	PlaybackPositionMS int64               `json:"playback_position_ms"`
	IsPlaying          bool                `json:"is_playing"`
	Roster             []party.Participant `json:"roster"`
	Transcript         []party.ChatMessage `json:"transcript"`
	Version            int64               `json:"version"`
	ConnectionState    ConnectionState     `json:"connection_state"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// snapshotFrom builds a Snapshot from an authoritative party state, flagging
// roster entries as inactive when their heartbeat is older than the window.
// Staleness is presentational only; it never writes back to the store.
func snapshotFrom(p *party.Party, state ConnectionState, inactivityWindow time.Duration, now time.Time) Snapshot {
	snap := Snapshot{
		ConnectionState: state,
	}
	if p == nil {
		return snap
	}

	snap.PartyID = p.ID
	snap.Name = p.Name
	snap.MediaRef = p.MediaRef
	snap.Status = p.Status
	snap.PlaybackPositionMS = p.PlaybackPositionMS
	snap.IsPlaying = p.IsPlaying
	snap.Version = p.Version
	snap.UpdatedAt = p.UpdatedAt
	snap.Transcript = append([]party.ChatMessage(nil), p.Transcript...)

	snap.Roster = make([]party.Participant, len(p.Roster))
	copy(snap.Roster, p.Roster)
	if inactivityWindow > 0 {
		threshold := now.Add(-inactivityWindow)
		for i := range snap.Roster {
			if snap.Roster[i].Status == party.ParticipantActive && snap.Roster[i].LastSeen.Before(threshold) {
				snap.Roster[i].Status = party.ParticipantInactive
			}
		}
	}

	return snap
}
