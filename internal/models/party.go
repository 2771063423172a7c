package models

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/cinemood/watchparty/internal/party"
)

// Party is the persistent watch-party record. Playback state lives in scalar
// columns so conditional updates stay cheap; the roster and transcript are
// stored as JSON documents since the engine always reads and writes them as
// whole snapshots.
type Party struct {
	BaseModel

	Name            string `gorm:"type:varchar(255);not null" json:"name"`
	HostID          string `gorm:"type:uuid;index;not null" json:"host_id"`
	MediaRef        string `gorm:"type:varchar(255);not null" json:"media_ref"`
	MediaDurationMS int64  `json:"media_duration_ms"`

	Status             string `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	PlaybackPositionMS int64  `gorm:"not null;default:0" json:"playback_position_ms"`
	IsPlaying          bool   `gorm:"not null;default:false" json:"is_playing"`

	// Version increments on every accepted write and backs the store's
	// conditional-update check.
	Version int64 `gorm:"not null;default:1" json:"version"`

	Roster     datatypes.JSON `json:"roster"`
	Transcript datatypes.JSON `json:"transcript"`
}

// ToDomain converts the persisted record into the engine's snapshot type.
func (p *Party) ToDomain() (*party.Party, error) {
	snapshot := &party.Party{
		ID:                 p.ID,
		Name:               p.Name,
		HostID:             p.HostID,
		MediaRef:           p.MediaRef,
		MediaDurationMS:    p.MediaDurationMS,
		Status:             party.Status(p.Status),
		PlaybackPositionMS: p.PlaybackPositionMS,
		IsPlaying:          p.IsPlaying,
		Version:            p.Version,
		UpdatedAt:          p.UpdatedAt,
	}

	if len(p.Roster) > 0 {
		if err := json.Unmarshal(p.Roster, &snapshot.Roster); err != nil {
			return nil, fmt.Errorf("decode roster for party %s: %w", p.ID, err)
		}
	}
	if len(p.Transcript) > 0 {
		if err := json.Unmarshal(p.Transcript, &snapshot.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript for party %s: %w", p.ID, err)
		}
	}

	return snapshot, nil
}

// FromDomain populates the record's mutable columns from a snapshot.
func (p *Party) FromDomain(snapshot *party.Party) error {
	roster, err := json.Marshal(snapshot.Roster)
	if err != nil {
		return fmt.Errorf("encode roster for party %s: %w", snapshot.ID, err)
	}
	transcript, err := json.Marshal(snapshot.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript for party %s: %w", snapshot.ID, err)
	}

	p.ID = snapshot.ID
	p.Name = snapshot.Name
	p.HostID = snapshot.HostID
	p.MediaRef = snapshot.MediaRef
	p.MediaDurationMS = snapshot.MediaDurationMS
	p.Status = string(snapshot.Status)
	p.PlaybackPositionMS = snapshot.PlaybackPositionMS
	p.IsPlaying = snapshot.IsPlaying
	p.Version = snapshot.Version
	p.Roster = roster
	p.Transcript = transcript
	return nil
}
