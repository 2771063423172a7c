package realtime

import "strings"

// Events published on party streams.
const (
	EventPartyUpdated = "party.updated"
	EventPartyChat    = "party.chat"
	EventPartyEnded   = "party.ended"
	EventPong         = "pong"
)

const partyStreamPrefix = "party."

// PartyStream returns the stream name carrying updates for one party.
func PartyStream(partyID string) string {
	return partyStreamPrefix + strings.ToLower(strings.TrimSpace(partyID))
}
