package realtime

import (
	"context"
	"errors"

	"github.com/cinemood/watchparty/internal/party"
	"github.com/cinemood/watchparty/internal/store"
)

// PartyNotifier decorates a store so every accepted write is pushed to the
// realtime hub. Connected clients receive fresh snapshots without waiting for
// their next poll.
type PartyNotifier struct {
	store.Store

	hub *Hub
}

// NewPartyNotifier wraps the given store with hub broadcasting.
func NewPartyNotifier(inner store.Store, hub *Hub) (*PartyNotifier, error) {
	if inner == nil {
		return nil, errors.New("realtime: inner store is required")
	}
	if hub == nil {
		return nil, errors.New("realtime: hub is required")
	}
	return &PartyNotifier{Store: inner, hub: hub}, nil
}

// Create persists the party and announces the initial snapshot.
func (n *PartyNotifier) Create(ctx context.Context, p *party.Party) (*party.Party, error) {
	created, err := n.Store.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	n.broadcast(created)
	return created, nil
}

// Update applies the delta and announces the resulting snapshot. Rejected
// writes broadcast nothing.
func (n *PartyNotifier) Update(ctx context.Context, id string, expectedVersion int64, delta party.Delta) (*party.Party, error) {
	updated, err := n.Store.Update(ctx, id, expectedVersion, delta)
	if err != nil {
		return nil, err
	}
	n.broadcast(updated)
	return updated, nil
}

func (n *PartyNotifier) broadcast(snapshot *party.Party) {
	if snapshot == nil {
		return
	}
	n.hub.BroadcastParty(snapshot.ID, EventPartyUpdated, snapshot)
	if snapshot.Status == party.StatusEnded {
		n.hub.BroadcastParty(snapshot.ID, EventPartyEnded, snapshot)
	}
}
