package store

import (
	"context"
	"sync"

	"github.com/cinemood/watchparty/internal/party"
)

// Store is the durable holder of party records. All mutation is conditional:
// an update carries the version the writer last observed and is rejected with
// pkg/errors.ErrVersionConflict when the record has moved on. Implementations
// never hand out shared snapshots; every returned *party.Party is a copy.
type Store interface {
	// Create persists a new party record and returns the stored snapshot.
	Create(ctx context.Context, p *party.Party) (*party.Party, error)

	// Get returns the current snapshot or pkg/errors.ErrPartyNotFound.
	Get(ctx context.Context, id string) (*party.Party, error)

	// Update applies a field-scoped delta if expectedVersion still matches.
	Update(ctx context.Context, id string, expectedVersion int64, delta party.Delta) (*party.Party, error)

	// Subscribe registers a change callback for one party and returns an
	// unsubscribe function. Delivery is best effort; the engine's fallback
	// poll covers dropped notifications.
	Subscribe(id string, fn func(*party.Party)) (func(), error)
}

// notifier fans out change notifications to per-party subscribers. Both store
// implementations embed one so push behaviour is identical.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(*party.Party)
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]map[int]func(*party.Party))}
}

func (n *notifier) subscribe(partyID string, fn func(*party.Party)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	if n.subs[partyID] == nil {
		n.subs[partyID] = make(map[int]func(*party.Party))
	}
	n.subs[partyID][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if subs := n.subs[partyID]; subs != nil {
			delete(subs, id)
			if len(subs) == 0 {
				delete(n.subs, partyID)
			}
		}
	}
}

// notify dispatches each callback with its own copy of the snapshot. Callbacks
// run on a fresh goroutine so a slow subscriber cannot stall the writer.
func (n *notifier) notify(snapshot *party.Party) {
	if snapshot == nil {
		return
	}

	n.mu.Lock()
	callbacks := make([]func(*party.Party), 0, len(n.subs[snapshot.ID]))
	for _, fn := range n.subs[snapshot.ID] {
		callbacks = append(callbacks, fn)
	}
	n.mu.Unlock()

	for _, fn := range callbacks {
		go fn(snapshot.Clone())
	}
}
