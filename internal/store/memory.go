package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cinemood/watchparty/internal/party"
	apperrors "github.com/cinemood/watchparty/pkg/errors"
)

// MemoryStore is an in-process Store used for tests and single-node
// deployments. It enforces the same versioning discipline as the gorm store.
type MemoryStore struct {
	mu            sync.RWMutex
	parties       map[string]*party.Party
	transcriptCap int
	timeNow       func() time.Time
	*notifier
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock, primarily for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.timeNow = now
		}
	}
}

// WithMemoryTranscriptCap overrides the transcript bound.
func WithMemoryTranscriptCap(limit int) MemoryOption {
	return func(s *MemoryStore) {
		if limit > 0 {
			s.transcriptCap = limit
		}
	}
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		parties:       make(map[string]*party.Party),
		transcriptCap: party.DefaultTranscriptCap,
		timeNow:       time.Now,
		notifier:      newNotifier(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a new party record.
func (s *MemoryStore) Create(ctx context.Context, p *party.Party) (*party.Party, error) {
	if p == nil {
		return nil, errors.New("memory store: party is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.ErrConnectivity.WithInternal(err)
	}

	record := p.Clone()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = party.StatusPending
	}
	record.Version = 1
	record.UpdatedAt = s.timeNow()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.parties[record.ID]; exists {
		return nil, apperrors.ErrVersionConflict
	}
	s.parties[record.ID] = record

	return record.Clone(), nil
}

// Get returns a copy of the current snapshot.
func (s *MemoryStore) Get(ctx context.Context, id string) (*party.Party, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.ErrConnectivity.WithInternal(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.parties[id]
	if !ok {
		return nil, apperrors.ErrPartyNotFound
	}
	return record.Clone(), nil
}

// Update applies the delta when expectedVersion matches the stored version.
func (s *MemoryStore) Update(ctx context.Context, id string, expectedVersion int64, delta party.Delta) (*party.Party, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.ErrConnectivity.WithInternal(err)
	}

	s.mu.Lock()
	record, ok := s.parties[id]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.ErrPartyNotFound
	}
	if record.Version != expectedVersion {
		s.mu.Unlock()
		return nil, apperrors.ErrVersionConflict
	}

	updated := record.Clone()
	now := s.timeNow()
	if err := updated.Apply(delta, s.transcriptCap, now); err != nil {
		s.mu.Unlock()
		return nil, apperrors.NewBadRequest(err.Error()).WithInternal(err)
	}
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = now
	s.parties[id] = updated
	snapshot := updated.Clone()
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot, nil
}

// Subscribe registers a change callback for the party.
func (s *MemoryStore) Subscribe(id string, fn func(*party.Party)) (func(), error) {
	if fn == nil {
		return nil, errors.New("memory store: callback is required")
	}
	return s.subscribe(id, fn), nil
}
