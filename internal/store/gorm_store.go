package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cinemood/watchparty/internal/models"
	"github.com/cinemood/watchparty/internal/party"
	apperrors "github.com/cinemood/watchparty/pkg/errors"
)

// GormStore persists party records through gorm with optimistic version
// checks: every write is scoped by "WHERE version = ?", so a racing writer
// loses cleanly with ErrVersionConflict instead of clobbering state.
type GormStore struct {
	db            *gorm.DB
	transcriptCap int
	timeNow       func() time.Time
	*notifier
}

// GormOption customises a GormStore.
type GormOption func(*GormStore)

// WithGormClock overrides the clock, primarily for tests.
func WithGormClock(now func() time.Time) GormOption {
	return func(s *GormStore) {
		if now != nil {
			s.timeNow = now
		}
	}
}

// WithGormTranscriptCap overrides the transcript bound.
func WithGormTranscriptCap(limit int) GormOption {
	return func(s *GormStore) {
		if limit > 0 {
			s.transcriptCap = limit
		}
	}
}

// NewGormStore constructs a store backed by the supplied database handle.
func NewGormStore(db *gorm.DB, opts ...GormOption) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("gorm store: db is required")
	}
	s := &GormStore{
		db:            db,
		transcriptCap: party.DefaultTranscriptCap,
		timeNow:       time.Now,
		notifier:      newNotifier(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create persists a new party record.
func (s *GormStore) Create(ctx context.Context, p *party.Party) (*party.Party, error) {
	if p == nil {
		return nil, errors.New("gorm store: party is required")
	}

	snapshot := p.Clone()
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.Status == "" {
		snapshot.Status = party.StatusPending
	}
	snapshot.Version = 1
	snapshot.UpdatedAt = s.timeNow()

	var record models.Party
	if err := record.FromDomain(snapshot); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, apperrors.ErrConnectivity.WithInternal(err)
	}

	return record.ToDomain()
}

// Get returns the current snapshot for the party.
func (s *GormStore) Get(ctx context.Context, id string) (*party.Party, error) {
	var record models.Party
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperrors.ErrPartyNotFound
	case err != nil:
		return nil, apperrors.ErrConnectivity.WithInternal(err)
	}
	return record.ToDomain()
}

// Update applies the delta when expectedVersion still matches the stored row.
func (s *GormStore) Update(ctx context.Context, id string, expectedVersion int64, delta party.Delta) (*party.Party, error) {
	var snapshot *party.Party

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.Party
		err := tx.First(&record, "id = ?", id).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return apperrors.ErrPartyNotFound
		case err != nil:
			return apperrors.ErrConnectivity.WithInternal(err)
		}

		if record.Version != expectedVersion {
			return apperrors.ErrVersionConflict
		}

		current, err := record.ToDomain()
		if err != nil {
			return err
		}

		now := s.timeNow()
		if err := current.Apply(delta, s.transcriptCap, now); err != nil {
			return apperrors.NewBadRequest(err.Error()).WithInternal(err)
		}
		current.Version = expectedVersion + 1
		current.UpdatedAt = now

		var updated models.Party
		if err := updated.FromDomain(current); err != nil {
			return err
		}

		// The version predicate makes this a compare-and-swap even if another
		// writer slipped in between the read above and this write.
		result := tx.Model(&models.Party{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(map[string]any{
				"status":               updated.Status,
				"playback_position_ms": updated.PlaybackPositionMS,
				"is_playing":           updated.IsPlaying,
				"roster":               updated.Roster,
				"transcript":           updated.Transcript,
				"version":              updated.Version,
				"updated_at":           now,
			})
		if result.Error != nil {
			return apperrors.ErrConnectivity.WithInternal(result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrVersionConflict
		}

		snapshot = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(snapshot)
	return snapshot.Clone(), nil
}

// Subscribe registers a change callback for the party. Notifications cover
// writes made through this store instance; cross-instance deployments rely on
// the engine's fallback polling.
func (s *GormStore) Subscribe(id string, fn func(*party.Party)) (func(), error) {
	if fn == nil {
		return nil, errors.New("gorm store: callback is required")
	}
	return s.subscribe(id, fn), nil
}
