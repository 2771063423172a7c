package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cinemood/watchparty/internal/models"
	"github.com/cinemood/watchparty/internal/party"
	"github.com/cinemood/watchparty/pkg/logger"
)

const (
	defaultSchedule     = "@hourly"
	defaultAbandonAfter = 2 * time.Hour
	defaultRetainEnded  = 30 * 24 * time.Hour
)

// Cleaner coordinates background maintenance: ending parties whose roster went
// quiet without a clean leave, and pruning long-ended records.
type Cleaner struct {
	db   *gorm.DB
	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	schedule     string
	abandonAfter time.Duration
	retainEnded  time.Duration
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSchedule overrides the cron expression for the cleanup run.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithAbandonAfter adjusts how long a party may sit untouched before it is
// considered abandoned and force-ended.
func WithAbandonAfter(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.abandonAfter = d
		}
	}
}

// WithRetainEnded adjusts how long ended party records are kept.
func WithRetainEnded(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retainEnded = d
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(db *gorm.DB, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:           db,
		now:          time.Now,
		schedule:     defaultSchedule,
		abandonAfter: defaultAbandonAfter,
		retainEnded:  defaultRetainEnded,
		log:          logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the cleanup job with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.db == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("party cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all cleanup routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.db == nil {
		return nil
	}

	var errs error
	now := c.now()

	ended, err := EndAbandonedParties(ctx, c.db, now.Add(-c.abandonAfter), now)
	if err != nil {
		errs = multierr.Append(errs, err)
	} else if ended > 0 {
		c.log.Info("ended abandoned parties", zap.Int64("count", ended))
	}

	pruned, err := PruneEndedParties(ctx, c.db, now.Add(-c.retainEnded))
	if err != nil {
		errs = multierr.Append(errs, err)
	} else if pruned > 0 {
		c.log.Info("pruned ended parties", zap.Int64("count", pruned))
	}

	return errs
}

// EndAbandonedParties force-ends parties that have not been written to since
// the cutoff. The version bump makes connected clients pick the change up on
// their next poll.
func EndAbandonedParties(ctx context.Context, db *gorm.DB, cutoff, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("end abandoned parties: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Model(&models.Party{}).
		Where("status IN ? AND updated_at < ?", []string{
			string(party.StatusPending),
			string(party.StatusActive),
		}, cutoff).
		Updates(map[string]any{
			"status":     string(party.StatusEnded),
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("end abandoned parties: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PruneEndedParties removes ended party records older than the cutoff.
func PruneEndedParties(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("prune ended parties: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(party.StatusEnded), cutoff).
		Delete(&models.Party{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune ended parties: %w", result.Error)
	}
	return result.RowsAffected, nil
}
