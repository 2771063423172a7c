package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cinemood/watchparty/internal/party"
	"github.com/cinemood/watchparty/internal/store"
	apperrors "github.com/cinemood/watchparty/pkg/errors"
	"github.com/cinemood/watchparty/pkg/logger"
	"github.com/cinemood/watchparty/pkg/metrics"
)

const mergeQueueSize = 16

// SyncLoop keeps local playback converged with the authoritative party record
// and publishes local intent outward. Push notifications and the fallback poll
// both feed the same serialized apply step, so two merges never interleave.
// The loop is retry-agnostic: every store failure is reported to the
// supervisor and nothing is retried here except the single conflict re-merge
// that conditional writes require.
type SyncLoop struct {
	store      store.Store
	actuator   PlaybackActuator
	supervisor *ReconnectSupervisor
	cfg        Config
	partyID    string
	log        *zap.Logger
	onMerge    func(*party.Party)

	mu      sync.Mutex // guards current and started
	applyMu sync.Mutex // serializes the whole apply step
	current *party.Party
	started bool

	merges chan *party.Party
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncLoop constructs a loop for one party membership. onMerge is invoked
// with a fresh snapshot copy after every applied merge; it may be nil.
func NewSyncLoop(st store.Store, actuator PlaybackActuator, cfg Config, partyID string, onMerge func(*party.Party)) *SyncLoop {
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncLoop{
		store:    st,
		actuator: actuator,
		cfg:      cfg.withDefaults(),
		partyID:  partyID,
		log:      logger.WithModule("syncloop").With(zap.String("party_id", partyID)),
		onMerge:  onMerge,
		merges:   make(chan *party.Party, mergeQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// SetSupervisor wires the failure sink. Must be called before Start.
func (l *SyncLoop) SetSupervisor(s *ReconnectSupervisor) {
	l.supervisor = s
}

// Start seeds the loop with the snapshot returned by join and begins the
// fallback poll.
func (l *SyncLoop) Start(initial *party.Party) {
	l.mu.Lock()
	l.current = initial.Clone()
	l.started = true
	l.mu.Unlock()

	l.correctDrift(nil, initial)

	go l.run()
}

// Stop cancels the poll timer and abandons queued merges without applying
// them. Safe to call more than once.
func (l *SyncLoop) Stop() {
	l.cancel()

	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if started {
		<-l.done
	}
}

// Current returns a copy of the last applied snapshot, or nil before Start.
func (l *SyncLoop) Current() *party.Party {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Clone()
}

// Enqueue feeds a push-notified snapshot into the merge queue. Delivery is
// best effort; a full queue drops the update and the next poll self-heals.
func (l *SyncLoop) Enqueue(p *party.Party) {
	if p == nil {
		return
	}
	select {
	case l.merges <- p:
	default:
		l.log.Debug("merge queue full, dropping push update", zap.Int64("version", p.Version))
	}
}

// Resync performs one full read-and-merge. The supervisor calls this during
// recovery; join uses it to seed state.
func (l *SyncLoop) Resync(ctx context.Context) error {
	snapshot, err := l.store.Get(ctx, l.partyID)
	if err != nil {
		return err
	}
	l.apply(snapshot)
	return nil
}

func (l *SyncLoop) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case snapshot := <-l.merges:
			l.apply(snapshot)
		case <-ticker.C:
			l.poll()
		}
	}
}

// poll re-reads the full party as a fallback for dropped push notifications.
func (l *SyncLoop) poll() {
	snapshot, err := l.store.Get(l.ctx, l.partyID)
	if err != nil {
		if l.ctx.Err() != nil {
			return
		}
		if l.supervisor != nil {
			l.supervisor.ReportFailure(err)
		}
		return
	}
	if l.supervisor != nil {
		l.supervisor.ReportSuccess()
	}
	l.apply(snapshot)
}

// apply merges an authoritative snapshot if it is newer than the last applied
// version. Stale or duplicate versions are discarded whole; fields from
// different versions are never mixed.
func (l *SyncLoop) apply(snapshot *party.Party) {
	if snapshot == nil || l.ctx.Err() != nil {
		return
	}

	l.applyMu.Lock()
	defer l.applyMu.Unlock()

	l.mu.Lock()
	if l.current != nil && snapshot.Version <= l.current.Version {
		l.mu.Unlock()
		metrics.MergesApplied.WithLabelValues("stale").Inc()
		return
	}
	prev := l.current
	l.current = snapshot.Clone()
	l.mu.Unlock()

	metrics.MergesApplied.WithLabelValues("applied").Inc()
	l.log.Debug("merged remote state", zap.Int64("version", snapshot.Version))

	l.correctDrift(prev, snapshot)

	if l.onMerge != nil {
		l.onMerge(snapshot.Clone())
	}
}

// correctDrift converges the actuator on the merged target. Play/pause is
// issued only on intent changes; a seek is issued only when the position gap
// exceeds the tolerance, leaving small clock-skew wobble alone.
func (l *SyncLoop) correctDrift(prev, next *party.Party) {
	if l.actuator == nil {
		return
	}

	if prev == nil || prev.IsPlaying != next.IsPlaying {
		var err error
		if next.IsPlaying {
			err = l.actuator.Play(l.ctx)
		} else {
			err = l.actuator.Pause(l.ctx)
		}
		if err != nil {
			l.log.Warn("playback intent command failed", zap.Error(err))
		}
	}

	position, err := l.actuator.Position(l.ctx)
	if err != nil {
		l.log.Warn("actuator position unavailable", zap.Error(err))
		return
	}

	diff := position - next.PlaybackPositionMS
	if diff < 0 {
		diff = -diff
	}
	if diff > l.cfg.DriftToleranceMS {
		if err := l.actuator.Seek(l.ctx, next.PlaybackPositionMS); err != nil {
			l.log.Warn("drift seek failed", zap.Error(err))
			return
		}
		metrics.DriftSeeks.Inc()
	}
}

// Publish writes local intent as a field-scoped conditional update. The build
// callback derives the delta from the freshest known snapshot so a retry after
// a version conflict re-evaluates intent against the merged state. A second
// conflict is abandoned: the store holds someone else's newer write and the
// next merge reconciles us.
func (l *SyncLoop) Publish(ctx context.Context, build func(current *party.Party) party.Delta) error {
	current := l.Current()
	if current == nil {
		return errors.New("syncloop: no party state to publish against")
	}

	delta := build(current)
	if delta.IsZero() {
		return nil
	}

	updated, err := l.store.Update(ctx, l.partyID, current.Version, delta)
	if apperrors.IsConflict(err) {
		metrics.WriteConflicts.Inc()

		latest, getErr := l.store.Get(ctx, l.partyID)
		if getErr != nil {
			return l.reportWriteFailure(getErr)
		}
		l.apply(latest)

		delta = build(latest)
		if delta.IsZero() {
			return nil
		}
		updated, err = l.store.Update(ctx, l.partyID, latest.Version, delta)
		if apperrors.IsConflict(err) {
			metrics.WriteConflicts.Inc()
			return nil
		}
	}
	if err != nil {
		return l.reportWriteFailure(err)
	}

	l.apply(updated)
	if l.supervisor != nil {
		l.supervisor.ReportSuccess()
	}
	return nil
}

// reportWriteFailure routes transport failures to the supervisor while letting
// caller-actionable errors (missing party, rejected payload) pass straight
// through.
func (l *SyncLoop) reportWriteFailure(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrPartyNotFound.Code, apperrors.ErrBadRequest.Code:
			return err
		}
	}
	if l.supervisor != nil {
		l.supervisor.ReportFailure(err)
	}
	return err
}
