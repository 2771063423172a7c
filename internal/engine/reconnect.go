package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/cinemood/watchparty/pkg/errors"
	"github.com/cinemood/watchparty/pkg/logger"
	"github.com/cinemood/watchparty/pkg/metrics"
)

// SupervisorState is the reconnect state machine's position.
type SupervisorState string

const (
	SupervisorConnected    SupervisorState = "connected"
	SupervisorDegraded     SupervisorState = "degraded"
	SupervisorDisconnected SupervisorState = "disconnected"
	SupervisorRecovering   SupervisorState = "recovering"
	SupervisorTerminated   SupervisorState = "terminated"
)

// RecoverFunc re-establishes the push subscription and performs one full
// poll-merge. It is the only work the supervisor knows how to schedule.
type RecoverFunc func(ctx context.Context) error

// ReconnectSupervisor owns the session's entire retry policy. The sync loop
// reports failures here and never retries on its own. One failure degrades the
// session and triggers a single immediate retry; further failure disconnects
// it and enters bounded exponential backoff. Exhausting the attempt budget
// terminates the session through the onTerminate callback.
type ReconnectSupervisor struct {
	cfg         ReconnectConfig
	recoverFn   RecoverFunc
	onState     func(SupervisorState)
	onTerminate func(error)
	log         *zap.Logger

	mu         sync.Mutex
	state      SupervisorState
	attempts   int
	recovering bool

	ctx    context.Context
	cancel context.CancelFunc
	idle   sync.WaitGroup
}

// NewReconnectSupervisor constructs a supervisor in the Connected state.
// onState is invoked on every transition; onTerminate fires once when the
// attempt budget is exhausted. Both may be nil.
func NewReconnectSupervisor(cfg ReconnectConfig, recoverFn RecoverFunc, onState func(SupervisorState), onTerminate func(error)) *ReconnectSupervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReconnectSupervisor{
		cfg:         cfg,
		recoverFn:   recoverFn,
		onState:     onState,
		onTerminate: onTerminate,
		log:         logger.WithModule("reconnect"),
		state:       SupervisorConnected,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// State returns the current machine position.
func (s *ReconnectSupervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of failed backoff attempts since the last
// successful recovery.
func (s *ReconnectSupervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// ReportSuccess records a healthy operation, returning the machine to
// Connected and resetting the attempt counter. Reports arriving while a
// recovery is in flight are ignored; the recovery's own outcome decides.
func (s *ReconnectSupervisor) ReportSuccess() {
	s.mu.Lock()
	if s.state == SupervisorTerminated || s.recovering {
		s.mu.Unlock()
		return
	}
	s.attempts = 0
	changed := s.transition(SupervisorConnected)
	s.mu.Unlock()

	s.notify(changed, SupervisorConnected)
}

// ReportFailure records a failed operation. The first report starts a recovery
// sequence; reports arriving while one is in flight are absorbed, keeping a
// single retry timeline regardless of how many producers observe the outage.
func (s *ReconnectSupervisor) ReportFailure(err error) {
	s.mu.Lock()
	if s.state == SupervisorTerminated || s.recovering {
		s.mu.Unlock()
		return
	}
	s.recovering = true
	changed := s.transition(SupervisorDegraded)
	s.mu.Unlock()

	s.notify(changed, SupervisorDegraded)
	s.log.Warn("sync failure, entering recovery", zap.Error(err))

	s.idle.Add(1)
	go s.recoverLoop()
}

// Stop cancels any in-flight recovery and waits for it to settle. After Stop
// the supervisor accepts no further reports.
func (s *ReconnectSupervisor) Stop() {
	s.cancel()
	s.idle.Wait()

	// Silent transition: the caller decides how shutdown is presented.
	s.mu.Lock()
	s.recovering = false
	s.transition(SupervisorTerminated)
	s.mu.Unlock()
}

func (s *ReconnectSupervisor) recoverLoop() {
	defer s.idle.Done()

	// Degraded: one immediate retry before backing off.
	if s.attempt() {
		return
	}
	s.setState(SupervisorDisconnected)

	delay := s.cfg.InitialDelay
	for i := 1; i <= s.cfg.MaxAttempts; i++ {
		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.setState(SupervisorRecovering)
		if s.attempt() {
			return
		}
		s.setState(SupervisorDisconnected)

		s.mu.Lock()
		s.attempts = i
		s.mu.Unlock()

		delay = time.Duration(float64(delay) * s.cfg.Multiplier)
		if delay > s.cfg.MaxDelay {
			delay = s.cfg.MaxDelay
		}
	}

	s.setState(SupervisorTerminated)
	s.log.Error("reconnect attempts exhausted", zap.Int("attempts", s.cfg.MaxAttempts))
	if s.onTerminate != nil {
		s.onTerminate(apperrors.ErrTerminal)
	}
}

// attempt runs one recovery try and settles the machine on success.
func (s *ReconnectSupervisor) attempt() bool {
	if s.ctx.Err() != nil {
		return false
	}

	if err := s.recoverFn(s.ctx); err != nil {
		metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
		s.log.Warn("recovery attempt failed", zap.Error(err))
		return false
	}

	metrics.ReconnectAttempts.WithLabelValues("success").Inc()
	s.mu.Lock()
	s.attempts = 0
	s.recovering = false
	changed := s.transition(SupervisorConnected)
	s.mu.Unlock()

	s.notify(changed, SupervisorConnected)
	return true
}

func (s *ReconnectSupervisor) setState(state SupervisorState) {
	s.mu.Lock()
	changed := s.transition(state)
	s.mu.Unlock()

	s.notify(changed, state)
}

// transition must be called with s.mu held; the state callback fires outside
// the lock via notify.
func (s *ReconnectSupervisor) transition(state SupervisorState) bool {
	if s.state == state {
		return false
	}
	s.state = state
	return true
}

func (s *ReconnectSupervisor) notify(changed bool, state SupervisorState) {
	if changed && s.onState != nil {
		s.onState(state)
	}
}
