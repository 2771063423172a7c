package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/cinemood/watchparty/pkg/errors"
)

func fastReconnectConfig(attempts int) ReconnectConfig {
	return ReconnectConfig{
		MaxAttempts:  attempts,
		InitialDelay: 2 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// stateRecorder collects every transition the supervisor announces.
type stateRecorder struct {
	mu     sync.Mutex
	states []SupervisorState
}

func (r *stateRecorder) record(state SupervisorState) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *stateRecorder) seen() []SupervisorState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SupervisorState(nil), r.states...)
}

func (r *stateRecorder) contains(want SupervisorState) bool {
	for _, s := range r.seen() {
		if s == want {
			return true
		}
	}
	return false
}

func TestSupervisorRecoversOnImmediateRetry(t *testing.T) {
	recorder := &stateRecorder{}
	sup := NewReconnectSupervisor(fastReconnectConfig(3),
		func(context.Context) error { return nil },
		recorder.record,
		func(error) { t.Error("terminate callback must not fire") },
	)
	defer sup.Stop()

	sup.ReportFailure(errors.New("push stream dropped"))

	require.Eventually(t, func() bool {
		return sup.State() == SupervisorConnected
	}, time.Second, time.Millisecond)

	require.Equal(t, 0, sup.Attempts())
	require.True(t, recorder.contains(SupervisorDegraded))
	// The immediate retry succeeded, so backoff never started.
	require.False(t, recorder.contains(SupervisorDisconnected))
}

func TestSupervisorWalksBackoffThenRecovers(t *testing.T) {
	var mu sync.Mutex
	failures := 3

	recorder := &stateRecorder{}
	sup := NewReconnectSupervisor(fastReconnectConfig(5),
		func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			if failures > 0 {
				failures--
				return errors.New("store unreachable")
			}
			return nil
		},
		recorder.record,
		func(error) { t.Error("terminate callback must not fire") },
	)
	defer sup.Stop()

	sup.ReportFailure(errors.New("poll failed"))

	require.Eventually(t, func() bool {
		return sup.State() == SupervisorConnected
	}, time.Second, time.Millisecond)

	require.Equal(t, 0, sup.Attempts())
	require.True(t, recorder.contains(SupervisorDegraded))
	require.True(t, recorder.contains(SupervisorDisconnected))
	require.True(t, recorder.contains(SupervisorRecovering))
}

func TestSupervisorTerminatesAfterExhaustingAttempts(t *testing.T) {
	var termErr error
	done := make(chan struct{})

	recorder := &stateRecorder{}
	sup := NewReconnectSupervisor(fastReconnectConfig(2),
		func(context.Context) error { return errors.New("still down") },
		recorder.record,
		func(err error) {
			termErr = err
			close(done)
		},
	)

	sup.ReportFailure(errors.New("poll failed"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor never terminated")
	}

	require.Equal(t, SupervisorTerminated, sup.State())
	require.ErrorIs(t, termErr, apperrors.ErrTerminal)
	require.True(t, recorder.contains(SupervisorDisconnected))
}

func TestSupervisorAbsorbsFailuresDuringRecovery(t *testing.T) {
	attempts := make(chan struct{}, 16)
	release := make(chan struct{})

	sup := NewReconnectSupervisor(fastReconnectConfig(3),
		func(context.Context) error {
			attempts <- struct{}{}
			<-release
			return nil
		},
		nil, nil,
	)
	defer sup.Stop()

	sup.ReportFailure(errors.New("first"))
	<-attempts

	// More reports while the attempt is in flight must not fork a second
	// recovery timeline.
	sup.ReportFailure(errors.New("second"))
	sup.ReportFailure(errors.New("third"))
	close(release)

	require.Eventually(t, func() bool {
		return sup.State() == SupervisorConnected
	}, time.Second, time.Millisecond)
	require.Len(t, attempts, 0)
}

func TestSupervisorStopCancelsBackoffPromptly(t *testing.T) {
	cfg := ReconnectConfig{
		MaxAttempts:  5,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
	}
	sup := NewReconnectSupervisor(cfg,
		func(context.Context) error { return errors.New("still down") },
		nil,
		func(error) { t.Error("terminate callback must not fire on stop") },
	)

	sup.ReportFailure(errors.New("poll failed"))

	require.Eventually(t, func() bool {
		return sup.State() == SupervisorDisconnected
	}, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		sup.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop did not cancel the backoff timer")
	}
	require.Equal(t, SupervisorTerminated, sup.State())
}

func TestSupervisorIgnoresReportsAfterTermination(t *testing.T) {
	sup := NewReconnectSupervisor(fastReconnectConfig(1),
		func(context.Context) error { return nil },
		nil, nil,
	)
	sup.Stop()

	sup.ReportFailure(errors.New("late"))
	sup.ReportSuccess()

	require.Equal(t, SupervisorTerminated, sup.State())
}
