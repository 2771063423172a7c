package engine

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/cinemood/watchparty/internal/party"
	"github.com/cinemood/watchparty/internal/store"
	apperrors "github.com/cinemood/watchparty/pkg/errors"
	"github.com/cinemood/watchparty/pkg/logger"
	"github.com/cinemood/watchparty/pkg/metrics"
)

const maxChatBodyLength = 1000

// joinWriteAttempts bounds the conditional-write loop during join; each retry
// re-reads the roster so capacity is re-checked against fresh state.
const joinWriteAttempts = 3

// Identity names the local participant this controller represents.
type Identity struct {
	ID          string
	DisplayName string
}

// Controller owns this client's membership in one watch party: join, rejoin,
// leave, teardown, and the local intent surface the UI calls. One controller
// instance serves one session at a time; compose one per client rather than
// sharing a process-wide singleton.
type Controller struct {
	store    store.Store
	actuator PlaybackActuator
	self     Identity
	cfg      Config
	presence *PresenceTracker
	timeNow  func() time.Time
	log      *zap.Logger

	mu   sync.Mutex
	sess *session

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan Snapshot

	errMu   sync.Mutex
	lastErr error
}

type session struct {
	partyID     string
	loop        *SyncLoop
	supervisor  *ReconnectSupervisor
	chat        *ChatBuffer
	unsubscribe func()
	hb          chan struct{}
	hbDone      chan struct{}
	closeOnce   sync.Once

	stateMu sync.Mutex
	state   ConnectionState
}

func (s *session) connectionState() ConnectionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *session) setConnectionState(state ConnectionState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// swapSubscription replaces the push subscription, releasing the old one.
func (s *session) swapSubscription(unsubscribe func()) {
	s.stateMu.Lock()
	old := s.unsubscribe
	s.unsubscribe = unsubscribe
	s.stateMu.Unlock()

	if old != nil {
		old()
	}
}

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithClock overrides the controller clock, primarily for tests.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.timeNow = now
		}
	}
}

// NewController constructs a session controller for the given participant.
func NewController(st store.Store, actuator PlaybackActuator, self Identity, cfg Config, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:    st,
		actuator: actuator,
		self:     self,
		cfg:      cfg.withDefaults(),
		timeNow:  time.Now,
		log:      logger.WithParty("session", "", self.ID),
		subs:     make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.presence = NewPresenceTracker(c.timeNow)
	return c
}

// Create persists a new party in pending status with the caller as host and
// sole participant, then joins it. The host's implicit join is the activating
// write, so the snapshot callers receive is already active; only other
// observers of the store can see the party while it is still pending.
func (c *Controller) Create(ctx context.Context, name, mediaRef string, mediaDurationMS int64) (Snapshot, error) {
	now := c.timeNow()
	record := &party.Party{
		Name:            strings.TrimSpace(name),
		HostID:          c.self.ID,
		MediaRef:        strings.TrimSpace(mediaRef),
		MediaDurationMS: mediaDurationMS,
		Status:          party.StatusPending,
		Roster: []party.Participant{{
			ID:          c.self.ID,
			DisplayName: c.self.DisplayName,
			JoinedAt:    now,
			LastSeen:    now,
			Status:      party.ParticipantActive,
		}},
		Transcript: []party.ChatMessage{
			NewSystemMessage(party.JoinMessageBody(c.self.DisplayName), now),
		},
	}

	created, err := c.store.Create(ctx, record)
	if err != nil {
		return Snapshot{}, err
	}

	return c.Join(ctx, created.ID)
}

// Join registers or refreshes this participant's membership and installs the
// sync loop. It is idempotent: joining an already-joined party only refreshes
// presence. A party at capacity rejects callers who are not already members.
func (c *Controller) Join(ctx context.Context, partyID string) (Snapshot, error) {
	c.mu.Lock()
	if c.sess != nil && c.sess.partyID == partyID {
		sess := c.sess
		c.mu.Unlock()
		// Refresh presence rather than erroring.
		_ = sess.loop.Publish(ctx, func(*party.Party) party.Delta {
			return c.presence.Heartbeat(c.self.ID)
		})
		return c.snapshotLocked(sess), nil
	}
	previous := c.sess
	c.sess = nil
	c.mu.Unlock()

	// Switching parties implies leaving the old one first.
	if previous != nil {
		c.leaveSession(ctx, previous)
	}

	joined, err := c.joinWrite(ctx, partyID)
	if err != nil {
		return Snapshot{}, err
	}

	sess := &session{
		partyID: partyID,
		chat:    NewChatBuffer(c.cfg.TranscriptCap),
		hb:      make(chan struct{}),
		hbDone:  make(chan struct{}),
		state:   StateConnected,
	}
	sess.chat.ReplaceAll(joined.Transcript)

	sess.loop = NewSyncLoop(c.store, c.actuator, c.cfg, partyID, func(p *party.Party) {
		sess.chat.ReplaceAll(p.Transcript)
		c.emit(sess, p)
	})
	sess.supervisor = NewReconnectSupervisor(
		c.cfg.Reconnect,
		func(ctx context.Context) error { return c.recoverSession(ctx, sess) },
		func(state SupervisorState) { c.onSupervisorState(sess, state) },
		func(err error) { c.onTerminated(sess, err) },
	)
	sess.loop.SetSupervisor(sess.supervisor)

	unsubscribe, err := c.store.Subscribe(partyID, sess.loop.Enqueue)
	if err != nil {
		sess.supervisor.Stop()
		return Snapshot{}, apperrors.ErrConnectivity.WithInternal(err)
	}
	sess.swapSubscription(unsubscribe)

	sess.loop.Start(joined)
	go c.heartbeatLoop(sess)

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	metrics.ActiveSessions.Inc()
	c.log = logger.WithParty("session", partyID, c.self.ID)
	c.log.Info("joined watch party", zap.Int64("version", joined.Version))

	snap := c.snapshotLocked(sess)
	c.fanout(snap)
	return snap, nil
}

// joinWrite performs the conditional roster write, re-reading and re-checking
// capacity on each version conflict.
func (c *Controller) joinWrite(ctx context.Context, partyID string) (*party.Party, error) {
	var lastErr error

	for attempt := 0; attempt < joinWriteAttempts; attempt++ {
		current, err := c.store.Get(ctx, partyID)
		if err != nil {
			return nil, err
		}

		if current.Status == party.StatusEnded {
			return nil, apperrors.ErrPartyEnded
		}
		if !current.IsMember(c.self.ID) && current.ActiveCount() >= c.cfg.MaxParticipants {
			return nil, apperrors.ErrPartyFull
		}

		delta := c.presence.RecordJoin(current, c.self.ID, c.self.DisplayName)
		if current.Status == party.StatusPending {
			active := party.StatusActive
			delta.Status = &active
		}

		joined, err := c.store.Update(ctx, partyID, current.Version, delta)
		if apperrors.IsConflict(err) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return joined, nil
	}

	return nil, lastErr
}

// Leave marks this participant as departed, appends the system message, and
// tears the session down. It is a no-op when no session is active. Resource
// release is unconditional: the poll timer, push subscription, and heartbeat
// stop even when the departure write fails.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess == nil {
		return nil
	}

	c.leaveSession(ctx, sess)
	return nil
}

func (c *Controller) leaveSession(ctx context.Context, sess *session) {
	defer c.teardown(sess, StateIdle)

	_ = sess.loop.Publish(ctx, func(current *party.Party) party.Delta {
		delta, ok := c.presence.RecordLeave(current, c.self.ID)
		if !ok {
			return party.Delta{}
		}
		// The last active participant turns the lights off on the way out.
		if current.ActiveCount() <= 1 && current.Status != party.StatusEnded {
			ended := party.StatusEnded
			delta.Status = &ended
		}
		return delta
	})
}

// teardown releases every session resource exactly once and publishes the
// final connection state.
func (c *Controller) teardown(sess *session, final ConnectionState) {
	sess.closeOnce.Do(func() {
		sess.swapSubscription(nil)

		close(sess.hb)
		<-sess.hbDone

		sess.supervisor.Stop()
		sess.loop.Stop()
		sess.setConnectionState(final)

		metrics.ActiveSessions.Dec()
		c.log.Info("session torn down", zap.String("final_state", string(final)))

		c.fanout(Snapshot{ConnectionState: final})
	})
}

// SendChat appends the message locally as tentative state, emits an immediate
// snapshot, and publishes the append. The next merge replaces the tentative
// transcript with the authoritative one.
func (c *Controller) SendChat(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return apperrors.NewBadRequest("chat message body is required")
	}
	if utf8.RuneCountInString(body) > maxChatBodyLength {
		return apperrors.NewBadRequest("chat message body exceeds maximum length")
	}

	sess, err := c.activeSession()
	if err != nil {
		return err
	}

	msg := NewUserMessage(c.self.ID, body, c.timeNow())
	sess.chat.Append(msg)
	c.emit(sess, sess.loop.Current())

	metrics.ChatMessages.WithLabelValues(string(party.MessageUser)).Inc()
	return sess.loop.Publish(ctx, func(*party.Party) party.Delta {
		return party.Delta{AppendMessages: []party.ChatMessage{msg}}
	})
}

// TogglePlayback flips the shared playing intent, carrying the actuator's
// current position so other clients converge on where this one actually is.
func (c *Controller) TogglePlayback(ctx context.Context) error {
	sess, err := c.activeSession()
	if err != nil {
		return err
	}

	var positionMS *int64
	if c.actuator != nil {
		if pos, posErr := c.actuator.Position(ctx); posErr == nil {
			positionMS = &pos
		}
	}

	return sess.loop.Publish(ctx, func(current *party.Party) party.Delta {
		playing := !current.IsPlaying
		return party.Delta{IsPlaying: &playing, PlaybackPositionMS: positionMS}
	})
}

// SeekTo publishes an absolute position. The store clamps it to the media
// duration; the local actuator is moved optimistically and reconciled by the
// follow-up merge.
func (c *Controller) SeekTo(ctx context.Context, positionMS int64) error {
	if positionMS < 0 {
		return apperrors.NewBadRequest("seek position cannot be negative")
	}

	sess, err := c.activeSession()
	if err != nil {
		return err
	}

	if c.actuator != nil {
		if seekErr := c.actuator.Seek(ctx, positionMS); seekErr != nil {
			c.log.Warn("local seek failed", zap.Error(seekErr))
		}
	}

	return sess.loop.Publish(ctx, func(*party.Party) party.Delta {
		return party.Delta{PlaybackPositionMS: &positionMS}
	})
}

// Heartbeat refreshes this participant's presence without other side effects.
func (c *Controller) Heartbeat(ctx context.Context) error {
	sess, err := c.activeSession()
	if err != nil {
		return err
	}
	return sess.loop.Publish(ctx, func(*party.Party) party.Delta {
		return c.presence.Heartbeat(c.self.ID)
	})
}

// Snapshot returns the current read-only view, or an idle snapshot when no
// session is active.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		return Snapshot{ConnectionState: StateIdle}
	}
	return c.snapshotLocked(sess)
}

// ConnectionState returns the session's health flag.
func (c *Controller) ConnectionState() ConnectionState {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		return StateIdle
	}
	return sess.connectionState()
}

// LastError returns the terminal error that ended the previous session, if
// any.
func (c *Controller) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// Subscribe registers a snapshot stream for the UI. Delivery is best effort:
// a slow consumer loses intermediate snapshots, never the subscription.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	c.subMu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

func (c *Controller) activeSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, apperrors.NewBadRequest("no active watch party session")
	}
	return c.sess, nil
}

// snapshotLocked renders a snapshot from the session's freshest state,
// overlaying the chat buffer so tentative sends are visible immediately.
func (c *Controller) snapshotLocked(sess *session) Snapshot {
	snap := snapshotFrom(sess.loop.Current(), sess.connectionState(), c.cfg.InactivityWindow, c.timeNow())
	snap.Transcript = sess.chat.Messages()
	return snap
}

func (c *Controller) emit(sess *session, p *party.Party) {
	snap := snapshotFrom(p, sess.connectionState(), c.cfg.InactivityWindow, c.timeNow())
	snap.Transcript = sess.chat.Messages()
	c.fanout(snap)
}

func (c *Controller) fanout(snap Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// recoverSession re-establishes the push subscription and runs a full merge.
func (c *Controller) recoverSession(ctx context.Context, sess *session) error {
	unsubscribe, err := c.store.Subscribe(sess.partyID, sess.loop.Enqueue)
	if err != nil {
		return err
	}
	sess.swapSubscription(unsubscribe)

	return sess.loop.Resync(ctx)
}

func (c *Controller) onSupervisorState(sess *session, state SupervisorState) {
	var conn ConnectionState
	switch state {
	case SupervisorConnected:
		conn = StateConnected
	case SupervisorDegraded:
		conn = StateDegraded
	case SupervisorDisconnected, SupervisorRecovering:
		conn = StateReconnecting
	case SupervisorTerminated:
		conn = StateTerminated
	}

	sess.setConnectionState(conn)
	c.emit(sess, sess.loop.Current())
}

// onTerminated fires when the supervisor exhausts its attempts. Teardown runs
// on a fresh goroutine because the supervisor's recovery goroutine is still
// unwinding when this callback is invoked.
func (c *Controller) onTerminated(sess *session, err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()

	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	c.mu.Unlock()

	c.log.Error("session terminated", zap.Error(err))
	go c.teardown(sess, StateTerminated)
}

// heartbeatLoop refreshes presence on an interval until the session ends.
func (c *Controller) heartbeatLoop(sess *session) {
	defer close(sess.hbDone)

	ticker := time.NewTicker(c.cfg.HeartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-sess.hb:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PollInterval)
			_ = sess.loop.Publish(ctx, func(*party.Party) party.Delta {
				return c.presence.Heartbeat(c.self.ID)
			})
			cancel()
		}
	}
}
