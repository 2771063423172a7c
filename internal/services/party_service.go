package services

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cinemood/watchparty/internal/engine"
	"github.com/cinemood/watchparty/internal/notifications"
	"github.com/cinemood/watchparty/internal/party"
	"github.com/cinemood/watchparty/internal/store"
	apperrors "github.com/cinemood/watchparty/pkg/errors"
	"github.com/cinemood/watchparty/pkg/metrics"
	"github.com/cinemood/watchparty/pkg/validator"
)

const (
	maxChatMessageLength = 1000

	// writeAttempts bounds the read-merge-write loop on version conflicts.
	writeAttempts = 3
)

// CreatePartyParams carries the payload required to open a new party.
type CreatePartyParams struct {
	Name            string `json:"name" validate:"omitempty,max=120"`
	HostID          string `json:"host_id" validate:"required"`
	HostName        string `json:"host_name" validate:"omitempty,max=64"`
	MediaRef        string `json:"media_ref" validate:"required,mediaref"`
	MediaDurationMS int64  `json:"media_duration_ms" validate:"min=0"`
}

// JoinPartyParams identifies the participant entering a party.
type JoinPartyParams struct {
	PartyID       string
	ParticipantID string
	DisplayName   string
}

// ChatParams carries the payload required to post a chat message.
type ChatParams struct {
	PartyID  string
	SenderID string
	Body     string
}

// PlaybackParams carries the shared playback intent to apply. Nil fields are
// left untouched.
type PlaybackParams struct {
	PartyID       string
	ParticipantID string
	IsPlaying     *bool
	PositionMS    *int64
}

// PartyOption customises PartyService behaviour.
type PartyOption func(*PartyService)

// WithPartySink wires the out-of-band notification sink.
func WithPartySink(sink notifications.Sink) PartyOption {
	return func(s *PartyService) {
		s.sink = sink
	}
}

// WithPartyCapacity overrides the active-roster capacity.
func WithPartyCapacity(limit int) PartyOption {
	return func(s *PartyService) {
		if limit > 0 {
			s.maxParticipants = limit
		}
	}
}

// WithPartyClock injects a custom clock primarily for testing.
func WithPartyClock(clock func() time.Time) PartyOption {
	return func(s *PartyService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// PartyService is the hosted surface over the party store: it validates
// requests, composes field-scoped deltas, and retries conditional writes on
// version conflicts. Connected clients converge through the store's change
// feed; this service never pushes state into sessions directly.
type PartyService struct {
	store           store.Store
	sink            notifications.Sink
	presence        *engine.PresenceTracker
	maxParticipants int
	timeNow         func() time.Time
}

// NewPartyService constructs a PartyService once the store is supplied.
func NewPartyService(st store.Store, opts ...PartyOption) (*PartyService, error) {
	if st == nil {
		return nil, errors.New("party service: store is required")
	}
	s := &PartyService{
		store:           st,
		maxParticipants: party.DefaultMaxParticipants,
		timeNow:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.presence = engine.NewPresenceTracker(s.timeNow)
	return s, nil
}

// Create opens a new party with the host as sole roster member.
func (s *PartyService) Create(ctx context.Context, params CreatePartyParams) (*party.Party, error) {
	ctx = ensureContext(ctx)

	params.Name = strings.TrimSpace(params.Name)
	params.HostID = strings.TrimSpace(params.HostID)
	params.HostName = strings.TrimSpace(params.HostName)
	params.MediaRef = strings.TrimSpace(params.MediaRef)
	if err := validator.ValidateStruct(params); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	hostName := params.HostName
	if hostName == "" {
		hostName = params.HostID
	}

	now := s.timeNow()
	record := &party.Party{
		Name:            params.Name,
		HostID:          params.HostID,
		MediaRef:        params.MediaRef,
		MediaDurationMS: params.MediaDurationMS,
		Status:          party.StatusPending,
		Roster: []party.Participant{{
			ID:          params.HostID,
			DisplayName: hostName,
			JoinedAt:    now,
			LastSeen:    now,
			Status:      party.ParticipantActive,
		}},
		Transcript: []party.ChatMessage{
			engine.NewSystemMessage(party.JoinMessageBody(hostName), now),
		},
	}

	return s.store.Create(ctx, record)
}

// Get returns the current authoritative snapshot.
func (s *PartyService) Get(ctx context.Context, partyID string) (*party.Party, error) {
	ctx = ensureContext(ctx)
	partyID = strings.TrimSpace(partyID)
	if partyID == "" {
		return nil, apperrors.NewBadRequest("party id is required")
	}
	return s.store.Get(ctx, partyID)
}

// Join adds the participant to the roster, activating a pending party. The
// capacity check is re-evaluated on every conflict retry so two racing joins
// cannot overshoot the limit.
func (s *PartyService) Join(ctx context.Context, params JoinPartyParams) (*party.Party, error) {
	participantID := strings.TrimSpace(params.ParticipantID)
	if participantID == "" {
		return nil, apperrors.NewBadRequest("participant id is required")
	}

	return s.updateWithRetry(ctx, params.PartyID, func(current *party.Party) (party.Delta, error) {
		if current.Status == party.StatusEnded {
			return party.Delta{}, apperrors.ErrPartyEnded
		}
		if !current.IsMember(participantID) && current.ActiveCount() >= s.maxParticipants {
			return party.Delta{}, apperrors.ErrPartyFull
		}

		delta := s.presence.RecordJoin(current, participantID, params.DisplayName)
		if current.Status == party.StatusPending {
			active := party.StatusActive
			delta.Status = &active
		}
		return delta, nil
	})
}

// Leave marks the participant as departed; the last active member leaving
// ends the party.
func (s *PartyService) Leave(ctx context.Context, partyID, participantID string) (*party.Party, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, apperrors.NewBadRequest("participant id is required")
	}

	updated, err := s.updateWithRetry(ctx, partyID, func(current *party.Party) (party.Delta, error) {
		delta, ok := s.presence.RecordLeave(current, participantID)
		if !ok {
			return party.Delta{}, nil
		}
		if current.ActiveCount() <= 1 && current.Status != party.StatusEnded {
			ended := party.StatusEnded
			delta.Status = &ended
		}
		return delta, nil
	})
	if err != nil {
		return nil, err
	}

	if updated.Status == party.StatusEnded {
		s.notifyEnded(updated)
	}
	return updated, nil
}

// PostChat sanitises and appends a chat message to the transcript.
func (s *PartyService) PostChat(ctx context.Context, params ChatParams) (*party.Party, error) {
	senderID := strings.TrimSpace(params.SenderID)
	if senderID == "" {
		return nil, apperrors.NewBadRequest("sender id is required")
	}
	body := strings.TrimSpace(params.Body)
	if body == "" {
		return nil, apperrors.NewBadRequest("chat message body is required")
	}
	if utf8.RuneCountInString(body) > maxChatMessageLength {
		return nil, apperrors.NewBadRequest("chat message body exceeds maximum length")
	}
	sanitized := html.EscapeString(body)

	msg := engine.NewUserMessage(senderID, sanitized, s.timeNow())

	updated, err := s.updateWithRetry(ctx, params.PartyID, func(current *party.Party) (party.Delta, error) {
		if current.Status == party.StatusEnded {
			return party.Delta{}, apperrors.ErrPartyEnded
		}
		if !current.IsMember(senderID) {
			return party.Delta{}, apperrors.NewBadRequest("sender is not a party member")
		}
		return party.Delta{AppendMessages: []party.ChatMessage{msg}}, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ChatMessages.WithLabelValues(string(party.MessageUser)).Inc()
	return updated, nil
}

// SetPlayback applies shared play/pause intent and position. The store clamps
// positions to the media duration.
func (s *PartyService) SetPlayback(ctx context.Context, params PlaybackParams) (*party.Party, error) {
	participantID := strings.TrimSpace(params.ParticipantID)
	if participantID == "" {
		return nil, apperrors.NewBadRequest("participant id is required")
	}
	if params.IsPlaying == nil && params.PositionMS == nil {
		return nil, apperrors.NewBadRequest("playback intent is required")
	}
	if params.PositionMS != nil && *params.PositionMS < 0 {
		return nil, apperrors.NewBadRequest("playback position cannot be negative")
	}

	return s.updateWithRetry(ctx, params.PartyID, func(current *party.Party) (party.Delta, error) {
		if current.Status == party.StatusEnded {
			return party.Delta{}, apperrors.ErrPartyEnded
		}
		if !current.IsMember(participantID) {
			return party.Delta{}, apperrors.NewBadRequest("participant is not a party member")
		}
		return party.Delta{
			IsPlaying:          params.IsPlaying,
			PlaybackPositionMS: params.PositionMS,
		}, nil
	})
}

// Heartbeat refreshes the participant's presence timestamp.
func (s *PartyService) Heartbeat(ctx context.Context, partyID, participantID string) (*party.Party, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, apperrors.NewBadRequest("participant id is required")
	}

	return s.updateWithRetry(ctx, partyID, func(current *party.Party) (party.Delta, error) {
		if current.Status == party.StatusEnded {
			return party.Delta{}, apperrors.ErrPartyEnded
		}
		if !current.IsMember(participantID) {
			return party.Delta{}, apperrors.NewBadRequest("participant is not a party member")
		}
		return s.presence.Heartbeat(participantID), nil
	})
}

// End terminates the party for everyone. Any member may end it; the host
// holds no enforced privilege.
func (s *PartyService) End(ctx context.Context, partyID, requesterID string) (*party.Party, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, apperrors.NewBadRequest("requester id is required")
	}

	updated, err := s.updateWithRetry(ctx, partyID, func(current *party.Party) (party.Delta, error) {
		if current.Status == party.StatusEnded {
			return party.Delta{}, nil
		}
		if !current.IsMember(requesterID) {
			return party.Delta{}, apperrors.NewBadRequest("requester is not a party member")
		}
		ended := party.StatusEnded
		return party.Delta{Status: &ended}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyEnded(updated)
	return updated, nil
}

// Invite sends an invitation notice to each invitee. Invitations are
// informational; joining still goes through the capacity check.
func (s *PartyService) Invite(ctx context.Context, partyID, inviterID string, inviteeIDs []string) error {
	ctx = ensureContext(ctx)

	inviterID = strings.TrimSpace(inviterID)
	if inviterID == "" {
		return apperrors.NewBadRequest("inviter id is required")
	}
	invitees := normaliseIDs(inviteeIDs)
	if len(invitees) == 0 {
		return apperrors.NewBadRequest("at least one invitee is required")
	}

	current, err := s.Get(ctx, partyID)
	if err != nil {
		return err
	}
	if current.Status == party.StatusEnded {
		return apperrors.ErrPartyEnded
	}
	inviter, ok := current.FindParticipant(inviterID)
	if !ok {
		return apperrors.NewBadRequest("inviter is not a party member")
	}

	if s.sink != nil {
		s.sink.NotifyMany(invitees, notifications.Notice{
			Event:   notifications.EventInvite,
			Title:   "Watch party invitation",
			Body:    inviter.DisplayName + " invited you to " + displayName(current),
			PartyID: current.ID,
		})
	}
	return nil
}

// updateWithRetry runs the read-merge-write loop: fetch the current snapshot,
// build a delta against it, and attempt the conditional write. A version
// conflict re-reads and rebuilds; persistent contention surfaces the conflict.
func (s *PartyService) updateWithRetry(ctx context.Context, partyID string, build func(*party.Party) (party.Delta, error)) (*party.Party, error) {
	ctx = ensureContext(ctx)

	partyID = strings.TrimSpace(partyID)
	if partyID == "" {
		return nil, apperrors.NewBadRequest("party id is required")
	}

	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		current, err := s.store.Get(ctx, partyID)
		if err != nil {
			return nil, err
		}

		delta, err := build(current)
		if err != nil {
			return nil, err
		}
		if delta.IsZero() {
			return current, nil
		}

		updated, err := s.store.Update(ctx, partyID, current.Version, delta)
		if apperrors.IsConflict(err) {
			metrics.WriteConflicts.Inc()
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, lastErr
}

func (s *PartyService) notifyEnded(p *party.Party) {
	if s.sink == nil || p == nil {
		return
	}

	var recipients []string
	for _, member := range p.Roster {
		recipients = append(recipients, member.ID)
	}
	s.sink.NotifyMany(recipients, notifications.Notice{
		Event:   notifications.EventPartyEnded,
		Title:   "Watch party ended",
		Body:    displayName(p) + " has ended",
		PartyID: p.ID,
	})
}

func displayName(p *party.Party) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return "the watch party"
}
