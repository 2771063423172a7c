package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cinemood/watchparty/internal/middleware"
	"github.com/cinemood/watchparty/internal/services"
	apperrors "github.com/cinemood/watchparty/pkg/errors"
	"github.com/cinemood/watchparty/pkg/response"
)

// PartyHandler exposes the watch party lifecycle and intent endpoints.
type PartyHandler struct {
	parties *services.PartyService
}

// NewPartyHandler constructs a party handler when the service is provided.
func NewPartyHandler(parties *services.PartyService) *PartyHandler {
	return &PartyHandler{parties: parties}
}

type createPartyRequest struct {
	Name            string `json:"name"`
	MediaRef        string `json:"media_ref" binding:"required"`
	MediaDurationMS int64  `json:"media_duration_ms"`
}

type chatRequest struct {
	Body string `json:"body" binding:"required"`
}

type playbackRequest struct {
	IsPlaying  *bool  `json:"is_playing"`
	PositionMS *int64 `json:"position_ms"`
}

type inviteRequest struct {
	ParticipantIDs []string `json:"participant_ids" binding:"required"`
}

// Create opens a new party hosted by the caller.
func (h *PartyHandler) Create(c *gin.Context) {
	if h == nil || h.parties == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	participantID, ok := middleware.ParticipantID(c)
	if !ok {
		response.Error(c, apperrors.NewBadRequest("participant identity is required"))
		return
	}

	var payload createPartyRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid party payload"))
		return
	}

	created, err := h.parties.Create(requestContext(c), services.CreatePartyParams{
		Name:            payload.Name,
		HostID:          participantID,
		HostName:        middleware.DisplayName(c),
		MediaRef:        payload.MediaRef,
		MediaDurationMS: payload.MediaDurationMS,
	})
	if err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// Get returns the current party snapshot.
func (h *PartyHandler) Get(c *gin.Context) {
	if h == nil || h.parties == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	current, err := h.parties.Get(requestContext(c), c.Param("partyID"))
	if err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}

	response.Success(c, http.StatusOK, current)
}

// Join adds the caller to the party roster.
func (h *PartyHandler) Join(c *gin.Context) {
	if h == nil || h.parties == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	participantID, ok := middleware.ParticipantID(c)
	if !ok {
		response.Error(c, apperrors.NewBadRequest("participant identity is required"))
		return
	}

	joined, err := h.parties.Join(requestContext(c), services.JoinPartyParams{
		PartyID:       c.Param("partyID"),
		ParticipantID: participantID,
		DisplayName:   middleware.DisplayName(c),
	})
	if err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}

	response.Success(c, http.StatusOK, joined)
}

// Leave removes the caller from the active roster.
func (h *PartyHandler) Leave(c *gin.Context) {
	if h == nil || h.parties == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	participantID, ok := middleware.ParticipantID(c)
	if !ok {
		response.Error(c, apperrors.NewBadRequest("participant identity is required"))
		return
	}

	updated, err := h.parties.Leave(requestContext(c), c.Param("partyID"), participantID)
	if err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// PostChat appends a chat message to the party transcript.
func (h *PartyHandler) PostChat(c *gin.Context) {
	if h == nil || h.parties == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	participantID, ok := middleware.ParticipantID(c)
	if !ok {
		response.Error(c, apperrors.NewBadRequest("participant identity is required"))
		return
	}

	var payload chatRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid chat payload"))
		return
	}

	updated, err := h.parties.PostChat(requestContext(c), services.ChatParams{
		PartyID:  c.Param("partyID"),
		SenderID: participantID,
		Body:     payload.Body,
	})
	if err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}

	response.Success(c, http.StatusCreated, updated)
}

// SetPlayback applies shared play/pause intent or a seek.
func (h *PartyHandler) SetPlayback(c *gin.Context) {
	if h == nil || h.parties == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	participantID, ok := middleware.ParticipantID(c)
	if !ok {
		response.Error(c, apperrors.NewBadRequest("participant identity is required"))
		return
	}

	var payload playbackRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid playback payload"))
		return
	}

	updated, err := h.parties.SetPlayback(requestContext(c), services.PlaybackParams{
		PartyID:       c.Param("partyID"),
		ParticipantID: participantID,
		IsPlaying:     payload.IsPlaying,
		PositionMS:    payload.PositionMS,
	})
	if err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// Heartbeat refreshes the caller's presence.
func (h *PartyHandler) Heartbeat(c *gin.Context) {
	if h == nil || h.parties == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	participantID, ok := middleware.ParticipantID(c)
	if !ok {
		response.Error(c, apperrors.NewBadRequest("participant identity is required"))
		return
	}

	updated, err := h.parties.Heartbeat(requestContext(c), c.Param("partyID"), participantID)
	if err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// End terminates the party for everyone.
func (h *PartyHandler) End(c *gin.Context) {
	if h == nil || h.parties == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	participantID, ok := middleware.ParticipantID(c)
	if !ok {
		response.Error(c, apperrors.NewBadRequest("participant identity is required"))
		return
	}

	updated, err := h.parties.End(requestContext(c), c.Param("partyID"), participantID)
	if err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// Invite sends invitation notices to the listed participants.
func (h *PartyHandler) Invite(c *gin.Context) {
	if h == nil || h.parties == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	participantID, ok := middleware.ParticipantID(c)
	if !ok {
		response.Error(c, apperrors.NewBadRequest("participant identity is required"))
		return
	}

	var payload inviteRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid invite payload"))
		return
	}

	partyID := strings.TrimSpace(c.Param("partyID"))
	if err := h.parties.Invite(requestContext(c), partyID, participantID, payload.ParticipantIDs); err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"invited": len(payload.ParticipantIDs)})
}
