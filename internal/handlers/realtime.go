package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cinemood/watchparty/internal/middleware"
	"github.com/cinemood/watchparty/internal/realtime"
	"github.com/cinemood/watchparty/internal/services"
	apperrors "github.com/cinemood/watchparty/pkg/errors"
	"github.com/cinemood/watchparty/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into party WebSocket streams.
type RealtimeHandler struct {
	hub     *realtime.Hub
	parties *services.PartyService
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, parties *services.PartyService) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, parties: parties}
}

// Stream upgrades the request and subscribes the caller to the streams of the
// parties listed in the `parties` query parameter. Only parties where the
// caller holds a roster entry are allowed; the rest are silently ignored.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h == nil || h.hub == nil || h.parties == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	participantID, ok := middleware.ParticipantID(c)
	if !ok {
		participantID = strings.TrimSpace(c.Query("participant"))
	}
	if participantID == "" {
		response.Error(c, apperrors.NewBadRequest("participant identity is required"))
		return
	}

	requested := splitList(c.Query("parties"))
	if len(requested) == 0 {
		response.Error(c, apperrors.NewBadRequest("at least one party id is required"))
		return
	}

	ctx := requestContext(c)
	var streams []string
	allowed := make(map[string]struct{}, len(requested))
	for _, partyID := range requested {
		current, err := h.parties.Get(ctx, partyID)
		if err != nil || !current.IsMember(participantID) {
			continue
		}
		stream := realtime.PartyStream(partyID)
		streams = append(streams, stream)
		allowed[stream] = struct{}{}
	}

	if len(streams) == 0 {
		response.Error(c, apperrors.ErrPartyNotFound)
		return
	}

	h.hub.Serve(participantID, streams, allowed, c.Writer, c.Request)
}

func splitList(raw string) []string {
	var out []string
	for _, value := range strings.Split(raw, ",") {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
