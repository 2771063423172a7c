package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cinemood/watchparty/internal/middleware"
	"github.com/cinemood/watchparty/internal/notifications"
	apperrors "github.com/cinemood/watchparty/pkg/errors"
	"github.com/cinemood/watchparty/pkg/response"
)

// NotificationsHandler serves the per-participant notice stream.
type NotificationsHandler struct {
	hub *notifications.Hub
}

// NewNotificationsHandler constructs a notifications handler.
func NewNotificationsHandler(hub *notifications.Hub) *NotificationsHandler {
	return &NotificationsHandler{hub: hub}
}

// Stream upgrades the request and subscribes the caller to their notices.
func (h *NotificationsHandler) Stream(c *gin.Context) {
	if h == nil || h.hub == nil {
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

	h.hub.Serve(participantID, c.Writer, c.Request)
}
