package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/cinemood/watchparty/pkg/errors"
	"github.com/cinemood/watchparty/pkg/response"
)

const (
	CtxParticipantIDKey = "participantID"
	CtxDisplayNameKey   = "displayName"

	HeaderParticipantID = "X-Participant-Id"
	HeaderDisplayName   = "X-Display-Name"
)

// Identity requires a participant identity on the request and propagates it
// into the gin context. Identity is client-asserted; parties are invite-scoped
// rooms, not a security boundary.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		participantID := strings.TrimSpace(c.GetHeader(HeaderParticipantID))
		if participantID == "" {
			response.Error(c, apperrors.NewBadRequest("participant identity header is required"))
			c.Abort()
			return
		}

		c.Set(CtxParticipantIDKey, participantID)
		if name := strings.TrimSpace(c.GetHeader(HeaderDisplayName)); name != "" {
			c.Set(CtxDisplayNameKey, name)
		}

		c.Next()
	}
}

// ParticipantID returns the request's participant identity, if present.
func ParticipantID(c *gin.Context) (string, bool) {
	value, ok := c.Get(CtxParticipantIDKey)
	if !ok {
		return "", false
	}
	id, ok := value.(string)
	return id, ok && id != ""
}

// DisplayName returns the request's display name, falling back to empty.
func DisplayName(c *gin.Context) string {
	value, ok := c.Get(CtxDisplayNameKey)
	if !ok {
		return ""
	}
	name, _ := value.(string)
	return name
}
