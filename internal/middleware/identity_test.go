package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestIdentityRequiresParticipantHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Identity())
	r.GET("/whoami", func(c *gin.Context) {
		id, ok := ParticipantID(c)
		require.True(t, ok)
		c.String(http.StatusOK, "%s/%s", id, DisplayName(c))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderParticipantID, "alice")
	req.Header.Set(HeaderDisplayName, "Alice")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "alice/Alice", w.Body.String())
}
