package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cinemood/watchparty/internal/monitoring"
	"github.com/cinemood/watchparty/pkg/response"
)

// Health evaluates the registered dependency probes. A failing probe turns
// the response into a 503 so load balancers stop routing traffic here.
func Health(manager *monitoring.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			response.Success(c, http.StatusOK, gin.H{"status": monitoring.StatusUp})
			return
		}

		report := manager.Evaluate(requestContext(c))
		status := http.StatusOK
		if !report.Success {
			status = http.StatusServiceUnavailable
		}
		response.Success(c, status, report)
	}
}
