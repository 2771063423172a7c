package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/cinemood/watchparty/internal/app"
	"github.com/cinemood/watchparty/internal/handlers"
	"github.com/cinemood/watchparty/internal/middleware"
	"github.com/cinemood/watchparty/internal/monitoring"
	"github.com/cinemood/watchparty/internal/notifications"
	"github.com/cinemood/watchparty/internal/realtime"
	"github.com/cinemood/watchparty/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers the party,
// realtime and operational routes.
func NewRouter(db *gorm.DB, parties *services.PartyService, rtHub *realtime.Hub, noticeHub *notifications.Hub, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if parties == nil {
		return nil, fmt.Errorf("party service must be provided")
	}
	if rtHub == nil {
		return nil, fmt.Errorf("realtime hub must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Health endpoint (public)
	if cfg.Monitoring.Health.Enabled {
		health := monitoring.NewManager()
		health.Register(monitoring.DatabaseCheck(db, 0))
		health.Register(monitoring.RealtimeCheck(rtHub))
		r.GET("/health", handlers.Health(health))
	}

	partyHandler := handlers.NewPartyHandler(parties)

	api := r.Group("/api")
	api.Use(middleware.Identity())

	partyRoutes := api.Group("/parties")
	{
		partyRoutes.POST("", partyHandler.Create)
		partyRoutes.GET("/:partyID", partyHandler.Get)
		partyRoutes.POST("/:partyID/join", partyHandler.Join)
		partyRoutes.POST("/:partyID/leave", partyHandler.Leave)
		partyRoutes.POST("/:partyID/chat", partyHandler.PostChat)
		partyRoutes.PUT("/:partyID/playback", partyHandler.SetPlayback)
		partyRoutes.POST("/:partyID/heartbeat", partyHandler.Heartbeat)
		partyRoutes.POST("/:partyID/end", partyHandler.End)
		partyRoutes.POST("/:partyID/invite", partyHandler.Invite)
	}

	// WebSocket endpoints carry identity via query parameters since browsers
	// cannot set headers during the upgrade handshake.
	realtimeHandler := handlers.NewRealtimeHandler(rtHub, parties)
	r.GET("/ws/parties", realtimeHandler.Stream)

	if noticeHub != nil {
		noticeHandler := handlers.NewNotificationsHandler(noticeHub)
		r.GET("/ws/notifications", noticeHandler.Stream)
	}

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
