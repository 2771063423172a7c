package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cinemood/watchparty/internal/api"
	"github.com/cinemood/watchparty/internal/app"
	"github.com/cinemood/watchparty/internal/app/maintenance"
	"github.com/cinemood/watchparty/internal/database"
	"github.com/cinemood/watchparty/internal/notifications"
	"github.com/cinemood/watchparty/internal/realtime"
	"github.com/cinemood/watchparty/internal/services"
	"github.com/cinemood/watchparty/internal/store"
	"github.com/cinemood/watchparty/pkg/logger"
)

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Store     store.Store
	RTHub     *realtime.Hub
	NoticeHub *notifications.Hub
	Parties   *services.PartyService
	Cleaner   *maintenance.Cleaner
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, hubs, services, and HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.RTHub = realtime.NewHub()

	gormStore, err := store.NewGormStore(stack.DB, store.WithGormTranscriptCap(cfg.Party.TranscriptCap))
	if err != nil {
		return nil, fmt.Errorf("initialise party store: %w", err)
	}

	// Every accepted write is fanned out to connected viewers.
	stack.Store, err = realtime.NewPartyNotifier(gormStore, stack.RTHub)
	if err != nil {
		return nil, fmt.Errorf("initialise realtime bridge: %w", err)
	}

	serviceOpts := []services.PartyOption{
		services.WithPartyCapacity(cfg.Party.MaxParticipants),
	}
	if cfg.Notifications.Enabled {
		stack.NoticeHub = notifications.NewHub()
		serviceOpts = append(serviceOpts, services.WithPartySink(stack.NoticeHub))
	}

	stack.Parties, err = services.NewPartyService(stack.Store, serviceOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise party service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.DB,
			maintenance.WithSchedule(cfg.Maintenance.Schedule),
			maintenance.WithAbandonAfter(cfg.Maintenance.AbandonAfter),
			maintenance.WithRetainEnded(cfg.Maintenance.RetainEnded),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(stack.DB, stack.Parties, stack.RTHub, stack.NoticeHub, cfg)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
