package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/reelspace/core/internal/config"
	"github.com/reelspace/core/internal/database"
	"github.com/reelspace/core/internal/middleware"
	"github.com/reelspace/core/internal/modules/realtime/counter"
	"github.com/reelspace/core/internal/modules/realtime/gateway"
	"github.com/reelspace/core/internal/modules/realtime/notify"
	"github.com/reelspace/core/internal/modules/realtime/presence"
	"github.com/reelspace/core/internal/modules/realtime/views"
	pkgcron "github.com/reelspace/core/internal/pkg/cron"
	"github.com/reelspace/core/internal/pkg/jwt"
	pkgredis "github.com/reelspace/core/internal/pkg/redis"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	hub    *gateway.Hub
	logger *zap.Logger
	cancel context.CancelFunc
	sched  *pkgcron.Scheduler
}

// New initializes the application: config → DB → Redis → realtime services →
// routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	jwt.SetSecret(cfg.JWTSecret)

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		patterns := cfg.AllowedOrigins
		corsConfig.AllowOriginFunc = func(origin string) bool {
			host := extractOriginHost(origin)
			for _, pattern := range patterns {
				if matchOriginPattern(pattern, host) {
					return true
				}
			}
			return false
		}
	} else {
		corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	}
	router.Use(cors.New(corsConfig))

	// Realtime services. The hub is both subscriber registry and publisher;
	// the services publish through it and it calls back into them on
	// inbound intents and disconnects.
	presenceReg := presence.NewRegistry()
	batcher := views.NewBatcher(db, rc, logger, cfg.HeartbeatFlushInterval(), cfg.ViewerCacheTTL(), cfg.WatchSessionStaleAfter())

	hub := gateway.NewHub(rc, logger, gateway.Deps{})
	counterSvc := counter.New(db, hub, logger)
	analytics := views.NewAnalytics(db, hub, logger)
	notifySvc := notify.New(db, hub, hub, logger)
	hub.SetDeps(gateway.Deps{
		DB:        db,
		Presence:  presenceReg,
		Counter:   counterSvc,
		Notify:    notifySvc,
		Batcher:   batcher,
		Analytics: analytics,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	go batcher.Run(ctx)

	sched := pkgcron.New()
	registerCronJobs(sched, notifySvc, batcher, cfg, logger)
	go sched.Start(ctx)

	app := &App{cfg: cfg, router: router, db: db, hub: hub, logger: logger, cancel: cancel, sched: sched}
	app.registerRoutes(rc, presenceReg, batcher, analytics, notifySvc)

	return app, nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown cleans up background goroutines.
func (a *App) Shutdown() { a.cancel() }
