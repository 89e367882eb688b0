package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/reelspace/core/internal/middleware"
	"github.com/reelspace/core/internal/modules/comment"
	"github.com/reelspace/core/internal/modules/realtime/gateway"
	"github.com/reelspace/core/internal/modules/realtime/notify"
	"github.com/reelspace/core/internal/modules/realtime/presence"
	"github.com/reelspace/core/internal/modules/realtime/views"
	"github.com/reelspace/core/internal/modules/user"
	"github.com/reelspace/core/internal/modules/video"
	pkgredis "github.com/reelspace/core/internal/pkg/redis"
	"github.com/reelspace/core/internal/pkg/response"
)

func (a *App) registerRoutes(rc *pkgredis.Client, presenceReg *presence.Registry, batcher *views.Batcher, analytics *views.Analytics, notifySvc *notify.Service) {
	r := a.router
	db := a.db
	authMW := middleware.Auth()

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})

	apiPrefix := "/api/v1"

	// Gateway lives at the root so socket.io clients use the default path.
	root := r.Group("")
	gateway.RegisterRoutes(root, a.hub)

	api := r.Group(apiPrefix)
	api.Use(middleware.OptionalAuth())
	api.Use(middleware.RateLimit(rc.Raw()))

	api.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"data": "pong"}) })

	user.NewHandler(user.NewService(db)).RegisterRoutes(api, authMW)
	video.NewHandler(video.NewService(db), batcher, analytics).RegisterRoutes(api, authMW)
	comment.NewHandler(comment.NewService(db, notifySvc, a.logger)).RegisterRoutes(api, authMW)
	notify.NewHandler(notifySvc).RegisterRoutes(api, authMW)

	// Live presence snapshot, served from the in-memory registry.
	api.GET("/videos/:id/presence", func(c *gin.Context) {
		videoID := c.Param("id")
		response.OK(c, gin.H{
			"contentId": videoID,
			"count":     presenceReg.ViewerCount(videoID),
			"typing":    presenceReg.TypingUsers(videoID),
		})
	})
}
