package user

import (
	"github.com/gin-gonic/gin"
	"github.com/olytrack/olytrack/internal/api"
	"github.com/olytrack/olytrack/internal/config"
	"gorm.io/gorm"
)

// NewUserRouter creates and configures the Gin engine.
func NewUserRouter(cfg *config.Config, db *gorm.DB, svc Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), api.CORSMiddleware(cfg.CORS))

	h := NewHandler(cfg, db, svc)

	v1 := r.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.GET("/status", h.getAuthStatus)
			if h.github != nil && h.github.Enabled() {
				githubGroup := authGroup.Group("/github")
				githubGroup.GET("/login", h.github.Login)
				githubGroup.GET("/callback", h.github.Callback)
			}
			if cfg.Auth.Local.Enabled {
				localAuthGroup := authGroup.Group("/local")
				{
					localAuthGroup.POST("/register", h.localRegister)
					localAuthGroup.POST("/login", h.localLogin)
				}
			}
		}

		// the websocket authenticates with a token query parameter
		v1.GET("/ws/virtual", h.handleSyncWs)

		v1.GET("/contests", h.getContests)
		v1.GET("/contests/:slug", h.getContest)

		authed := v1.Group("/")
		authed.Use(api.AuthMiddleware(cfg.Auth.JWT.Secret))
		{
			profile := authed.Group("/user")
			{
				profile.GET("/profile", h.getUserProfile)
				profile.PATCH("/profile", h.updateUserProfile)
			}

			vc := authed.Group("/virtual")
			{
				vc.GET("", h.getVirtualOverview)
				vc.GET("/history", h.getVirtualHistory)
				vc.GET("/history/:slug", h.getVirtualDetail)
				vc.POST("/start", h.startVirtual)
				vc.POST("/end", h.endVirtual)
				vc.POST("/resync", h.resyncVirtual)
				vc.POST("/confirm", h.confirmVirtual)
				vc.POST("/submit", h.submitVirtual)
			}

			settings := authed.Group("/settings")
			{
				settings.GET("/platforms", h.getPlatforms)
				settings.PUT("/platforms", h.updatePlatforms)
			}

			authed.POST("/practice/sync/:platform", h.syncPractice)

			problems := authed.Group("/problems")
			{
				problems.GET("", h.getProblems)
				problems.GET("/statuses", h.getProblemStatuses)
				problems.PUT("/status", h.setProblemStatus)
				problems.GET("/note", h.getProblemNote)
				problems.PUT("/note", h.saveProblemNote)
			}
		}
	}

	return r
}
