package api

import (
	"net/http"

	"jobtrail-backend/internal/auth/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	authRequired := delivery.AuthMiddleware(h.authUsecase, h.userRepo, h.config.DevUserID)

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/login", h.authHandler.Login)
			auth.POST("/register", h.authHandler.Register)
			auth.POST("/google", h.authHandler.GoogleSignIn)
			auth.POST("/refresh", h.authHandler.RefreshToken)
			auth.POST("/logout", h.authHandler.Logout)
			auth.GET("/me", authRequired, h.authHandler.Me)

			// Mailbox OAuth connect flow. The callback is hit by Google's
			// redirect, so it cannot carry a bearer token.
			auth.GET("/google/url", authRequired, h.oauthHandler.GetAuthURL)
			auth.GET("/google/callback", h.oauthHandler.Callback)
			auth.GET("/google/status", authRequired, h.oauthHandler.Status)
			auth.DELETE("/google", authRequired, h.oauthHandler.Disconnect)
		}

		// Email pipeline routes (protected)
		emails := api.Group("/emails")
		emails.Use(authRequired)
		{
			emails.GET("", h.mailHandler.ListMessages)
			emails.GET("/search", h.mailHandler.Search)
			emails.POST("/sync", h.syncHandler.TriggerSync)
			emails.POST("/classify", h.classifyHandler.Classify)
			emails.POST("/classify/status", h.classifyHandler.Status)
		}

		// Shared classifier quota (protected)
		api.GET("/classify/ratelimit", authRequired, h.classifyHandler.RateLimit)

		// Watch subscription management (protected)
		watch := api.Group("/watch")
		watch.Use(authRequired)
		{
			watch.GET("", h.watchHandler.GetStatus)
			watch.POST("", h.watchHandler.Setup)
			watch.POST("/renew", h.watchHandler.Renew)
			watch.DELETE("", h.watchHandler.Stop)
		}

		// Thread correlation routes (protected)
		threads := api.Group("/threads")
		threads.Use(authRequired)
		{
			threads.GET("", h.threadHandler.ListThreads)
			threads.GET("/:id", h.threadHandler.GetThread)
			threads.POST("/:id/analyze", h.threadHandler.Analyze)
			threads.POST("/:id/respond", h.threadHandler.MarkResponded)
			threads.POST("/:id/link-job", h.threadHandler.LinkJob)
		}
	}
}
