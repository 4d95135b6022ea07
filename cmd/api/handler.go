package api

import (
	authDelivery "jobtrail-backend/internal/auth/delivery"
	authRepo "jobtrail-backend/internal/auth/repository"
	authUsecase "jobtrail-backend/internal/auth/usecase"
	classifyDelivery "jobtrail-backend/internal/classify/delivery"
	classifyUsecase "jobtrail-backend/internal/classify/usecase"
	mailDelivery "jobtrail-backend/internal/mail/delivery"
	mailUsecase "jobtrail-backend/internal/mail/usecase"
	syncDelivery "jobtrail-backend/internal/sync/delivery"
	syncUsecase "jobtrail-backend/internal/sync/usecase"
	threadDelivery "jobtrail-backend/internal/thread/delivery"
	threadUsecase "jobtrail-backend/internal/thread/usecase"
	vaultDelivery "jobtrail-backend/internal/vault/delivery"
	vaultUsecase "jobtrail-backend/internal/vault/usecase"
	watchDelivery "jobtrail-backend/internal/watch/delivery"
	watchUsecase "jobtrail-backend/internal/watch/usecase"
	"jobtrail-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	authUsecase authUsecase.AuthUsecase
	userRepo    authRepo.UserRepository
	config      *config.Config

	authHandler     *authDelivery.AuthHandler
	oauthHandler    *vaultDelivery.OAuthHandler
	mailHandler     *mailDelivery.MailHandler
	syncHandler     *syncDelivery.SyncHandler
	classifyHandler *classifyDelivery.ClassifyHandler
	watchHandler    *watchDelivery.WatchHandler
	threadHandler   *threadDelivery.ThreadHandler
}

func NewHandler(
	authUc authUsecase.AuthUsecase,
	userRepo authRepo.UserRepository,
	vault vaultUsecase.TokenVault,
	mirror mailUsecase.MirrorReader,
	syncer syncUsecase.HistorySyncer,
	queue classifyUsecase.ClassificationQueue,
	watchManager watchUsecase.WatchManager,
	correlator threadUsecase.ThreadCorrelator,
	cfg *config.Config,
) *Handler {
	return &Handler{
		authUsecase:     authUc,
		userRepo:        userRepo,
		config:          cfg,
		authHandler:     authDelivery.NewAuthHandler(authUc),
		oauthHandler:    vaultDelivery.NewOAuthHandler(vault),
		mailHandler:     mailDelivery.NewMailHandler(mirror),
		syncHandler:     syncDelivery.NewSyncHandler(syncer),
		classifyHandler: classifyDelivery.NewClassifyHandler(queue),
		watchHandler:    watchDelivery.NewWatchHandler(watchManager),
		threadHandler:   threadDelivery.NewThreadHandler(correlator),
	}
}

func (h *Handler) Start(addr string) error {
	r := gin.Default()
	gin.SetMode(gin.ReleaseMode)

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h)

	return r.Run(addr)
}
