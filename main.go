package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	api "jobtrail-backend/cmd/api"
	authdomain "jobtrail-backend/internal/auth/domain"
	authRepo "jobtrail-backend/internal/auth/repository"
	authUsecase "jobtrail-backend/internal/auth/usecase"
	"jobtrail-backend/internal/classify/ratelimit"
	classifyUsecase "jobtrail-backend/internal/classify/usecase"
	jobdomain "jobtrail-backend/internal/job/domain"
	jobRepo "jobtrail-backend/internal/job/repository"
	maildomain "jobtrail-backend/internal/mail/domain"
	mailRepo "jobtrail-backend/internal/mail/repository"
	mailUsecase "jobtrail-backend/internal/mail/usecase"
	"jobtrail-backend/internal/notification"
	syncUsecase "jobtrail-backend/internal/sync/usecase"
	syncdomain "jobtrail-backend/internal/syncstate/domain"
	syncRepo "jobtrail-backend/internal/syncstate/repository"
	threaddomain "jobtrail-backend/internal/thread/domain"
	threadRepo "jobtrail-backend/internal/thread/repository"
	threadUsecase "jobtrail-backend/internal/thread/usecase"
	vaultdomain "jobtrail-backend/internal/vault/domain"
	vaultRepo "jobtrail-backend/internal/vault/repository"
	vaultUsecase "jobtrail-backend/internal/vault/usecase"
	watchdomain "jobtrail-backend/internal/watch/domain"
	watchRepo "jobtrail-backend/internal/watch/repository"
	"jobtrail-backend/internal/watch/scheduler"
	watchUsecase "jobtrail-backend/internal/watch/usecase"
	"jobtrail-backend/pkg/classifier"
	"jobtrail-backend/pkg/config"
	"jobtrail-backend/pkg/crypto"
	"jobtrail-backend/pkg/database"
	"jobtrail-backend/pkg/gmail"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(
		&authdomain.User{},
		&authdomain.RefreshToken{},
		&vaultdomain.Credential{},
		&maildomain.Message{},
		&syncdomain.SyncCursor{},
		&watchdomain.WatchSubscription{},
		&threaddomain.Conversation{},
		&jobdomain.JobApplication{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	userRepository := authRepo.NewUserRepository(db)
	credRepository := vaultRepo.NewCredentialRepository(db)
	messageRepository := mailRepo.NewMessageRepository(db)
	cursorRepository := syncRepo.NewCursorRepository(db)
	subscriptionRepository := watchRepo.NewSubscriptionRepository(db)
	conversationRepository := threadRepo.NewConversationRepository(db)
	jobRepository := jobRepo.NewJobRepository(db)

	// Token vault: encrypts OAuth tokens at rest
	cipher, err := crypto.NewCipher(cfg.VaultSecret, cfg.VaultSalt)
	if err != nil {
		log.Fatal("Failed to initialize vault cipher:", err)
	}
	vault := vaultUsecase.NewTokenVault(credRepository, cipher, cfg)

	// Gmail provider client
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret)

	// Gmail's watch API wants the full topic resource name, while the
	// Pub/Sub client wants the short one. Accept either in config.
	shortTopic := cfg.GooglePubSubTopic
	if parts := strings.Split(shortTopic, "/"); len(parts) > 1 {
		shortTopic = parts[len(parts)-1]
	}
	if shortTopic == "" {
		shortTopic = "gmail-updates"
	}
	if cfg.GoogleProjectID != "" {
		cfg.GooglePubSubTopic = fmt.Sprintf("projects/%s/topics/%s", cfg.GoogleProjectID, shortTopic)
	}

	// Shared classifier quota store
	limits := ratelimit.Limits{
		PerMinute: cfg.ClassifyPerMinuteLimit,
		PerDay:    cfg.ClassifyPerDayLimit,
	}
	var limiter ratelimit.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("Invalid REDIS_URL:", err)
		}
		limiter = ratelimit.NewRedisStore(redis.NewClient(opts), limits)
		log.Println("Rate limit store: redis")
	} else {
		limiter = ratelimit.NewMemoryStore(limits)
		log.Println("Rate limit store: in-memory (single instance only)")
	}

	// AI classifier
	emailClassifier, err := classifier.NewEmailClassifier(classifier.Config{
		Provider:     classifier.ProviderType(cfg.AIProvider),
		GeminiAPIKey: cfg.GeminiApiKey,
		OpenAIAPIKey: cfg.OpenAIApiKey,
		OpenAIModel:  cfg.OpenAIModel,
	})
	if err != nil {
		log.Fatal("Failed to initialize classifier:", err)
	}

	// Initialize use cases (dependency injection)
	authUsecaseInstance := authUsecase.NewAuthUsecase(userRepository, cfg)
	mirror := mailUsecase.NewMirrorReader(messageRepository)
	watchManager := watchUsecase.NewWatchManager(subscriptionRepository, cursorRepository, vault, gmailService, cfg)
	syncer := syncUsecase.NewHistorySyncer(messageRepository, cursorRepository, vault, gmailService, cfg)
	queue := classifyUsecase.NewClassificationQueue(messageRepository, limiter, emailClassifier, cfg)
	correlator := threadUsecase.NewThreadCorrelator(conversationRepository, messageRepository, jobRepository, limiter, emailClassifier)

	// Pub/Sub push intake: only started when a project is configured
	if cfg.GoogleProjectID != "" {
		notifService, err := notification.NewService(cfg.GoogleProjectID, shortTopic, userRepository, subscriptionRepository, syncer, queue, correlator, cfg.GoogleCredentials)
		if err != nil {
			log.Printf("[ERROR] Failed to initialize notification service: %v", err)
		} else {
			go notifService.Start(context.Background())
		}
	} else {
		log.Printf("[WARN] GoogleProjectID not configured, push notifications disabled")
	}

	// Background watch renewal
	renewalScheduler := scheduler.NewRenewalScheduler(watchManager, time.Hour)
	renewalScheduler.Start()
	defer renewalScheduler.Stop()

	// Initialize HTTP handler
	handler := api.NewHandler(authUsecaseInstance, userRepository, vault, mirror, syncer, queue, watchManager, correlator, cfg)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
