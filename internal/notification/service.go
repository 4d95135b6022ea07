package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	authrepo "jobtrail-backend/internal/auth/repository"
	classifyusecase "jobtrail-backend/internal/classify/usecase"
	syncusecase "jobtrail-backend/internal/sync/usecase"
	threadusecase "jobtrail-backend/internal/thread/usecase"
	watchrepo "jobtrail-backend/internal/watch/repository"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes on each mailbox change.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// drainBatchSize caps how many unprocessed messages each push drains, so a
// single burst cannot monopolize the shared classifier quota.
const drainBatchSize = 25

type Service struct {
	pubsubClient *pubsub.Client
	userRepo     authrepo.UserRepository
	subRepo      watchrepo.SubscriptionRepository
	syncer       syncusecase.HistorySyncer
	queue        classifyusecase.ClassificationQueue
	correlator   threadusecase.ThreadCorrelator
	projectID    string
	topicName    string
	subName      string

	// Deduplication: track last historyId per user to avoid reprocessing
	// redelivered notifications.
	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

func NewService(projectID, topicName string, userRepo authrepo.UserRepository, subRepo watchrepo.SubscriptionRepository, syncer syncusecase.HistorySyncer, queue classifyusecase.ClassificationQueue, correlator threadusecase.ThreadCorrelator, credentialsFile string) (*Service, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %v", err)
	}

	return &Service{
		pubsubClient:  client,
		userRepo:      userRepo,
		subRepo:       subRepo,
		syncer:        syncer,
		queue:         queue,
		correlator:    correlator,
		projectID:     projectID,
		topicName:     topicName,
		subName:       topicName + "-sub", // Convention: topic-sub
		lastHistoryID: make(map[string]uint64),
	}, nil
}

func (s *Service) Start(ctx context.Context) {
	log.Printf("[PubSub] Starting notification service with topic: %s, subscription: %s", s.topicName, s.subName)

	// Ensure subscription exists
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] Error checking subscription existence: %v", err)
		return
	}

	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			log.Printf("[PubSub] Error checking topic existence: %v", err)
			return
		}

		if !topicExists {
			log.Printf("[PubSub] Topic %s does not exist, cannot create subscription", s.topicName)
			return
		}

		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Printf("[PubSub] Failed to create subscription: %v", err)
			return
		}
		log.Printf("[PubSub] Created subscription: %s", s.subName)
	}

	log.Printf("[PubSub] Listening for messages on subscription: %s", s.subName)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(ctx, msg)
		msg.Ack()
	})
	if err != nil {
		log.Printf("[PubSub] Error receiving messages: %v", err)
	}
}

func (s *Service) handleMessage(ctx context.Context, msg *pubsub.Message) {
	var notification GmailNotification
	if err := json.Unmarshal(msg.Data, &notification); err != nil {
		log.Printf("[PubSub] Failed to unmarshal notification: %v", err)
		return
	}

	log.Printf("[PubSub] Received notification for: %s (historyId: %d)", notification.EmailAddress, notification.HistoryID)

	user, err := s.userRepo.FindByEmail(notification.EmailAddress)
	if err != nil {
		log.Printf("[PubSub] Error finding user by email %s: %v", notification.EmailAddress, err)
		return
	}
	if user == nil {
		log.Printf("[PubSub] User not found for email: %s", notification.EmailAddress)
		return
	}

	// Only act on notifications for mailboxes with an active registration;
	// stale pushes can arrive after a watch is stopped.
	watchSub, err := s.subRepo.FindActiveByUserID(user.ID)
	if err != nil {
		log.Printf("[PubSub] Error loading watch for user %s: %v", user.ID, err)
		return
	}
	if watchSub == nil {
		log.Printf("[PubSub] No active watch for user %s, ignoring notification", user.ID)
		return
	}

	if !s.markSeen(user.ID, notification.HistoryID) {
		log.Printf("[PubSub] Skipping duplicate notification for user %s (historyId %d)", user.ID, notification.HistoryID)
		return
	}

	s.process(ctx, user.ID)
}

// markSeen records the notification's historyId and reports whether it moves
// the user forward. Monotonic because Gmail historyIds only increase.
func (s *Service) markSeen(userID string, historyID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastHistoryID[userID]; ok && historyID <= last {
		return false
	}
	s.lastHistoryID[userID] = historyID
	return true
}

// process runs the incremental pipeline for one user: pull mailbox changes,
// classify anything new, then refresh the affected conversations.
func (s *Service) process(ctx context.Context, userID string) {
	result, err := s.syncer.Sync(ctx, userID)
	if err != nil {
		if errors.Is(err, syncusecase.ErrSyncInProgress) {
			// Another sync is already pulling these changes; the running
			// pass will pick them up.
			log.Printf("[PubSub] Sync already running for user %s, skipping", userID)
			return
		}
		log.Printf("[PubSub] Sync failed for user %s: %v", userID, err)
		return
	}

	if result.Processed == 0 && len(result.ThreadIDs) == 0 {
		return
	}
	log.Printf("[PubSub] Synced %d messages for user %s (fallback=%v)", result.Processed, userID, result.Fallback)

	batch, err := s.queue.DrainUnprocessed(ctx, userID, drainBatchSize)
	if err != nil {
		log.Printf("[PubSub] Classification drain failed for user %s: %v", userID, err)
	} else if batch != nil && batch.Succeeded > 0 {
		log.Printf("[PubSub] Classified %d messages for user %s", batch.Succeeded, userID)
	}

	for _, threadID := range result.ThreadIDs {
		if _, err := s.correlator.Refresh(userID, threadID); err != nil {
			log.Printf("[PubSub] Thread refresh failed for user %s thread %s: %v", userID, threadID, err)
		}
	}
}
