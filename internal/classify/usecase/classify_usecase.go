package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"jobtrail-backend/internal/classify/ratelimit"
	maildomain "jobtrail-backend/internal/mail/domain"
	mailrepo "jobtrail-backend/internal/mail/repository"
	"jobtrail-backend/pkg/classifier"
	"jobtrail-backend/pkg/config"

	"github.com/cenkalti/backoff/v4"
)

// classifierResource is the shared quota key for the classification model.
// One budget across all users.
const classifierResource = "classifier"

// Item statuses reported per message in a batch result.
const (
	ItemClassified  = "classified"
	ItemSkipped     = "skipped_heuristic"
	ItemRateLimited = "rate_limited"
	ItemError       = "error"
)

// ItemResult is the per-message outcome of a classification batch.
type ItemResult struct {
	ProviderID        string                     `json:"provider_id"`
	Status            string                     `json:"status"`
	Classification    *maildomain.Classification `json:"classification,omitempty"`
	// PreviousIsJobRelated is set on reprocessing so callers can see the
	// flip in either direction.
	PreviousIsJobRelated *bool      `json:"previous_is_job_related,omitempty"`
	RemainingAttempts    int        `json:"remaining_attempts,omitempty"`
	ResetAt              *time.Time `json:"reset_at,omitempty"`
	Error                string     `json:"error,omitempty"`
}

// BatchResult reports a whole batch; one item's failure never aborts it.
type BatchResult struct {
	Requested int          `json:"requested"`
	Succeeded int          `json:"succeeded"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Items     []ItemResult `json:"items"`
}

// MessageStatus answers the operator status check for one message.
type MessageStatus struct {
	ProviderID   string     `json:"provider_id"`
	Processed    bool       `json:"processed"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	IsJobRelated *bool      `json:"is_job_related,omitempty"`
	EmailType    string     `json:"email_type,omitempty"`
	Company      string     `json:"company,omitempty"`
	Role         string     `json:"role,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// ClassificationQueue batches unclassified messages through the external
// classifier under the shared quota.
type ClassificationQueue interface {
	// ClassifyMessages classifies the given provider message IDs. With
	// reprocess, already-classified messages are fully overwritten.
	ClassifyMessages(ctx context.Context, userID string, providerIDs []string, reprocess bool) (*BatchResult, error)
	// DrainUnprocessed classifies up to limit unprocessed messages.
	DrainUnprocessed(ctx context.Context, userID string, limit int) (*BatchResult, error)
	Status(userID string, providerIDs []string) ([]MessageStatus, error)
	RateLimitStatus(ctx context.Context) (*ratelimit.Status, error)
}

type classificationQueue struct {
	msgRepo    mailrepo.MessageRepository
	limiter    ratelimit.Store
	classifier classifier.EmailClassifier
	maxRetries int
}

func NewClassificationQueue(msgRepo mailrepo.MessageRepository, limiter ratelimit.Store, emailClassifier classifier.EmailClassifier, cfg *config.Config) ClassificationQueue {
	return &classificationQueue{
		msgRepo:    msgRepo,
		limiter:    limiter,
		classifier: emailClassifier,
		maxRetries: cfg.ClassifyMaxRetries,
	}
}

func (q *classificationQueue) ClassifyMessages(ctx context.Context, userID string, providerIDs []string, reprocess bool) (*BatchResult, error) {
	msgs, err := q.msgRepo.FindByProviderIDs(userID, providerIDs)
	if err != nil {
		return nil, err
	}

	byProviderID := make(map[string]*maildomain.Message, len(msgs))
	for _, msg := range msgs {
		byProviderID[msg.ProviderID] = msg
	}

	result := &BatchResult{Requested: len(providerIDs)}
	for _, providerID := range providerIDs {
		msg, ok := byProviderID[providerID]
		if !ok {
			result.Failed++
			result.Items = append(result.Items, ItemResult{
				ProviderID: providerID,
				Status:     ItemError,
				Error:      "message not found",
			})
			continue
		}
		if msg.ProcessingStatus == maildomain.StatusClassified && !reprocess {
			result.Skipped++
			result.Items = append(result.Items, ItemResult{
				ProviderID:     providerID,
				Status:         ItemClassified,
				Classification: currentClassification(msg),
			})
			continue
		}
		result.Items = append(result.Items, q.classifyOne(ctx, msg))
		tally(result)
	}
	return result, nil
}

func (q *classificationQueue) DrainUnprocessed(ctx context.Context, userID string, limit int) (*BatchResult, error) {
	msgs, err := q.msgRepo.FindUnprocessed(userID, limit)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Requested: len(msgs)}
	for _, msg := range msgs {
		result.Items = append(result.Items, q.classifyOne(ctx, msg))
		tally(result)
	}
	return result, nil
}

// classifyOne runs the heuristic pre-filter, the quota check, and the
// classifier call for a single message and persists the outcome.
func (q *classificationQueue) classifyOne(ctx context.Context, msg *maildomain.Message) ItemResult {
	previous := previousIsJobRelated(msg)

	// Cheap exclusion first: transactional/security/newsletter traffic
	// never reaches the classifier.
	if reason, excluded := matchExclusion(msg.Sender, msg.Subject); excluded {
		msg.ApplyClassification(maildomain.Classification{
			IsJobRelated: false,
			Confidence:   1.0,
			EmailType:    "excluded",
			ClassifiedAt: time.Now(),
		})
		if err := q.msgRepo.Save(msg); err != nil {
			return ItemResult{ProviderID: msg.ProviderID, Status: ItemError, Error: err.Error()}
		}
		log.Printf("[Classify] Message %s excluded by heuristic (%s)", msg.ProviderID, reason)
		return ItemResult{
			ProviderID:           msg.ProviderID,
			Status:               ItemSkipped,
			Classification:       currentClassification(msg),
			PreviousIsJobRelated: previous,
		}
	}

	decision, err := q.limiter.Acquire(ctx, classifierResource)
	if err != nil {
		return ItemResult{ProviderID: msg.ProviderID, Status: ItemError, Error: err.Error()}
	}
	if !decision.Allowed {
		// Fail fast instead of queueing; the caller backs off until
		// the window resets.
		resetAt := decision.ResetAt
		return ItemResult{
			ProviderID:        msg.ProviderID,
			Status:            ItemRateLimited,
			RemainingAttempts: decision.RemainingAttempts,
			ResetAt:           &resetAt,
		}
	}

	classification, err := q.callClassifier(ctx, msg)
	if err != nil {
		msg.ProcessingStatus = maildomain.StatusError
		msg.ProcessingError = err.Error()
		if saveErr := q.msgRepo.Save(msg); saveErr != nil {
			log.Printf("[ERROR] [Classify] Failed to record error for message %s: %v", msg.ProviderID, saveErr)
		}
		return ItemResult{ProviderID: msg.ProviderID, Status: ItemError, Error: err.Error()}
	}

	msg.ApplyClassification(*classification)
	if err := q.msgRepo.Save(msg); err != nil {
		return ItemResult{ProviderID: msg.ProviderID, Status: ItemError, Error: err.Error()}
	}

	return ItemResult{
		ProviderID:           msg.ProviderID,
		Status:               ItemClassified,
		Classification:       classification,
		PreviousIsJobRelated: previous,
	}
}

// callClassifier invokes the external model with retries and exponential
// backoff on transient failures.
func (q *classificationQueue) callClassifier(ctx context.Context, msg *maildomain.Message) (*maildomain.Classification, error) {
	var result *classifier.Result

	operation := func() error {
		r, err := q.classifier.ClassifyEmail(ctx, msg.Sender, msg.Subject, msg.Snippet)
		if err != nil {
			if errors.Is(err, classifier.ErrModelUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(q.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("classification failed after retries: %w", err)
	}

	return &maildomain.Classification{
		IsJobRelated: result.IsJobRelated,
		Confidence:   result.Confidence,
		EmailType:    result.EmailType,
		Company:      result.Company,
		Role:         result.Role,
		ClassifiedAt: time.Now(),
	}, nil
}

func (q *classificationQueue) Status(userID string, providerIDs []string) ([]MessageStatus, error) {
	msgs, err := q.msgRepo.FindByProviderIDs(userID, providerIDs)
	if err != nil {
		return nil, err
	}

	byProviderID := make(map[string]*maildomain.Message, len(msgs))
	for _, msg := range msgs {
		byProviderID[msg.ProviderID] = msg
	}

	statuses := make([]MessageStatus, 0, len(providerIDs))
	for _, providerID := range providerIDs {
		msg, ok := byProviderID[providerID]
		if !ok {
			statuses = append(statuses, MessageStatus{ProviderID: providerID, Error: "message not found"})
			continue
		}
		statuses = append(statuses, MessageStatus{
			ProviderID:   providerID,
			Processed:    msg.ProcessingStatus == maildomain.StatusClassified,
			ProcessedAt:  msg.ClassifiedAt,
			IsJobRelated: msg.IsJobRelated,
			EmailType:    msg.EmailType,
			Company:      msg.Company,
			Role:         msg.Role,
			Error:        msg.ProcessingError,
		})
	}
	return statuses, nil
}

func (q *classificationQueue) RateLimitStatus(ctx context.Context) (*ratelimit.Status, error) {
	return q.limiter.Status(ctx, classifierResource)
}

func currentClassification(msg *maildomain.Message) *maildomain.Classification {
	if msg.IsJobRelated == nil || msg.ClassifiedAt == nil {
		return nil
	}
	return &maildomain.Classification{
		IsJobRelated: *msg.IsJobRelated,
		Confidence:   msg.Confidence,
		EmailType:    msg.EmailType,
		Company:      msg.Company,
		Role:         msg.Role,
		ClassifiedAt: *msg.ClassifiedAt,
	}
}

func previousIsJobRelated(msg *maildomain.Message) *bool {
	if msg.IsJobRelated == nil {
		return nil
	}
	v := *msg.IsJobRelated
	return &v
}

// tally updates batch counters from the most recently appended item.
func tally(result *BatchResult) {
	switch result.Items[len(result.Items)-1].Status {
	case ItemClassified:
		result.Succeeded++
	case ItemSkipped:
		result.Skipped++
	default:
		result.Failed++
	}
}
