package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"jobtrail-backend/internal/classify/ratelimit"
	jobrepo "jobtrail-backend/internal/job/repository"
	maildomain "jobtrail-backend/internal/mail/domain"
	mailrepo "jobtrail-backend/internal/mail/repository"
	threaddomain "jobtrail-backend/internal/thread/domain"
	"jobtrail-backend/internal/thread/repository"
	"jobtrail-backend/pkg/classifier"
)

const classifierResource = "classifier"

// ErrThreadNotFound means the user has no mirrored messages on the thread.
var ErrThreadNotFound = errors.New("thread not found")

// ErrJobNotFound means the job application to link does not exist.
var ErrJobNotFound = errors.New("job application not found")

// RateLimitedError means the shared classifier quota is exhausted; the
// caller retries after ResetAt.
type RateLimitedError struct {
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("classifier quota exhausted, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// ThreadCorrelator groups classified messages into conversations and keeps
// the derived response-required and job-link state current.
type ThreadCorrelator interface {
	// Refresh recomputes a conversation's derived state from its
	// messages, without calling the classifier. Run after every sync.
	Refresh(userID, threadID string) (*threaddomain.Conversation, error)
	// AnalyzeConversation additionally derives summary and stage via the
	// external classifier, caching the result on the conversation.
	AnalyzeConversation(ctx context.Context, userID, threadID string) (*threaddomain.Conversation, error)
	// MarkResponseSent clears requiresResponse until new inbound mail.
	MarkResponseSent(userID, threadID string) (*threaddomain.Conversation, error)
	// LinkJob manually binds a thread to a job application and forces
	// its messages job-related. Manual correction beats the classifier.
	LinkJob(userID, threadID, jobID string) (*threaddomain.Conversation, error)
	ListThreads(userID string, filters repository.ListFilters, limit, offset int) ([]*threaddomain.Conversation, int64, error)
}

type threadCorrelator struct {
	convRepo   repository.ConversationRepository
	msgRepo    mailrepo.MessageRepository
	jobRepo    jobrepo.JobRepository
	limiter    ratelimit.Store
	classifier classifier.EmailClassifier
}

func NewThreadCorrelator(convRepo repository.ConversationRepository, msgRepo mailrepo.MessageRepository, jobRepo jobrepo.JobRepository, limiter ratelimit.Store, emailClassifier classifier.EmailClassifier) ThreadCorrelator {
	return &threadCorrelator{
		convRepo:   convRepo,
		msgRepo:    msgRepo,
		jobRepo:    jobRepo,
		limiter:    limiter,
		classifier: emailClassifier,
	}
}

// load returns the conversation row (created if absent) and its ordered
// messages.
func (t *threadCorrelator) load(userID, threadID string) (*threaddomain.Conversation, []*maildomain.Message, error) {
	msgs, err := t.msgRepo.FindByThread(userID, threadID)
	if err != nil {
		return nil, nil, err
	}
	if len(msgs) == 0 {
		return nil, nil, fmt.Errorf("thread %s: %w", threadID, ErrThreadNotFound)
	}

	conv, err := t.convRepo.FindByThreadID(userID, threadID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		conv = &threaddomain.Conversation{ThreadID: threadID, UserID: userID}
	}
	return conv, msgs, nil
}

// recompute applies the derived-state rules to a loaded conversation.
// requiresResponse is true iff the newest message is inbound and no
// response (outbound or manual mark) was recorded after it.
func recompute(conv *threaddomain.Conversation, msgs []*maildomain.Message) {
	conv.MessageCount = len(msgs)
	last := msgs[len(msgs)-1]
	conv.LastMessageAt = last.ReceivedAt

	requires := !last.Outbound
	if requires && conv.RespondedAt != nil && !last.ReceivedAt.After(*conv.RespondedAt) {
		requires = false
	}
	conv.RequiresResponse = requires

	// Company/role come from the newest classified message that has them;
	// manual link data is never overwritten once set.
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Company != "" && conv.LinkedJobID == nil {
			conv.Company = msgs[i].Company
			if msgs[i].Role != "" {
				conv.Role = msgs[i].Role
			}
			break
		}
	}
}

func (t *threadCorrelator) Refresh(userID, threadID string) (*threaddomain.Conversation, error) {
	conv, msgs, err := t.load(userID, threadID)
	if err != nil {
		return nil, err
	}
	recompute(conv, msgs)
	if err := t.convRepo.Save(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (t *threadCorrelator) AnalyzeConversation(ctx context.Context, userID, threadID string) (*threaddomain.Conversation, error) {
	conv, msgs, err := t.load(userID, threadID)
	if err != nil {
		return nil, err
	}
	recompute(conv, msgs)

	// Thread analysis spends the same shared quota as per-message
	// classification.
	decision, err := t.limiter.Acquire(ctx, classifierResource)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &RateLimitedError{ResetAt: decision.ResetAt}
	}

	analysis, err := t.classifier.AnalyzeThread(ctx, renderConversation(msgs))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	conv.AnalysisSummary = analysis.Summary
	conv.Stage = analysis.Stage
	conv.LastAnalyzedAt = &now

	if err := t.convRepo.Save(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (t *threadCorrelator) MarkResponseSent(userID, threadID string) (*threaddomain.Conversation, error) {
	conv, msgs, err := t.load(userID, threadID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	conv.RespondedAt = &now
	recompute(conv, msgs)

	if err := t.convRepo.Save(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (t *threadCorrelator) LinkJob(userID, threadID, jobID string) (*threaddomain.Conversation, error) {
	job, err := t.jobRepo.FindByID(userID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}

	conv, msgs, err := t.load(userID, threadID)
	if err != nil {
		return nil, err
	}

	conv.LinkedJobID = &jobID
	recompute(conv, msgs)
	conv.Company = job.Company
	conv.Role = job.Role

	// Manual correction always wins over the automated classification.
	if err := t.msgRepo.MarkThreadJobRelated(userID, threadID, 1.0); err != nil {
		return nil, err
	}

	if err := t.convRepo.Save(conv); err != nil {
		return nil, err
	}

	if err := t.jobRepo.TouchActivity(userID, jobID, conv.LastMessageAt); err != nil {
		log.Printf("[WARN] [Thread] Failed to touch job %s activity: %v", jobID, err)
	}
	return conv, nil
}

func (t *threadCorrelator) ListThreads(userID string, filters repository.ListFilters, limit, offset int) ([]*threaddomain.Conversation, int64, error) {
	return t.convRepo.List(userID, filters, limit, offset)
}

// renderConversation flattens a thread for the classifier prompt, oldest
// first, bodies truncated.
func renderConversation(msgs []*maildomain.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		direction := "INBOUND"
		if msg.Outbound {
			direction = "OUTBOUND"
		}
		snippet := msg.Snippet
		if snippet == "" {
			snippet = msg.Body
		}
		if len(snippet) > 500 {
			snippet = snippet[:500]
		}
		fmt.Fprintf(&b, "[%s] %s | %s | %s\n%s\n\n",
			direction, msg.ReceivedAt.Format("2006-01-02"), msg.Sender, msg.Subject, snippet)
	}
	return b.String()
}
