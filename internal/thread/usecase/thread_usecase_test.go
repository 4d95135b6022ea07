package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"jobtrail-backend/internal/classify/ratelimit"
	jobdomain "jobtrail-backend/internal/job/domain"
	maildomain "jobtrail-backend/internal/mail/domain"
	threaddomain "jobtrail-backend/internal/thread/domain"
	"jobtrail-backend/internal/thread/repository"
	"jobtrail-backend/pkg/classifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConvRepo struct {
	convs map[string]*threaddomain.Conversation
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{convs: make(map[string]*threaddomain.Conversation)}
}

func (r *fakeConvRepo) FindByThreadID(userID, threadID string) (*threaddomain.Conversation, error) {
	conv, ok := r.convs[threadID]
	if !ok {
		return nil, nil
	}
	copied := *conv
	return &copied, nil
}

func (r *fakeConvRepo) Save(conv *threaddomain.Conversation) error {
	copied := *conv
	r.convs[conv.ThreadID] = &copied
	return nil
}

func (r *fakeConvRepo) List(userID string, filters repository.ListFilters, limit, offset int) ([]*threaddomain.Conversation, int64, error) {
	var out []*threaddomain.Conversation
	for _, conv := range r.convs {
		if conv.UserID == userID {
			copied := *conv
			out = append(out, &copied)
		}
	}
	return out, int64(len(out)), nil
}

type fakeMessageRepo struct {
	threads      map[string][]*maildomain.Message
	markedThread string
	markedConf   float64
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{threads: make(map[string][]*maildomain.Message)}
}

func (r *fakeMessageRepo) Upsert(msg *maildomain.Message) error                 { return nil }
func (r *fakeMessageRepo) UpdateLabels(userID, providerID, labels string) error { return nil }

func (r *fakeMessageRepo) FindByProviderID(userID, providerID string) (*maildomain.Message, error) {
	return nil, nil
}

func (r *fakeMessageRepo) FindByProviderIDs(userID string, providerIDs []string) ([]*maildomain.Message, error) {
	return nil, nil
}

func (r *fakeMessageRepo) FindUnprocessed(userID string, limit int) ([]*maildomain.Message, error) {
	return nil, nil
}

func (r *fakeMessageRepo) FindByThread(userID, threadID string) ([]*maildomain.Message, error) {
	return r.threads[threadID], nil
}

func (r *fakeMessageRepo) List(userID string, limit, offset int) ([]*maildomain.Message, int64, error) {
	return nil, 0, nil
}

func (r *fakeMessageRepo) ListRecent(userID string, limit int) ([]*maildomain.Message, error) {
	return nil, nil
}

func (r *fakeMessageRepo) Save(msg *maildomain.Message) error { return nil }

func (r *fakeMessageRepo) MarkThreadJobRelated(userID, threadID string, confidence float64) error {
	r.markedThread = threadID
	r.markedConf = confidence
	return nil
}

type fakeJobRepo struct {
	jobs    map[string]*jobdomain.JobApplication
	touched map[string]time.Time
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{
		jobs:    make(map[string]*jobdomain.JobApplication),
		touched: make(map[string]time.Time),
	}
}

func (r *fakeJobRepo) FindByID(userID, jobID string) (*jobdomain.JobApplication, error) {
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (r *fakeJobRepo) TouchActivity(userID, jobID string, at time.Time) error {
	r.touched[jobID] = at
	return nil
}

type fakeAnalyzer struct {
	analysis *classifier.ThreadAnalysis
	err      error
	calls    int
}

func (a *fakeAnalyzer) ClassifyEmail(ctx context.Context, sender, subject, snippet string) (*classifier.Result, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAnalyzer) AnalyzeThread(ctx context.Context, conversationText string) (*classifier.ThreadAnalysis, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return a.analysis, nil
}

func threadMessage(providerID string, receivedAt time.Time, outbound bool) *maildomain.Message {
	return &maildomain.Message{
		UserID:     "user-1",
		ProviderID: providerID,
		ThreadID:   "t1",
		Sender:     "recruiter@acme.com",
		Subject:    "Interview",
		Snippet:    "snippet",
		ReceivedAt: receivedAt,
		Outbound:   outbound,
	}
}

type correlatorFixture struct {
	convRepo *fakeConvRepo
	msgRepo  *fakeMessageRepo
	jobRepo  *fakeJobRepo
	analyzer *fakeAnalyzer
	limiter  *ratelimit.MemoryStore
	subject  ThreadCorrelator
}

func newFixture(limits ratelimit.Limits) *correlatorFixture {
	f := &correlatorFixture{
		convRepo: newFakeConvRepo(),
		msgRepo:  newFakeMessageRepo(),
		jobRepo:  newFakeJobRepo(),
		analyzer: &fakeAnalyzer{analysis: &classifier.ThreadAnalysis{Summary: "summary", Stage: "interview", RequiresResponse: true}},
		limiter:  ratelimit.NewMemoryStore(limits),
	}
	f.subject = NewThreadCorrelator(f.convRepo, f.msgRepo, f.jobRepo, f.limiter, f.analyzer)
	return f
}

func TestRefreshRequiresResponseWhenLastMessageInbound(t *testing.T) {
	f := newFixture(ratelimit.Limits{PerMinute: 10, PerDay: 10})
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	f.msgRepo.threads["t1"] = []*maildomain.Message{
		threadMessage("m1", base, false),
		threadMessage("m2", base.Add(time.Hour), false),
	}

	conv, err := f.subject.Refresh("user-1", "t1")
	require.NoError(t, err)

	assert.True(t, conv.RequiresResponse)
	assert.Equal(t, 2, conv.MessageCount)
	assert.Equal(t, base.Add(time.Hour), conv.LastMessageAt)
}

func TestRefreshClearsRequiresResponseAfterOutboundReply(t *testing.T) {
	f := newFixture(ratelimit.Limits{PerMinute: 10, PerDay: 10})
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	f.msgRepo.threads["t1"] = []*maildomain.Message{
		threadMessage("m1", base, false),
		threadMessage("m2", base.Add(time.Hour), true),
	}

	conv, err := f.subject.Refresh("user-1", "t1")
	require.NoError(t, err)
	assert.False(t, conv.RequiresResponse)
}

func TestRefreshPullsCompanyFromNewestClassifiedMessage(t *testing.T) {
	f := newFixture(ratelimit.Limits{PerMinute: 10, PerDay: 10})
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	older := threadMessage("m1", base, false)
	older.Company = "Globex"
	older.Role = "QA"
	newer := threadMessage("m2", base.Add(time.Hour), false)
	newer.Company = "Acme"
	newer.Role = "Backend Engineer"
	f.msgRepo.threads["t1"] = []*maildomain.Message{older, newer}

	conv, err := f.subject.Refresh("user-1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", conv.Company)
	assert.Equal(t, "Backend Engineer", conv.Role)
}

func TestRefreshUnknownThreadFails(t *testing.T) {
	f := newFixture(ratelimit.Limits{PerMinute: 10, PerDay: 10})

	_, err := f.subject.Refresh("user-1", "nope")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestMarkResponseSentClearsUntilNewInbound(t *testing.T) {
	f := newFixture(ratelimit.Limits{PerMinute: 10, PerDay: 10})
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	f.msgRepo.threads["t1"] = []*maildomain.Message{threadMessage("m1", base, false)}

	conv, err := f.subject.MarkResponseSent("user-1", "t1")
	require.NoError(t, err)
	assert.False(t, conv.RequiresResponse)
	require.NotNil(t, conv.RespondedAt)

	// Inbound mail newer than the mark flips it back on.
	f.msgRepo.threads["t1"] = append(f.msgRepo.threads["t1"],
		threadMessage("m2", time.Now().Add(time.Hour), false))

	conv, err = f.subject.Refresh("user-1", "t1")
	require.NoError(t, err)
	assert.True(t, conv.RequiresResponse)
}

func TestAnalyzeConversationCachesResult(t *testing.T) {
	f := newFixture(ratelimit.Limits{PerMinute: 10, PerDay: 10})
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	f.msgRepo.threads["t1"] = []*maildomain.Message{threadMessage("m1", base, false)}

	conv, err := f.subject.AnalyzeConversation(context.Background(), "user-1", "t1")
	require.NoError(t, err)

	assert.Equal(t, "summary", conv.AnalysisSummary)
	assert.Equal(t, "interview", conv.Stage)
	require.NotNil(t, conv.LastAnalyzedAt)

	stored, _ := f.convRepo.FindByThreadID("user-1", "t1")
	require.NotNil(t, stored)
	assert.Equal(t, "summary", stored.AnalysisSummary)
}

func TestAnalyzeConversationSharesClassifierQuota(t *testing.T) {
	f := newFixture(ratelimit.Limits{PerMinute: 1, PerDay: 10})
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	f.msgRepo.threads["t1"] = []*maildomain.Message{threadMessage("m1", base, false)}

	// Burn the single minute slot on the shared key.
	_, err := f.limiter.Acquire(context.Background(), "classifier")
	require.NoError(t, err)

	_, err = f.subject.AnalyzeConversation(context.Background(), "user-1", "t1")
	var rateErr *RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	assert.False(t, rateErr.ResetAt.IsZero())
	assert.Equal(t, 0, f.analyzer.calls)
}

func TestLinkJobOverridesClassification(t *testing.T) {
	f := newFixture(ratelimit.Limits{PerMinute: 10, PerDay: 10})
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	msg := threadMessage("m1", base, false)
	msg.Company = "Globex" // classifier got it wrong
	f.msgRepo.threads["t1"] = []*maildomain.Message{msg}
	f.jobRepo.jobs["job-1"] = &jobdomain.JobApplication{
		ID:      "job-1",
		UserID:  "user-1",
		Company: "Acme",
		Role:    "Backend Engineer",
	}

	conv, err := f.subject.LinkJob("user-1", "t1", "job-1")
	require.NoError(t, err)

	require.NotNil(t, conv.LinkedJobID)
	assert.Equal(t, "job-1", *conv.LinkedJobID)
	assert.Equal(t, "Acme", conv.Company)
	assert.Equal(t, "Backend Engineer", conv.Role)

	assert.Equal(t, "t1", f.msgRepo.markedThread)
	assert.Equal(t, 1.0, f.msgRepo.markedConf)
	assert.Equal(t, base, f.jobRepo.touched["job-1"])
}

func TestLinkJobDataSurvivesRefresh(t *testing.T) {
	f := newFixture(ratelimit.Limits{PerMinute: 10, PerDay: 10})
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	msg := threadMessage("m1", base, false)
	msg.Company = "Globex"
	f.msgRepo.threads["t1"] = []*maildomain.Message{msg}
	f.jobRepo.jobs["job-1"] = &jobdomain.JobApplication{ID: "job-1", UserID: "user-1", Company: "Acme", Role: "SRE"}

	_, err := f.subject.LinkJob("user-1", "t1", "job-1")
	require.NoError(t, err)

	conv, err := f.subject.Refresh("user-1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", conv.Company)
	assert.Equal(t, "SRE", conv.Role)
}

func TestLinkJobUnknownJobFails(t *testing.T) {
	f := newFixture(ratelimit.Limits{PerMinute: 10, PerDay: 10})
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	f.msgRepo.threads["t1"] = []*maildomain.Message{threadMessage("m1", base, false)}

	_, err := f.subject.LinkJob("user-1", "t1", "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Empty(t, f.msgRepo.markedThread)
}

func TestRenderConversationMarksDirectionAndTruncates(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	inbound := threadMessage("m1", base, false)
	outbound := threadMessage("m2", base.Add(time.Hour), true)
	long := threadMessage("m3", base.Add(2*time.Hour), false)
	long.Snippet = ""
	long.Body = string(make([]byte, 600))

	text := renderConversation([]*maildomain.Message{inbound, outbound, long})
	assert.Contains(t, text, "[INBOUND] 2025-03-10")
	assert.Contains(t, text, "[OUTBOUND] 2025-03-10")
	assert.Less(t, len(text), 1200)
}
