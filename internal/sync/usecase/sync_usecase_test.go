package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	maildomain "jobtrail-backend/internal/mail/domain"
	syncdomain "jobtrail-backend/internal/syncstate/domain"
	syncrepo "jobtrail-backend/internal/syncstate/repository"
	vaultdomain "jobtrail-backend/internal/vault/domain"
	"jobtrail-backend/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*maildomain.Message
	applied  []string
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string]*maildomain.Message)}
}

func (r *fakeMessageRepo) key(userID, providerID string) string {
	return userID + "/" + providerID
}

func (r *fakeMessageRepo) Upsert(msg *maildomain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *msg
	r.messages[r.key(msg.UserID, msg.ProviderID)] = &copied
	r.applied = append(r.applied, msg.ProviderID)
	return nil
}

func (r *fakeMessageRepo) UpdateLabels(userID, providerID, labels string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[r.key(userID, providerID)]
	if !ok {
		return errors.New("message not found")
	}
	msg.Labels = labels
	return nil
}

func (r *fakeMessageRepo) FindByProviderID(userID, providerID string) (*maildomain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[r.key(userID, providerID)]
	if !ok {
		return nil, nil
	}
	copied := *msg
	return &copied, nil
}

func (r *fakeMessageRepo) FindByProviderIDs(userID string, providerIDs []string) ([]*maildomain.Message, error) {
	var out []*maildomain.Message
	for _, id := range providerIDs {
		msg, _ := r.FindByProviderID(userID, id)
		if msg != nil {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) FindUnprocessed(userID string, limit int) ([]*maildomain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*maildomain.Message
	for _, msg := range r.messages {
		if msg.UserID == userID && msg.ProcessingStatus == maildomain.StatusUnprocessed {
			copied := *msg
			out = append(out, &copied)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) FindByThread(userID, threadID string) ([]*maildomain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*maildomain.Message
	for _, msg := range r.messages {
		if msg.UserID == userID && msg.ThreadID == threadID {
			copied := *msg
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) List(userID string, limit, offset int) ([]*maildomain.Message, int64, error) {
	return nil, 0, nil
}

func (r *fakeMessageRepo) ListRecent(userID string, limit int) ([]*maildomain.Message, error) {
	return nil, nil
}

func (r *fakeMessageRepo) Save(msg *maildomain.Message) error {
	return r.Upsert(msg)
}

func (r *fakeMessageRepo) MarkThreadJobRelated(userID, threadID string, confidence float64) error {
	return nil
}

type fakeCursorRepo struct {
	mu      sync.Mutex
	cursors map[string]uint64
	resets  int
}

func newFakeCursorRepo() *fakeCursorRepo {
	return &fakeCursorRepo{cursors: make(map[string]uint64)}
}

func (r *fakeCursorRepo) Get(userID string) (*syncdomain.SyncCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.cursors[userID]
	if !ok {
		return nil, nil
	}
	return &syncdomain.SyncCursor{UserID: userID, HistoryID: id, Active: true}, nil
}

func (r *fakeCursorRepo) Seed(userID string, historyID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cursors[userID]; !ok {
		r.cursors[userID] = historyID
	}
	return nil
}

func (r *fakeCursorRepo) SetIfUnchanged(userID string, expected, next uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursors[userID] != expected {
		return syncrepo.ErrCursorConflict
	}
	r.cursors[userID] = next
	return nil
}

func (r *fakeCursorRepo) Reset(userID string, historyID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[userID] = historyID
	r.resets++
	return nil
}

type fakeVault struct {
	tokens *vaultdomain.TokenSet
	err    error
}

func (v *fakeVault) Store(userID string, token *oauth2.Token, scopes []string) error { return nil }

func (v *fakeVault) Get(userID string) (*vaultdomain.TokenSet, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.tokens, nil
}

func (v *fakeVault) EnsureFresh(ctx context.Context, userID string) (*vaultdomain.TokenSet, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.tokens, nil
}

func (v *fakeVault) Revoke(ctx context.Context, userID string) error { return nil }

func (v *fakeVault) OAuthConfig() *oauth2.Config { return &oauth2.Config{} }

type fakeProvider struct {
	mu           sync.Mutex
	historyPages map[uint64]*maildomain.HistoryPage
	historyErr   error
	historyGate  chan struct{}
	recentIDs    []string
	recentHID    uint64
	messages     map[string]*maildomain.Message
	getErrs      map[string]error
}

func (p *fakeProvider) Watch(ctx context.Context, accessToken, refreshToken, topicName string, onTokenRefresh maildomain.TokenUpdateFunc) (*maildomain.WatchResult, error) {
	return nil, errors.New("not implemented")
}

func (p *fakeProvider) StopWatch(ctx context.Context, accessToken, refreshToken string, onTokenRefresh maildomain.TokenUpdateFunc) error {
	return nil
}

func (p *fakeProvider) ListHistory(ctx context.Context, accessToken, refreshToken string, sinceHistoryID uint64, onTokenRefresh maildomain.TokenUpdateFunc) (*maildomain.HistoryPage, error) {
	if p.historyGate != nil {
		<-p.historyGate
	}
	if p.historyErr != nil {
		return nil, p.historyErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	page, ok := p.historyPages[sinceHistoryID]
	if !ok {
		return &maildomain.HistoryPage{HistoryID: sinceHistoryID}, nil
	}
	return page, nil
}

func (p *fakeProvider) ListRecentMessages(ctx context.Context, accessToken, refreshToken string, lookbackDays int, onTokenRefresh maildomain.TokenUpdateFunc) ([]string, uint64, error) {
	return p.recentIDs, p.recentHID, nil
}

func (p *fakeProvider) GetMessage(ctx context.Context, accessToken, refreshToken, providerID string, onTokenRefresh maildomain.TokenUpdateFunc) (*maildomain.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.getErrs[providerID]; ok {
		return nil, err
	}
	msg, ok := p.messages[providerID]
	if !ok {
		return nil, nil
	}
	copied := *msg
	return &copied, nil
}

func mkMessage(providerID, threadID string) *maildomain.Message {
	return &maildomain.Message{
		ProviderID: providerID,
		ThreadID:   threadID,
		Subject:    "subject " + providerID,
		ReceivedAt: time.Now(),
	}
}

func syncTestConfig() *config.Config {
	return &config.Config{SyncFallbackLookbackDays: 7}
}

func connectedVault() *fakeVault {
	return &fakeVault{tokens: &vaultdomain.TokenSet{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
}

func TestSyncAppliesChangesInOrderAndAdvancesCursor(t *testing.T) {
	msgRepo := newFakeMessageRepo()
	cursorRepo := newFakeCursorRepo()
	cursorRepo.cursors["user-1"] = 100

	provider := &fakeProvider{
		historyPages: map[uint64]*maildomain.HistoryPage{
			100: {
				HistoryID: 130,
				Changes: []maildomain.HistoryChange{
					{ProviderID: "m1", MessageAdded: true},
					{ProviderID: "m2", MessageAdded: true},
					{ProviderID: "m3", MessageAdded: true},
				},
			},
		},
		messages: map[string]*maildomain.Message{
			"m1": mkMessage("m1", "t1"),
			"m2": mkMessage("m2", "t1"),
			"m3": mkMessage("m3", "t2"),
		},
	}

	s := NewHistorySyncer(msgRepo, cursorRepo, connectedVault(), provider, syncTestConfig())
	result, err := s.Sync(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 0, result.Failed)
	assert.False(t, result.Fallback)
	assert.Equal(t, []string{"m1", "m2", "m3"}, msgRepo.applied)
	assert.Equal(t, uint64(130), cursorRepo.cursors["user-1"])
	assert.ElementsMatch(t, []string{"t1", "t2"}, result.ThreadIDs)

	// Mirrored messages start unprocessed for the classifier queue.
	stored, _ := msgRepo.FindByProviderID("user-1", "m1")
	require.NotNil(t, stored)
	assert.Equal(t, maildomain.StatusUnprocessed, stored.ProcessingStatus)
}

func TestSyncDoesNotAdvanceCursorOnPartialFailure(t *testing.T) {
	msgRepo := newFakeMessageRepo()
	cursorRepo := newFakeCursorRepo()
	cursorRepo.cursors["user-1"] = 100

	provider := &fakeProvider{
		historyPages: map[uint64]*maildomain.HistoryPage{
			100: {
				HistoryID: 130,
				Changes: []maildomain.HistoryChange{
					{ProviderID: "m1", MessageAdded: true},
					{ProviderID: "m2", MessageAdded: true},
					{ProviderID: "m3", MessageAdded: true},
				},
			},
		},
		messages: map[string]*maildomain.Message{
			"m1": mkMessage("m1", "t1"),
			"m3": mkMessage("m3", "t2"),
		},
		getErrs: map[string]error{"m2": errors.New("transient fetch failure")},
	}

	s := NewHistorySyncer(msgRepo, cursorRepo, connectedVault(), provider, syncTestConfig())
	result, err := s.Sync(context.Background(), "user-1")
	require.Error(t, err)
	require.NotNil(t, result)

	// The batch aborts at the failure, keeping provider order, and the
	// cursor stays put so a retry redelivers everything.
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"m1"}, msgRepo.applied)
	assert.Equal(t, uint64(100), cursorRepo.cursors["user-1"])
}

func TestSyncRetryAfterFailureIsIdempotent(t *testing.T) {
	msgRepo := newFakeMessageRepo()
	cursorRepo := newFakeCursorRepo()
	cursorRepo.cursors["user-1"] = 100

	provider := &fakeProvider{
		historyPages: map[uint64]*maildomain.HistoryPage{
			100: {
				HistoryID: 120,
				Changes: []maildomain.HistoryChange{
					{ProviderID: "m1", MessageAdded: true},
					{ProviderID: "m2", MessageAdded: true},
				},
			},
		},
		messages: map[string]*maildomain.Message{
			"m1": mkMessage("m1", "t1"),
		},
		getErrs: map[string]error{"m2": errors.New("boom")},
	}

	s := NewHistorySyncer(msgRepo, cursorRepo, connectedVault(), provider, syncTestConfig())
	_, err := s.Sync(context.Background(), "user-1")
	require.Error(t, err)

	// Heal the provider and retry: m1 is redelivered and upserted again
	// with identical data, m2 now lands.
	provider.mu.Lock()
	delete(provider.getErrs, "m2")
	provider.messages["m2"] = mkMessage("m2", "t1")
	provider.mu.Unlock()

	result, err := s.Sync(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, uint64(120), cursorRepo.cursors["user-1"])

	// 1 apply from the first run + 2 from the retry; the mirror still
	// holds exactly one row per message.
	assert.Len(t, msgRepo.applied, 3)
	assert.Len(t, msgRepo.messages, 2)
}

func TestSyncStaleCursorFallsBackAndResetsToNewest(t *testing.T) {
	msgRepo := newFakeMessageRepo()
	cursorRepo := newFakeCursorRepo()
	cursorRepo.cursors["user-1"] = 50

	provider := &fakeProvider{
		historyErr: maildomain.ErrStaleCursor,
		recentIDs:  []string{"old-1", "old-2"},
		recentHID:  900,
		messages: map[string]*maildomain.Message{
			"old-1": mkMessage("old-1", "t1"),
			"old-2": mkMessage("old-2", "t2"),
		},
	}

	s := NewHistorySyncer(msgRepo, cursorRepo, connectedVault(), provider, syncTestConfig())
	result, err := s.Sync(context.Background(), "user-1")
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.Equal(t, 2, result.Processed)
	// The cursor jumps to the newest fetched position, never partway.
	assert.Equal(t, uint64(900), cursorRepo.cursors["user-1"])
}

func TestSyncFallbackKeepsStaleCursorOnPartialFailure(t *testing.T) {
	msgRepo := newFakeMessageRepo()
	cursorRepo := newFakeCursorRepo()
	cursorRepo.cursors["user-1"] = 50

	provider := &fakeProvider{
		historyErr: maildomain.ErrStaleCursor,
		recentIDs:  []string{"old-1", "old-2"},
		recentHID:  900,
		messages: map[string]*maildomain.Message{
			"old-1": mkMessage("old-1", "t1"),
		},
		getErrs: map[string]error{"old-2": errors.New("fetch failed")},
	}

	s := NewHistorySyncer(msgRepo, cursorRepo, connectedVault(), provider, syncTestConfig())
	_, err := s.Sync(context.Background(), "user-1")
	require.Error(t, err)

	// An incomplete fallback must not move the cursor.
	assert.Equal(t, uint64(50), cursorRepo.cursors["user-1"])
}

func TestSyncBootstrapsWithoutCursor(t *testing.T) {
	msgRepo := newFakeMessageRepo()
	cursorRepo := newFakeCursorRepo()

	provider := &fakeProvider{
		recentIDs: []string{"m1"},
		recentHID: 777,
		messages: map[string]*maildomain.Message{
			"m1": mkMessage("m1", "t1"),
		},
	}

	s := NewHistorySyncer(msgRepo, cursorRepo, connectedVault(), provider, syncTestConfig())
	result, err := s.Sync(context.Background(), "user-1")
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.Equal(t, uint64(777), cursorRepo.cursors["user-1"])
}

func TestSyncSkipsMessagesDeletedAtProvider(t *testing.T) {
	msgRepo := newFakeMessageRepo()
	cursorRepo := newFakeCursorRepo()
	cursorRepo.cursors["user-1"] = 100

	provider := &fakeProvider{
		historyPages: map[uint64]*maildomain.HistoryPage{
			100: {
				HistoryID: 110,
				Changes: []maildomain.HistoryChange{
					{ProviderID: "gone", MessageAdded: true},
				},
			},
		},
		messages: map[string]*maildomain.Message{},
	}

	s := NewHistorySyncer(msgRepo, cursorRepo, connectedVault(), provider, syncTestConfig())
	result, err := s.Sync(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Empty(t, msgRepo.applied)
	assert.Equal(t, uint64(110), cursorRepo.cursors["user-1"])
}

func TestSyncLabelOnlyChangeUpdatesMirroredMessage(t *testing.T) {
	msgRepo := newFakeMessageRepo()
	existing := mkMessage("m1", "t1")
	existing.UserID = "user-1"
	existing.Labels = "INBOX"
	require.NoError(t, msgRepo.Upsert(existing))
	msgRepo.applied = nil

	cursorRepo := newFakeCursorRepo()
	cursorRepo.cursors["user-1"] = 100

	provider := &fakeProvider{
		historyPages: map[uint64]*maildomain.HistoryPage{
			100: {
				HistoryID: 105,
				Changes: []maildomain.HistoryChange{
					{ProviderID: "m1", MessageAdded: false, LabelIDs: []string{"INBOX", "IMPORTANT"}},
				},
			},
		},
	}

	s := NewHistorySyncer(msgRepo, cursorRepo, connectedVault(), provider, syncTestConfig())
	result, err := s.Sync(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	// Labels updated in place, no refetch.
	assert.Empty(t, msgRepo.applied)
	stored, _ := msgRepo.FindByProviderID("user-1", "m1")
	assert.Equal(t, "INBOX,IMPORTANT", stored.Labels)
}

func TestConcurrentSyncSecondTriggerRejected(t *testing.T) {
	msgRepo := newFakeMessageRepo()
	cursorRepo := newFakeCursorRepo()
	cursorRepo.cursors["user-1"] = 100

	gate := make(chan struct{})
	provider := &fakeProvider{
		historyGate:  gate,
		historyPages: map[uint64]*maildomain.HistoryPage{},
	}

	s := NewHistorySyncer(msgRepo, cursorRepo, connectedVault(), provider, syncTestConfig())

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.Sync(context.Background(), "user-1")
		firstDone <- err
	}()

	// Wait until the first sync holds the slot (blocked inside ListHistory).
	require.Eventually(t, func() bool {
		_, err := s.Sync(context.Background(), "user-1")
		return errors.Is(err, ErrSyncInProgress)
	}, time.Second, 5*time.Millisecond)

	close(gate)
	require.NoError(t, <-firstDone)

	// The slot frees after completion.
	_, err := s.Sync(context.Background(), "user-1")
	require.NoError(t, err)
}

func TestSyncDifferentUsersRunIndependently(t *testing.T) {
	msgRepo := newFakeMessageRepo()
	cursorRepo := newFakeCursorRepo()
	cursorRepo.cursors["user-1"] = 100
	cursorRepo.cursors["user-2"] = 200

	gate := make(chan struct{})
	provider := &fakeProvider{
		historyGate:  gate,
		historyPages: map[uint64]*maildomain.HistoryPage{},
	}

	s := NewHistorySyncer(msgRepo, cursorRepo, connectedVault(), provider, syncTestConfig())

	results := make(chan error, 2)
	go func() {
		_, err := s.Sync(context.Background(), "user-1")
		results <- err
	}()
	go func() {
		_, err := s.Sync(context.Background(), "user-2")
		results <- err
	}()

	close(gate)
	require.NoError(t, <-results)
	require.NoError(t, <-results)
}

func TestSyncMessagesIsolatesFailuresAndKeepsCursor(t *testing.T) {
	msgRepo := newFakeMessageRepo()
	cursorRepo := newFakeCursorRepo()
	cursorRepo.cursors["user-1"] = 100

	provider := &fakeProvider{
		messages: map[string]*maildomain.Message{
			"m1": mkMessage("m1", "t1"),
			"m3": mkMessage("m3", "t2"),
		},
		getErrs: map[string]error{"m2": errors.New("fetch failed")},
	}

	s := NewHistorySyncer(msgRepo, cursorRepo, connectedVault(), provider, syncTestConfig())
	result, err := s.SyncMessages(context.Background(), "user-1", []string{"m1", "m2", "m3"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "m2", result.Errors[0].ProviderID)

	// Targeted re-fetch never moves the incremental cursor.
	assert.Equal(t, uint64(100), cursorRepo.cursors["user-1"])
}

func TestSyncRequiresConnection(t *testing.T) {
	s := NewHistorySyncer(newFakeMessageRepo(), newFakeCursorRepo(), &fakeVault{err: vaultdomain.ErrNotConnected}, &fakeProvider{}, syncTestConfig())

	_, err := s.Sync(context.Background(), "user-1")
	assert.ErrorIs(t, err, vaultdomain.ErrNotConnected)
}
