package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	maildomain "jobtrail-backend/internal/mail/domain"
	mailrepo "jobtrail-backend/internal/mail/repository"
	syncrepo "jobtrail-backend/internal/syncstate/repository"
	vaultdomain "jobtrail-backend/internal/vault/domain"
	vaultUsecase "jobtrail-backend/internal/vault/usecase"
	"jobtrail-backend/pkg/config"

	"golang.org/x/oauth2"
)

// ErrSyncInProgress is returned when a sync is already running for the user.
// Callers coalesce or retry later; triggers are never queued.
var ErrSyncInProgress = errors.New("sync already in progress for user")

// ItemError reports a single message that could not be applied.
type ItemError struct {
	ProviderID string `json:"provider_id"`
	Error      string `json:"error"`
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Requested int         `json:"requested"`
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Fallback  bool        `json:"fallback"`
	HistoryID uint64      `json:"history_id"`
	ThreadIDs []string    `json:"thread_ids,omitempty"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// HistorySyncer pulls incremental mailbox changes and mirrors them locally.
type HistorySyncer interface {
	// Sync applies all provider history since the saved cursor. Exactly
	// one sync runs per user; concurrent triggers get ErrSyncInProgress.
	Sync(ctx context.Context, userID string) (*SyncResult, error)
	// SyncMessages mirrors an explicit set of provider message IDs
	// without touching the cursor. Per-item failures are collected.
	SyncMessages(ctx context.Context, userID string, providerIDs []string) (*SyncResult, error)
}

type historySyncer struct {
	msgRepo    mailrepo.MessageRepository
	cursorRepo syncrepo.CursorRepository
	vault      vaultUsecase.TokenVault
	provider   maildomain.MailProvider
	config     *config.Config

	busyMu sync.Mutex
	busy   map[string]bool
}

func NewHistorySyncer(msgRepo mailrepo.MessageRepository, cursorRepo syncrepo.CursorRepository, vault vaultUsecase.TokenVault, provider maildomain.MailProvider, cfg *config.Config) HistorySyncer {
	return &historySyncer{
		msgRepo:    msgRepo,
		cursorRepo: cursorRepo,
		vault:      vault,
		provider:   provider,
		config:     cfg,
		busy:       make(map[string]bool),
	}
}

// acquire marks the user as syncing, or fails if a sync is in flight.
func (s *historySyncer) acquire(userID string) error {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if s.busy[userID] {
		return ErrSyncInProgress
	}
	s.busy[userID] = true
	return nil
}

func (s *historySyncer) release(userID string) {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	delete(s.busy, userID)
}

func (s *historySyncer) Sync(ctx context.Context, userID string) (*SyncResult, error) {
	if err := s.acquire(userID); err != nil {
		return nil, err
	}
	defer s.release(userID)

	tokens, err := s.vault.EnsureFresh(ctx, userID)
	if err != nil {
		return nil, err
	}
	onTokenRefresh := s.vaultUpdateCallback(userID, tokens.Scopes)

	cursor, err := s.cursorRepo.Get(userID)
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		// No baseline yet (watch never set up): bootstrap via fallback.
		return s.fallbackResync(ctx, userID, tokens, 0, onTokenRefresh)
	}

	page, err := s.provider.ListHistory(ctx, tokens.AccessToken, tokens.RefreshToken, cursor.HistoryID, onTokenRefresh)
	if errors.Is(err, maildomain.ErrStaleCursor) {
		log.Printf("[Sync] Cursor %d too old for user %s, falling back to bounded resync", cursor.HistoryID, userID)
		return s.fallbackResync(ctx, userID, tokens, cursor.HistoryID, onTokenRefresh)
	}
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Requested: len(page.Changes), HistoryID: page.HistoryID}
	threads := make(map[string]struct{})

	// Changes are applied in provider-reported order. Any failure aborts
	// the batch before the cursor advances, so a retry redelivers the
	// whole batch (at-least-once).
	for _, change := range page.Changes {
		if err := s.applyChange(ctx, userID, tokens, change, threads, onTokenRefresh); err != nil {
			if errors.Is(err, vaultdomain.ErrReauthorizationRequired) {
				// Credentials revoked mid-sync: abort the remainder,
				// keep what was already applied.
				return nil, err
			}
			result.Failed++
			result.Errors = append(result.Errors, ItemError{ProviderID: change.ProviderID, Error: err.Error()})
			return result, fmt.Errorf("history apply failed at message %s: %w", change.ProviderID, err)
		}
		result.Processed++
	}

	if page.HistoryID > cursor.HistoryID {
		err := s.cursorRepo.SetIfUnchanged(userID, cursor.HistoryID, page.HistoryID)
		if errors.Is(err, syncrepo.ErrCursorConflict) {
			// A newer sync already advanced the cursor past us.
			log.Printf("[Sync] Cursor for user %s advanced concurrently, keeping newer position", userID)
		} else if err != nil {
			return nil, err
		}
	}

	result.ThreadIDs = keys(threads)
	return result, nil
}

// applyChange upserts one provider-reported change.
func (s *historySyncer) applyChange(ctx context.Context, userID string, tokens *vaultdomain.TokenSet, change maildomain.HistoryChange, threads map[string]struct{}, onTokenRefresh maildomain.TokenUpdateFunc) error {
	if !change.MessageAdded {
		existing, err := s.msgRepo.FindByProviderID(userID, change.ProviderID)
		if err != nil {
			return err
		}
		if existing != nil {
			threads[existing.ThreadID] = struct{}{}
			return s.msgRepo.UpdateLabels(userID, change.ProviderID, strings.Join(change.LabelIDs, ","))
		}
		// Label change for a message we never mirrored: fall through and
		// fetch it in full.
	}

	msg, err := s.provider.GetMessage(ctx, tokens.AccessToken, tokens.RefreshToken, change.ProviderID, onTokenRefresh)
	if err != nil {
		return err
	}
	if msg == nil {
		// Deleted at the provider before we could fetch it.
		return nil
	}

	msg.UserID = userID
	msg.ProcessingStatus = maildomain.StatusUnprocessed
	if err := s.msgRepo.Upsert(msg); err != nil {
		return err
	}
	threads[msg.ThreadID] = struct{}{}
	return nil
}

// fallbackResync lists messages within the configured lookback window and
// resets the cursor to the newest known position afterwards. This is the
// only path allowed to discontinue historyId continuity.
func (s *historySyncer) fallbackResync(ctx context.Context, userID string, tokens *vaultdomain.TokenSet, staleCursor uint64, onTokenRefresh maildomain.TokenUpdateFunc) (*SyncResult, error) {
	lookback := s.config.SyncFallbackLookbackDays

	ids, latestHistoryID, err := s.provider.ListRecentMessages(ctx, tokens.AccessToken, tokens.RefreshToken, lookback, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Requested: len(ids), Fallback: true, HistoryID: latestHistoryID}
	threads := make(map[string]struct{})

	for _, providerID := range ids {
		change := maildomain.HistoryChange{ProviderID: providerID, MessageAdded: true}
		if err := s.applyChange(ctx, userID, tokens, change, threads, onTokenRefresh); err != nil {
			if errors.Is(err, vaultdomain.ErrReauthorizationRequired) {
				return nil, err
			}
			result.Failed++
			result.Errors = append(result.Errors, ItemError{ProviderID: providerID, Error: err.Error()})
			return result, fmt.Errorf("fallback apply failed at message %s: %w", providerID, err)
		}
		result.Processed++
	}

	// Only a fully applied fallback may rewrite the cursor, and it jumps
	// to the newest fetched position, never partway.
	if staleCursor == 0 {
		if err := s.cursorRepo.Seed(userID, latestHistoryID); err != nil {
			return nil, err
		}
	}
	if err := s.cursorRepo.Reset(userID, latestHistoryID); err != nil {
		return nil, err
	}

	result.ThreadIDs = keys(threads)
	log.Printf("[Sync] Fallback resync for user %s applied %d messages (lookback %dd), cursor reset to %d", userID, result.Processed, lookback, latestHistoryID)
	return result, nil
}

func (s *historySyncer) SyncMessages(ctx context.Context, userID string, providerIDs []string) (*SyncResult, error) {
	if err := s.acquire(userID); err != nil {
		return nil, err
	}
	defer s.release(userID)

	tokens, err := s.vault.EnsureFresh(ctx, userID)
	if err != nil {
		return nil, err
	}
	onTokenRefresh := s.vaultUpdateCallback(userID, tokens.Scopes)

	result := &SyncResult{Requested: len(providerIDs)}
	threads := make(map[string]struct{})

	for _, providerID := range providerIDs {
		change := maildomain.HistoryChange{ProviderID: providerID, MessageAdded: true}
		if err := s.applyChange(ctx, userID, tokens, change, threads, onTokenRefresh); err != nil {
			if errors.Is(err, vaultdomain.ErrReauthorizationRequired) {
				return nil, err
			}
			// Explicit-ID sync is a repair tool: isolate per-item
			// failures instead of aborting.
			result.Failed++
			result.Errors = append(result.Errors, ItemError{ProviderID: providerID, Error: err.Error()})
			continue
		}
		result.Processed++
	}

	result.ThreadIDs = keys(threads)
	return result, nil
}

func (s *historySyncer) vaultUpdateCallback(userID string, scopes []string) maildomain.TokenUpdateFunc {
	return func(token *oauth2.Token) error {
		return s.vault.Store(userID, token, scopes)
	}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
