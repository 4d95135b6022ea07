package usecase

import (
	"context"
	"fmt"
	"log"
	"time"

	maildomain "jobtrail-backend/internal/mail/domain"
	syncrepo "jobtrail-backend/internal/syncstate/repository"
	vaultUsecase "jobtrail-backend/internal/vault/usecase"
	watchdomain "jobtrail-backend/internal/watch/domain"
	"jobtrail-backend/internal/watch/repository"
	"jobtrail-backend/pkg/config"

	"golang.org/x/oauth2"
)

// StatusReport is the operator-facing view of a user's watch state.
type StatusReport struct {
	Status           watchdomain.Status `json:"status"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	HoursUntilExpiry float64            `json:"hours_until_expiry"`
	NeedsRenewal     bool               `json:"needs_renewal"`
	RenewalCount     int                `json:"renewal_count"`
	LastError        string             `json:"last_error,omitempty"`
}

// WatchManager owns the push-subscription lifecycle for connected mailboxes.
type WatchManager interface {
	Status(userID string) (*StatusReport, error)
	// SetupWatch registers a new provider subscription, persists it, and
	// seeds the sync cursor if absent.
	SetupWatch(ctx context.Context, userID string) (*StatusReport, error)
	// RenewWatch re-registers before expiration. A no-op when the current
	// subscription is still comfortably fresh.
	RenewWatch(ctx context.Context, userID string) (*StatusReport, error)
	// StopWatch marks the subscription inactive. Idempotent; history and
	// cursors are kept.
	StopWatch(ctx context.Context, userID string) error
	// RenewExpiring renews every subscription inside the renewal buffer.
	// Called by the scheduler; per-user failures are recorded, not fatal.
	RenewExpiring(ctx context.Context)
}

type watchManager struct {
	subRepo    repository.SubscriptionRepository
	cursorRepo syncrepo.CursorRepository
	vault      vaultUsecase.TokenVault
	provider   maildomain.MailProvider
	config     *config.Config
	topic      string
	now        func() time.Time
}

func NewWatchManager(subRepo repository.SubscriptionRepository, cursorRepo syncrepo.CursorRepository, vault vaultUsecase.TokenVault, provider maildomain.MailProvider, cfg *config.Config) WatchManager {
	return &watchManager{
		subRepo:    subRepo,
		cursorRepo: cursorRepo,
		vault:      vault,
		provider:   provider,
		config:     cfg,
		topic:      cfg.GooglePubSubTopic,
		now:        time.Now,
	}
}

func (m *watchManager) Status(userID string) (*StatusReport, error) {
	sub, err := m.subRepo.FindActiveByUserID(userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &StatusReport{Status: watchdomain.StatusNotConfigured}, nil
	}
	return m.report(sub), nil
}

func (m *watchManager) report(sub *watchdomain.WatchSubscription) *StatusReport {
	now := m.now()
	status := sub.StatusAt(now, m.config.WatchRenewalThreshold)

	hours := sub.ExpiresAt.Sub(now).Hours()
	if hours < 0 {
		hours = 0
	}

	expiresAt := sub.ExpiresAt
	return &StatusReport{
		Status:           status,
		ExpiresAt:        &expiresAt,
		HoursUntilExpiry: hours,
		NeedsRenewal:     status == watchdomain.StatusExpiringSoon || status == watchdomain.StatusExpired,
		RenewalCount:     sub.RenewalCount,
		LastError:        sub.LastError,
	}
}

func (m *watchManager) SetupWatch(ctx context.Context, userID string) (*StatusReport, error) {
	return m.register(ctx, userID, 0)
}

func (m *watchManager) RenewWatch(ctx context.Context, userID string) (*StatusReport, error) {
	sub, err := m.subRepo.FindActiveByUserID(userID)
	if err != nil {
		return nil, err
	}

	if sub != nil && sub.StatusAt(m.now(), m.config.WatchRenewalThreshold) == watchdomain.StatusActive {
		// Still comfortably fresh, nothing to do.
		return m.report(sub), nil
	}

	renewals := 0
	if sub != nil {
		renewals = sub.RenewalCount + 1
	}
	return m.register(ctx, userID, renewals)
}

// register performs the provider registration shared by setup and renew.
func (m *watchManager) register(ctx context.Context, userID string, renewalCount int) (*StatusReport, error) {
	tokens, err := m.vault.EnsureFresh(ctx, userID)
	if err != nil {
		return nil, err
	}

	onTokenRefresh := m.vaultUpdateCallback(userID, tokens.Scopes)

	result, err := m.provider.Watch(ctx, tokens.AccessToken, tokens.RefreshToken, m.topic, onTokenRefresh)
	if err != nil {
		m.recordError(userID, err)
		// Registration failure is reported, not retried here; the
		// scheduler retries on its own cadence.
		return nil, fmt.Errorf("watch registration failed: %w", err)
	}

	sub := &watchdomain.WatchSubscription{
		UserID:               userID,
		Topic:                m.topic,
		HistoryCursorAtSetup: result.HistoryID,
		ExpiresAt:            result.ExpiresAt,
		RenewalCount:         renewalCount,
	}
	if err := m.subRepo.Replace(sub); err != nil {
		return nil, err
	}

	// Seed the cursor at the watch baseline so the first incremental sync
	// has a starting position. An existing cursor is left untouched to
	// preserve continuity across renewals.
	if err := m.cursorRepo.Seed(userID, result.HistoryID); err != nil {
		return nil, err
	}

	log.Printf("[Watch] Subscription registered for user %s, expires %s", userID, result.ExpiresAt.Format(time.RFC3339))
	return m.report(sub), nil
}

func (m *watchManager) recordError(userID string, watchErr error) {
	sub, err := m.subRepo.FindActiveByUserID(userID)
	if err != nil || sub == nil {
		return
	}
	sub.LastError = watchErr.Error()
	if err := m.subRepo.Update(sub); err != nil {
		log.Printf("[WARN] [Watch] Failed to record watch error for user %s: %v", userID, err)
	}
}

func (m *watchManager) StopWatch(ctx context.Context, userID string) error {
	sub, err := m.subRepo.FindActiveByUserID(userID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	tokens, err := m.vault.EnsureFresh(ctx, userID)
	if err == nil {
		if stopErr := m.provider.StopWatch(ctx, tokens.AccessToken, tokens.RefreshToken, m.vaultUpdateCallback(userID, tokens.Scopes)); stopErr != nil {
			log.Printf("[WARN] [Watch] Provider stop failed for user %s: %v", userID, stopErr)
		}
	}

	sub.Active = false
	return m.subRepo.Update(sub)
}

func (m *watchManager) RenewExpiring(ctx context.Context) {
	subs, err := m.subRepo.ListExpiringSoon(m.config.WatchRenewalThreshold)
	if err != nil {
		log.Printf("[ERROR] [Watch] Failed to list expiring subscriptions: %v", err)
		return
	}

	if len(subs) == 0 {
		return
	}
	log.Printf("[Watch] Renewing %d expiring subscriptions", len(subs))

	for _, sub := range subs {
		if _, err := m.RenewWatch(ctx, sub.UserID); err != nil {
			log.Printf("[ERROR] [Watch] Renewal failed for user %s: %v", sub.UserID, err)
		}
	}
}

func (m *watchManager) vaultUpdateCallback(userID string, scopes []string) maildomain.TokenUpdateFunc {
	return func(token *oauth2.Token) error {
		return m.vault.Store(userID, token, scopes)
	}
}
