package domain

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// TokenUpdateFunc is a callback invoked when the provider client refreshes
// the access token mid-call, so the new token can be persisted.
type TokenUpdateFunc = func(token *oauth2.Token) error

// ErrStaleCursor means the provider no longer holds history for the
// requested position and a bounded fallback resync is required.
var ErrStaleCursor = errors.New("history cursor too old for provider")

// HistoryChange is one provider-reported mailbox change, in report order.
type HistoryChange struct {
	ProviderID   string
	MessageAdded bool
	LabelIDs     []string
}

// HistoryPage is the full set of changes since a cursor plus the newest
// history position after them.
type HistoryPage struct {
	Changes   []HistoryChange
	HistoryID uint64
}

// WatchResult is the provider's answer to a push-subscription registration.
type WatchResult struct {
	HistoryID uint64
	ExpiresAt time.Time
}

// MailProvider abstracts the provider mailbox API so the sync and watch
// usecases can be exercised against fakes.
type MailProvider interface {
	Watch(ctx context.Context, accessToken, refreshToken, topicName string, onTokenRefresh TokenUpdateFunc) (*WatchResult, error)
	StopWatch(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) error
	// ListHistory returns changes strictly after sinceHistoryID in
	// provider order. Returns ErrStaleCursor when the position is gone.
	ListHistory(ctx context.Context, accessToken, refreshToken string, sinceHistoryID uint64, onTokenRefresh TokenUpdateFunc) (*HistoryPage, error)
	// ListRecentMessages returns message IDs received within the lookback
	// window plus the mailbox's current history position.
	ListRecentMessages(ctx context.Context, accessToken, refreshToken string, lookbackDays int, onTokenRefresh TokenUpdateFunc) ([]string, uint64, error)
	GetMessage(ctx context.Context, accessToken, refreshToken, providerID string, onTokenRefresh TokenUpdateFunc) (*Message, error)
}
