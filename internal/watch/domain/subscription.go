package domain

import "time"

// Status of a user's push-notification subscription.
type Status string

const (
	StatusNotConfigured Status = "not_configured"
	StatusActive        Status = "active"
	StatusExpiringSoon  Status = "expiring_soon"
	StatusExpired       Status = "expired"
	StatusInactive      Status = "inactive"
)

// WatchSubscription is the provider-side push registration for a mailbox.
// At most one row per user has Active=true at any time.
type WatchSubscription struct {
	ID                   string    `json:"id" gorm:"primaryKey"`
	UserID               string    `json:"user_id" gorm:"index;not null"`
	Topic                string    `json:"topic"`
	HistoryCursorAtSetup uint64    `json:"history_cursor_at_setup"`
	ExpiresAt            time.Time `json:"expires_at"`
	RenewalCount         int       `json:"renewal_count"`
	Active               bool      `json:"active" gorm:"index"`
	LastError            string    `json:"last_error,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// StatusAt computes the subscription state relative to now. expiringSoon is
// the renewal threshold (how close to expiry still counts as healthy).
func (w *WatchSubscription) StatusAt(now time.Time, expiringSoon time.Duration) Status {
	if !w.Active {
		return StatusInactive
	}
	remaining := w.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return StatusExpired
	}
	if remaining < expiringSoon {
		return StatusExpiringSoon
	}
	return StatusActive
}
