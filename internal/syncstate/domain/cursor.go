package domain

import "time"

// SyncCursor marks the mailbox history position already applied for a user.
// HistoryID never decreases across successful applies; only an explicit
// fallback resync may reset it.
type SyncCursor struct {
	UserID       string    `json:"user_id" gorm:"primaryKey"`
	HistoryID    uint64    `json:"history_id"`
	LastSyncTime time.Time `json:"last_sync_time"`
	Active       bool      `json:"active" gorm:"default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
