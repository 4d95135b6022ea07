package domain

import "time"

// JobApplication carries only the fields the mail pipeline writes; the full
// job-record schema lives elsewhere.
type JobApplication struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	UserID         string    `json:"user_id" gorm:"index;not null"`
	Company        string    `json:"company"`
	Role           string    `json:"role"`
	Status         string    `json:"status"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
